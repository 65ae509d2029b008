package valuation

import (
	"errors"
	"fmt"
)

// Kind classifies a failed submission.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindGeocode
	KindPrediction
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGeocode:
		return "geocode"
	case KindPrediction:
		return "prediction"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Reason narrows a Kind down.
type Reason string

const (
	ReasonMissingFields      Reason = "missing_fields"
	ReasonBadNumericInput    Reason = "bad_numeric_input"
	ReasonOutOfRange         Reason = "out_of_range"
	ReasonAddressNotFound    Reason = "address_not_found"
	ReasonInvalidCoordinates Reason = "invalid_coordinates"
)

// Severity tags the user-visible notice.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// User-facing messages.
const (
	MessageMissingFields   = "Veuillez remplir tous les champs"
	MessageBadNumericInput = "Veuillez saisir des valeurs numériques valides"
	MessageAddressNotFound = "Impossible de géolocaliser cette adresse"
	MessageGeocodeFailed   = "Erreur lors de la géolocalisation"
	MessagePredictFailed   = "Erreur lors de la prédiction"
	MessageSuccess         = "Estimation calculée avec succès !"
)

// Error is the single error type returned by the orchestrator. Every error is
// terminal for the submission that produced it.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	// Transport is set when the collaborator could not be reached or
	// answered with a non-success status.
	Transport bool
	Err       error
}

// Sentinels for errors.Is. They match on Kind only.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrGeocode    = &Error{Kind: KindGeocode}
	ErrPrediction = &Error{Kind: KindPrediction}
	ErrNetwork    = &Error{Kind: KindNetwork}
)

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Reason != "" {
		msg += fmt.Sprintf(" (%s)", e.Reason)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by Kind and, when the target carries one, by Reason.
// A transport failure at any stage also matches ErrNetwork.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindNetwork && e.Transport {
		return true
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Severity is warning for local validation problems, error otherwise.
func (e *Error) Severity() Severity {
	if e.Kind == KindValidation {
		return SeverityWarning
	}
	return SeverityError
}

func validationError(reason Reason, message string, err error) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: message, Err: err}
}

// AsError extracts the orchestrator error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
