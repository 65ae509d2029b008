package valuation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"estimo/server/internal/chart"
	"estimo/server/internal/models"
	"estimo/server/internal/pricing"

	"github.com/sirupsen/logrus"
)

// Country is sent with every geocoding request.
const Country = "France"

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, req models.GeocodeRequest) (*models.GeocodeResult, error)
}

// Predictor estimates a property's value.
type Predictor interface {
	Predict(ctx context.Context, req models.ValuationRequest) (*models.ValuationResult, error)
}

// Detailer is implemented by collaborator errors that carry a human-readable
// message from the remote side.
type Detailer interface {
	Detail() string
}

// Estimate is the outcome of a successful submission.
type Estimate struct {
	Request models.ValuationRequest `json:"request"`
	Result  models.ValuationResult  `json:"result"`
	// Chart is nil when the predictor returned no price history.
	Chart *chart.Geometry `json:"chart,omitempty"`
}

// Orchestrator runs the validate → geocode → predict pipeline.
type Orchestrator struct {
	geocoder  Geocoder
	predictor Predictor
	plot      chart.PlotArea
	logger    *logrus.Logger
}

func NewOrchestrator(geocoder Geocoder, predictor Predictor, plot chart.PlotArea, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		geocoder:  geocoder,
		predictor: predictor,
		plot:      plot,
		logger:    logger,
	}
}

// Estimate validates the form, geocodes the address and asks for a
// prediction. observe, if non-nil, sees every state entered, ending with
// StateSucceeded or StateFailed. The returned error is always an *Error.
func (o *Orchestrator) Estimate(ctx context.Context, address models.AddressInput, property models.PropertyInput, observe Observer) (*Estimate, error) {
	if observe == nil {
		observe = func(State) {}
	}

	est, err := o.run(ctx, address, property, observe)
	if err != nil {
		observe(StateFailed)
		return nil, err
	}
	observe(StateSucceeded)
	return est, nil
}

func (o *Orchestrator) run(ctx context.Context, address models.AddressInput, property models.PropertyInput, observe Observer) (*Estimate, error) {
	observe(StateValidating)
	if err := Validate(address, property); err != nil {
		o.logger.WithError(err).Warn("Rejected estimate submission")
		return nil, err
	}

	log := o.logger.WithFields(logrus.Fields{
		"city":        address.City,
		"postal_code": address.PostalCode,
	})

	observe(StateGeocoding)
	geo, err := o.geocoder.Geocode(ctx, models.GeocodeRequest{
		HouseNumber: address.HouseNumber,
		Street:      address.Street,
		City:        address.City,
		Country:     Country,
	})
	if err != nil {
		log.WithError(err).Error("Geocoding request failed")
		return nil, &Error{
			Kind:      KindNetwork,
			Message:   messageFrom(err, MessageGeocodeFailed),
			Transport: true,
			Err:       err,
		}
	}
	if !geo.Success {
		log.Warn("Address not found")
		return nil, &Error{Kind: KindGeocode, Reason: ReasonAddressNotFound, Message: MessageAddressNotFound}
	}
	point, ok := geo.Point()
	if !ok || !finite(point.Lon()) || !finite(point.Lat()) {
		log.Warn("Geocoder returned unusable coordinates")
		return nil, &Error{Kind: KindGeocode, Reason: ReasonInvalidCoordinates, Message: MessageAddressNotFound}
	}

	req, err := BuildRequest(point.Lon(), point.Lat(), address, property)
	if err != nil {
		return nil, err
	}

	observe(StatePredicting)
	res, err := o.predictor.Predict(ctx, req)
	if err != nil {
		log.WithError(err).Error("Prediction request failed")
		return nil, &Error{
			Kind:      KindPrediction,
			Message:   messageFrom(err, MessagePredictFailed),
			Transport: true,
			Err:       err,
		}
	}
	if !res.Success {
		log.WithField("message", res.Message).Error("Predictor reported a failure")
		msg := res.Message
		if msg == "" {
			msg = MessagePredictFailed
		}
		return nil, &Error{Kind: KindPrediction, Message: msg}
	}

	est := &Estimate{Request: req, Result: *res}
	est.Result.PriceHistory = SortHistory(res.PriceHistory)
	if len(est.Result.PriceHistory) > 0 {
		g := chart.Layout(est.Result.PriceHistory, o.plot)
		est.Chart = &g
	}

	log.WithFields(logrus.Fields{
		"prediction":     res.PredictedPriceFormatted,
		"history_points": len(est.Result.PriceHistory),
	}).Info("Estimate completed")

	return est, nil
}

// Validate checks the six mandatory fields and their numeric domains. It never
// performs I/O.
func Validate(address models.AddressInput, property models.PropertyInput) error {
	required := []string{
		address.Street, address.City, address.PostalCode,
		property.PropertyTypeCode, property.RoomCount, property.SurfaceM2,
	}
	for _, field := range required {
		if strings.TrimSpace(field) == "" {
			return validationError(ReasonMissingFields, MessageMissingFields, nil)
		}
	}

	if _, err := parseForm(address, property); err != nil {
		return err
	}
	return nil
}

type form struct {
	postalCode   int
	propertyType models.PropertyType
	rooms        int
	surface      float64
}

func parseForm(address models.AddressInput, property models.PropertyInput) (form, error) {
	var f form

	postal := strings.TrimSpace(address.PostalCode)
	for _, r := range postal {
		if r < '0' || r > '9' {
			return f, validationError(ReasonBadNumericInput, MessageBadNumericInput, fmt.Errorf("postal code %q is not numeric", postal))
		}
	}
	if len(postal) != 5 {
		return f, validationError(ReasonOutOfRange, "Le code postal doit comporter 5 chiffres", nil)
	}
	f.postalCode, _ = strconv.Atoi(postal)

	code, err := strconv.Atoi(strings.TrimSpace(property.PropertyTypeCode))
	if err != nil {
		return f, validationError(ReasonBadNumericInput, MessageBadNumericInput, fmt.Errorf("property type: %w", err))
	}
	f.propertyType = models.PropertyType(code)
	if !f.propertyType.Valid() {
		return f, validationError(ReasonOutOfRange, "Type de local inconnu", nil)
	}

	f.rooms, err = strconv.Atoi(strings.TrimSpace(property.RoomCount))
	if err != nil {
		return f, validationError(ReasonBadNumericInput, MessageBadNumericInput, fmt.Errorf("room count: %w", err))
	}
	if f.rooms < 1 || f.rooms > 20 {
		return f, validationError(ReasonOutOfRange, "Le nombre de pièces doit être compris entre 1 et 20", nil)
	}

	f.surface, err = strconv.ParseFloat(strings.TrimSpace(property.SurfaceM2), 64)
	if err != nil || !finite(f.surface) {
		return f, validationError(ReasonBadNumericInput, MessageBadNumericInput, fmt.Errorf("surface %q is not a number", property.SurfaceM2))
	}
	if f.surface <= 0 {
		return f, validationError(ReasonOutOfRange, "La surface doit être strictement positive", nil)
	}

	if property.Renovation != "" && !pricing.ValidRenovation(property.Renovation) {
		return f, validationError(ReasonOutOfRange, "État de rénovation inconnu", nil)
	}

	return f, nil
}

// BuildRequest coerces the form into the prediction payload. Input that
// Validate accepted always converts.
func BuildRequest(longitude, latitude float64, address models.AddressInput, property models.PropertyInput) (models.ValuationRequest, error) {
	f, err := parseForm(address, property)
	if err != nil {
		if e, ok := AsError(err); ok && e.Reason == ReasonBadNumericInput {
			return models.ValuationRequest{}, e
		}
		return models.ValuationRequest{}, validationError(ReasonBadNumericInput, MessageBadNumericInput, err)
	}

	return models.ValuationRequest{
		Longitude:        longitude,
		Latitude:         latitude,
		PostalCode:       f.postalCode,
		PropertyTypeCode: int(f.propertyType),
		SurfaceM2:        f.surface,
		RoomCount:        f.rooms,
		Elevator:         property.Elevator,
		Renovation:       property.Renovation,
	}, nil
}

// SortHistory returns a copy of history sorted ascending by date, so the
// last element is the most recent month.
func SortHistory(history []models.PricePoint) []models.PricePoint {
	if len(history) == 0 {
		return nil
	}
	sorted := make([]models.PricePoint, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})
	return sorted
}

func messageFrom(err error, fallback string) string {
	var d Detailer
	if errors.As(err, &d) && d.Detail() != "" {
		return d.Detail()
	}
	return fallback
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
