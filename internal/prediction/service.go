// Package prediction turns a geocoded property into a priced valuation: it
// asks the scoring model for a raw price, applies the pricing adjustments
// and attaches the postal area's price history.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"

	"estimo/server/internal/models"
	"estimo/server/internal/pricing"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Features are the model inputs, in the order the model was trained with.
var Features = []string{
	"longitude",
	"latitude",
	"code_postal",
	"code_type_local",
	"lot1_surface_carrez",
	"nombre_pieces_principales",
}

var (
	ErrModelUnavailable = errors.New("Modèle non disponible")
	ErrInvalidRequest   = errors.New("invalid prediction request")
)

// Scorer returns the model's raw price for a property. Only Prediction is
// read from its answer.
type Scorer interface {
	Predict(ctx context.Context, req models.ValuationRequest) (*models.ValuationResult, error)
}

type HistoryStore interface {
	PriceHistory(ctx context.Context, postalCode int, months int) ([]models.PricePoint, error)
}

type Service struct {
	scorer  Scorer
	history HistoryStore
	months  int
	logger  *logrus.Logger
}

// NewService creates the prediction service. scorer may be nil when no model
// is configured, in which case Predict fails with ErrModelUnavailable. history
// may be nil to skip price history.
func NewService(scorer Scorer, history HistoryStore, months int, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		scorer:  scorer,
		history: history,
		months:  months,
		logger:  logger,
	}
}

// Ready reports whether a scoring model is configured.
func (s *Service) Ready() bool {
	return s.scorer != nil
}

func (s *Service) Features() []string {
	if !s.Ready() {
		return nil
	}
	out := make([]string, len(Features))
	copy(out, Features)
	return out
}

func validate(req models.ValuationRequest) error {
	switch {
	case math.IsNaN(req.Longitude) || math.IsNaN(req.Latitude) ||
		math.IsInf(req.Longitude, 0) || math.IsInf(req.Latitude, 0):
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidRequest)
	case req.PostalCode <= 0:
		return fmt.Errorf("%w: code_postal must be positive", ErrInvalidRequest)
	case !models.PropertyType(req.PropertyTypeCode).Valid():
		return fmt.Errorf("%w: unknown code_type_local %d", ErrInvalidRequest, req.PropertyTypeCode)
	case !(req.SurfaceM2 > 0):
		return fmt.Errorf("%w: lot1_surface_carrez must be positive", ErrInvalidRequest)
	case req.RoomCount <= 0:
		return fmt.Errorf("%w: nombre_pieces_principales must be positive", ErrInvalidRequest)
	case req.Renovation != "" && !pricing.ValidRenovation(req.Renovation):
		return fmt.Errorf("%w: unknown etat_renovation %q", ErrInvalidRequest, req.Renovation)
	}
	return nil
}

// Predict prices req. Adjustments are applied only when the request carries
// an elevator flag or a renovation state; a missing elevator flag then counts
// as "has an elevator".
func (s *Service) Predict(ctx context.Context, req models.ValuationRequest) (*models.ValuationResult, error) {
	if !s.Ready() {
		return nil, ErrModelUnavailable
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	features := req
	features.Elevator = nil
	features.Renovation = ""

	raw, err := s.scorer.Predict(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}

	price := raw.Prediction
	if !(price > 0) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("model returned an unusable price %v", price)
	}

	if req.Elevator != nil || req.Renovation != "" {
		elevator := req.Elevator == nil || *req.Elevator
		adjusted, err := pricing.Adjust(price, elevator, req.Renovation)
		if err != nil {
			return nil, fmt.Errorf("failed to adjust price: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"raw_price":       price,
			"adjusted_price":  adjusted,
			"elevator":        elevator,
			"etat_renovation": req.Renovation,
		}).Debug("Applied pricing adjustments")
		price = adjusted
	}

	result := &models.ValuationResult{
		Success:                 true,
		Prediction:              math.Round(price*100) / 100,
		PredictedPriceFormatted: FormatPrice(price),
		PricePerM2Formatted:     FormatPricePerM2(price / req.SurfaceM2),
		PostalCode:              fmt.Sprintf("%05d", req.PostalCode),
	}

	if s.history != nil && s.months > 0 {
		history, err := s.history.PriceHistory(ctx, req.PostalCode, s.months)
		if err != nil {
			// The valuation stands without its chart.
			s.logger.WithError(err).WithField("code_postal", req.PostalCode).Warn("Failed to load price history")
		} else {
			result.PriceHistory = history
		}
	}

	s.logger.WithFields(logrus.Fields{
		"code_postal": result.PostalCode,
		"prediction":  result.Prediction,
		"history":     len(result.PriceHistory),
	}).Info("Prediction computed")

	return result, nil
}

var printer = message.NewPrinter(language.English)

// FormatPrice renders a price as "1,234,567.89 €".
func FormatPrice(v float64) string {
	return printer.Sprintf("%.2f €", v)
}

// FormatPricePerM2 renders a price per square meter as "10,250.00 €/m²".
func FormatPricePerM2(v float64) string {
	return printer.Sprintf("%.2f €/m²", v)
}
