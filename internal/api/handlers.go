package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"estimo/server/internal/chart"
	"estimo/server/internal/metrics"
	"estimo/server/internal/models"
	"estimo/server/internal/prediction"
	"estimo/server/internal/valuation"
)

// Predictor is the in-process prediction service.
type Predictor interface {
	valuation.Predictor
	Ready() bool
	Features() []string
}

// Store serves the stored DVF sales.
type Store interface {
	PriceHistory(ctx context.Context, postalCode int, months int) ([]models.PricePoint, error)
	GetAreaStats(ctx context.Context, postalCode int) (models.AreaStats, error)
}

// Dependencies wires the handler. HistoryMonths is the default window of
// /price-history.
type Dependencies struct {
	Geocoder      valuation.Geocoder
	Predictor     Predictor
	Store         Store
	Metrics       *metrics.Metrics
	Plot          chart.PlotArea
	HistoryMonths int
}

type Handler struct {
	geocoder      valuation.Geocoder
	predictor     Predictor
	store         Store
	orchestrator  *valuation.Orchestrator
	metrics       *metrics.Metrics
	plot          chart.PlotArea
	historyMonths int
	logger        *logrus.Logger
}

// EstimateRequest is the body of POST /api/estimate: the form as typed.
type EstimateRequest struct {
	Address  models.AddressInput  `json:"address"`
	Property models.PropertyInput `json:"property"`
}

// EstimateResponse carries the estimate on success. On failure it carries
// the notice with the error's kind and reason.
type EstimateResponse struct {
	Success   bool                `json:"success"`
	Estimate  *valuation.Estimate `json:"estimate,omitempty"`
	Notice    valuation.Notice    `json:"notice"`
	Kind      string              `json:"kind,omitempty"`
	Reason    valuation.Reason    `json:"reason,omitempty"`
	Detail    string              `json:"detail,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

type PriceHistoryResponse struct {
	PostalCode   string              `json:"code_postal"`
	Months       int                 `json:"months"`
	PriceHistory []models.PricePoint `json:"price_history"`
	Stats        models.AreaStats    `json:"stats"`
	Chart        *chart.Geometry     `json:"chart,omitempty"`
}

var postalCodePattern = regexp.MustCompile(`^[0-9]{5}$`)

func NewHandler(deps Dependencies, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if deps.HistoryMonths <= 0 {
		deps.HistoryMonths = 12
	}

	return &Handler{
		geocoder:      deps.Geocoder,
		predictor:     deps.Predictor,
		store:         deps.Store,
		orchestrator:  valuation.NewOrchestrator(deps.Geocoder, deps.Predictor, deps.Plot, logger),
		metrics:       deps.Metrics,
		plot:          deps.Plot,
		historyMonths: deps.HistoryMonths,
		logger:        logger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"model_loaded":   h.predictor.Ready(),
		"features_count": len(h.predictor.Features()),
	})
}

func (h *Handler) Features(c *gin.Context) {
	if !h.predictor.Ready() {
		abortWithError(c, http.StatusInternalServerError, "Modèle non chargé")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"features": h.predictor.Features(),
	})
}

func (h *Handler) Geocode(c *gin.Context) {
	var req models.GeocodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid geocode request")
		abortWithError(c, http.StatusUnprocessableEntity, "Les champs rue et ville sont obligatoires")
		return
	}
	if req.Country == "" {
		req.Country = valuation.Country
	}

	res, err := h.geocoder.Geocode(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to geocode address")
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("Erreur lors de la géolocalisation: %v", err))
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Predict(c *gin.Context) {
	var req models.ValuationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid prediction request")
		abortWithError(c, http.StatusUnprocessableEntity, "Requête de prédiction invalide")
		return
	}

	res, err := h.predictor.Predict(c.Request.Context(), req)
	switch {
	case errors.Is(err, prediction.ErrModelUnavailable):
		abortWithError(c, http.StatusInternalServerError, "Modèle non disponible. Veuillez d'abord entraîner le modèle.")
		return
	case errors.Is(err, prediction.ErrInvalidRequest):
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to predict")
		abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("Erreur lors de la prédiction: %v", err))
		return
	}

	c.JSON(http.StatusOK, res)
}

// Estimate runs the whole form submission: validation, geocoding,
// prediction and chart layout.
func (h *Handler) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid estimate request")
		abortWithError(c, http.StatusBadRequest, "Corps de requête invalide")
		return
	}

	session := valuation.NewSession(h.orchestrator, 0, h.logger)
	if h.metrics != nil {
		session.Observe(h.metrics.StageObserver())
	}

	est, err := session.Submit(c.Request.Context(), req.Address, req.Property)
	if h.metrics != nil {
		h.metrics.ObserveEstimate(err)
	}

	if err != nil {
		resp := EstimateResponse{
			Notice:    session.Notice(),
			Detail:    session.Notice().Text,
			RequestID: c.GetString(requestIDKey),
		}
		status := http.StatusInternalServerError
		if e, ok := valuation.AsError(err); ok {
			resp.Kind = e.Kind.String()
			resp.Reason = e.Reason
			status = statusFor(e)
		}
		h.logger.WithError(err).WithField("request_id", resp.RequestID).Warn("Estimate failed")
		c.AbortWithStatusJSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, EstimateResponse{
		Success:  true,
		Estimate: est,
		Notice:   session.Notice(),
	})
}

func statusFor(e *valuation.Error) int {
	switch e.Kind {
	case valuation.KindValidation:
		return http.StatusUnprocessableEntity
	case valuation.KindGeocode:
		if e.Reason == valuation.ReasonAddressNotFound {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	case valuation.KindPrediction, valuation.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PriceHistory returns the monthly price per m² of a postal code together
// with its chart geometry.
func (h *Handler) PriceHistory(c *gin.Context) {
	postal := strings.TrimSpace(c.Param("postal_code"))
	if !postalCodePattern.MatchString(postal) {
		abortWithError(c, http.StatusBadRequest, "Le code postal doit contenir 5 chiffres")
		return
	}
	code, _ := strconv.Atoi(postal)

	months := h.historyMonths
	if raw := c.Query("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 120 {
			abortWithError(c, http.StatusBadRequest, "months doit être compris entre 1 et 120")
			return
		}
		months = n
	}

	ctx := c.Request.Context()
	history, err := h.store.PriceHistory(ctx, code, months)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get price history")
		abortWithError(c, http.StatusInternalServerError, "Impossible de charger l'historique des prix")
		return
	}
	stats, err := h.store.GetAreaStats(ctx, code)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get area stats")
		abortWithError(c, http.StatusInternalServerError, "Impossible de charger les statistiques du secteur")
		return
	}

	resp := PriceHistoryResponse{
		PostalCode:   postal,
		Months:       months,
		PriceHistory: history,
		Stats:        stats,
	}
	if resp.PriceHistory == nil {
		resp.PriceHistory = []models.PricePoint{}
	}
	if len(history) > 0 {
		geometry := chart.Layout(history, h.plot)
		resp.Chart = &geometry
	}

	c.JSON(http.StatusOK, resp)
}
