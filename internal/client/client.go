// Package client talks to the geocode and predict collaborators over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"estimo/server/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	GeocodePath = "/geocode"
	PredictPath = "/predict"

	maxErrorBody = 64 << 10
)

// StatusError is returned when a collaborator answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.detail != "" {
		msg += ": " + e.detail
	}
	return msg
}

// Detail returns the human-readable message the collaborator put in the
// "detail" field of its error payload, if any.
func (e *StatusError) Detail() string { return e.detail }

// Client is a JSON client for both collaborators. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// New creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8000/api".
func New(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Geocode resolves an address. A result with Success=false is not an error.
func (c *Client) Geocode(ctx context.Context, req models.GeocodeRequest) (*models.GeocodeResult, error) {
	var res models.GeocodeResult
	if err := c.post(ctx, GeocodePath, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Predict asks for a valuation.
func (c *Client) Predict(ctx context.Context, req models.ValuationRequest) (*models.ValuationResult, error) {
	var res models.ValuationResult
	if err := c.post(ctx, PredictPath, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"url":         url,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Collaborator responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     http.MethodPost,
			URL:        url,
			StatusCode: resp.StatusCode,
			detail:     extractDetail(raw),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", url, err)
	}
	return nil
}

// extractDetail pulls a string "detail" out of an error payload. Structured
// details (e.g. validation error lists) are ignored.
func extractDetail(raw []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err != nil {
		return ""
	}
	return detail
}
