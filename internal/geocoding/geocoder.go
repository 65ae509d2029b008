package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"estimo/server/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mozillazg/go-unidecode"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// MetropolitanFrance roughly covers mainland France and Corsica. Addresses
// outside it are still returned (overseas departments exist in DVF) but logged.
var MetropolitanFrance = orb.Bound{
	Min: orb.Point{-5.5, 41.0},
	Max: orb.Point{10.0, 51.5},
}

// Store persists geocoding answers across restarts.
type Store interface {
	GetGeocode(ctx context.Context, key string) (*models.GeocodeCacheEntry, error)
	SaveGeocode(ctx context.Context, entry *models.GeocodeCacheEntry) error
}

type Options struct {
	URL       string
	UserAgent string
	// Interval is the minimum delay between two upstream requests.
	Interval  time.Duration
	Timeout   time.Duration
	CacheSize int
}

// Geocoder resolves French addresses with Nominatim. Answers are cached in
// memory and, when a Store is given, in the database.
type Geocoder struct {
	opts   Options
	store  Store
	cache  *lru.Cache[string, models.GeocodeCacheEntry]
	client *http.Client
	logger *logrus.Logger

	mu   sync.Mutex
	last time.Time
}

func NewGeocoder(opts Options, store Store, logger *logrus.Logger) (*Geocoder, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1
	}
	cache, err := lru.New[string, models.GeocodeCacheEntry](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocode cache: %w", err)
	}

	return &Geocoder{
		opts:   opts,
		store:  store,
		cache:  cache,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}, nil
}

// Key normalizes an address so that case, accents and spacing differences
// share a cache entry: "13, Rue  Lassón" and "13 rue lasson" are the same.
func Key(req models.GeocodeRequest) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{req.HouseNumber + " " + req.Street, req.City, req.Country} {
		p = strings.ToLower(unidecode.Unidecode(p))
		p = strings.Map(func(r rune) rune {
			if r == ',' || r == '.' {
				return ' '
			}
			return r
		}, p)
		parts = append(parts, strings.Join(strings.Fields(p), " "))
	}
	return strings.Join(parts, "|")
}

// Query builds the free-form Nominatim query: the non-empty parts joined by
// ", ".
func Query(req models.GeocodeRequest) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{req.HouseNumber, req.Street, req.City, req.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Geocode resolves req. An address Nominatim does not know yields
// Success=false and a nil error; only transport and decoding failures are
// errors.
func (g *Geocoder) Geocode(ctx context.Context, req models.GeocodeRequest) (*models.GeocodeResult, error) {
	query := Query(req)
	if query == "" {
		return nil, fmt.Errorf("empty address")
	}
	key := Key(req)

	if entry, ok := g.cache.Get(key); ok {
		g.logger.WithField("address", query).Debug("Found coordinates in memory cache")
		return resultFrom(entry), nil
	}

	if g.store != nil {
		entry, err := g.store.GetGeocode(ctx, key)
		if err != nil {
			g.logger.WithError(err).Warn("Geocode cache lookup failed")
		} else if entry != nil {
			g.logger.WithField("address", query).Debug("Found coordinates in database cache")
			g.cache.Add(key, *entry)
			return resultFrom(*entry), nil
		}
	}

	entry, err := g.lookup(ctx, query)
	if err != nil {
		return nil, err
	}
	entry.AddressKey = key

	g.cache.Add(key, entry)
	if g.store != nil {
		if err := g.store.SaveGeocode(ctx, &entry); err != nil {
			g.logger.WithError(err).Warn("Failed to persist geocode result")
		}
	}

	return resultFrom(entry), nil
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *Geocoder) lookup(ctx context.Context, query string) (models.GeocodeCacheEntry, error) {
	var entry models.GeocodeCacheEntry

	if err := g.wait(ctx); err != nil {
		return entry, err
	}

	params := url.Values{
		"q":            []string{query},
		"format":       []string{"json"},
		"limit":        []string{"1"},
		"countrycodes": []string{"fr"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.URL, nil)
	if err != nil {
		return entry, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", g.opts.UserAgent)
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.5")

	g.logger.WithField("address", query).Info("Geocoding address with Nominatim")

	resp, err := g.client.Do(req)
	if err != nil {
		return entry, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entry, fmt.Errorf("geocoding request failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return entry, fmt.Errorf("failed to read response: %w", err)
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return entry, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result) == 0 {
		g.logger.WithField("address", query).Warn("No results found")
		return entry, nil
	}

	lon, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return entry, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}
	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return entry, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}

	fields := logrus.Fields{
		"address":   query,
		"longitude": lon,
		"latitude":  lat,
	}
	if !MetropolitanFrance.Contains(orb.Point{lon, lat}) {
		g.logger.WithFields(fields).Warn("Geocoded address lies outside metropolitan France")
	} else {
		g.logger.WithFields(fields).Info("Successfully geocoded address")
	}

	entry.Found = true
	entry.Longitude = lon
	entry.Latitude = lat
	return entry, nil
}

// wait blocks until Interval has elapsed since the previous upstream request.
func (g *Geocoder) wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d := g.opts.Interval - time.Since(g.last); d > 0 && !g.last.IsZero() {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.last = time.Now()
	return nil
}

func resultFrom(entry models.GeocodeCacheEntry) *models.GeocodeResult {
	if !entry.Found {
		return &models.GeocodeResult{Success: false, Message: "Adresse non trouvée"}
	}
	lon, lat := entry.Longitude, entry.Latitude
	return &models.GeocodeResult{
		Success:   true,
		Longitude: &lon,
		Latitude:  &lat,
	}
}
