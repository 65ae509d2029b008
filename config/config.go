package config

import (
	"fmt"
	"time"

	"estimo/server/internal/chart"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	Server struct {
		// Address the API server listens on
		Addr string `env:"SERVER_ADDR" envDefault:":8000"`

		// Origins allowed to call the API from a browser
		AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`

		LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	}

	Database struct {
		// Path of the SQLite file holding sales and the geocode cache
		Path string `env:"DATABASE_PATH" envDefault:"database/estimo.db"`
	}

	Geocoder struct {
		// Nominatim search endpoint
		URL string `env:"NOMINATIM_URL" envDefault:"https://nominatim.openstreetmap.org/search"`

		UserAgent string `env:"NOMINATIM_USER_AGENT" envDefault:"RealEstate_Price_App/1.0"`

		// Minimum delay between two Nominatim requests
		Interval time.Duration `env:"NOMINATIM_INTERVAL" envDefault:"1s"`

		Timeout time.Duration `env:"NOMINATIM_TIMEOUT" envDefault:"10s"`

		// Number of addresses kept in the in-memory cache
		CacheSize int `env:"GEOCODE_CACHE_SIZE" envDefault:"1024"`
	}

	Model struct {
		// Base URL of the scoring service; empty disables predictions
		URL string `env:"MODEL_URL"`

		Timeout time.Duration `env:"MODEL_TIMEOUT" envDefault:"10s"`

		// Number of months of price history returned with a prediction
		HistoryMonths int `env:"PRICE_HISTORY_MONTHS" envDefault:"12"`
	}

	Collaborators struct {
		// Base URL of the API exposing /geocode and /predict, used by the CLI
		URL string `env:"API_URL" envDefault:"http://localhost:8000/api"`

		Timeout time.Duration `env:"API_TIMEOUT" envDefault:"30s"`
	}

	Session struct {
		// How long a success notice stays visible
		DismissAfter time.Duration `env:"SUCCESS_DISMISS_AFTER" envDefault:"5s"`
	}

	Chart chart.PlotArea `envPrefix:"CHART_"`

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of sales to accumulate before processing
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"500"`

		// Number of batches the import queue can buffer
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"16"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries
		RetryDelay time.Duration `env:"BATCH_RETRY_DELAY" envDefault:"5s"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.BatchProcessing.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_MAX_SIZE must be positive, got %d", cfg.BatchProcessing.MaxBatchSize)
	}
	if cfg.Chart.Width <= 0 || cfg.Chart.Height <= 0 {
		return nil, fmt.Errorf("chart plot area must have a positive size")
	}
	return cfg, nil
}
