package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estimo/server/config"
	"estimo/server/internal/api"
	"estimo/server/internal/client"
	"estimo/server/internal/database"
	"estimo/server/internal/geocoding"
	"estimo/server/internal/metrics"
	"estimo/server/internal/prediction"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Server.LogLevel).Warn("Unknown log level, using info")
	}
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Infof("Using database at: %s", cfg.Database.Path)
	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	geocoder, err := geocoding.NewGeocoder(geocoding.Options{
		URL:       cfg.Geocoder.URL,
		UserAgent: cfg.Geocoder.UserAgent,
		Interval:  cfg.Geocoder.Interval,
		Timeout:   cfg.Geocoder.Timeout,
		CacheSize: cfg.Geocoder.CacheSize,
	}, db, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize geocoder")
	}

	var scorer prediction.Scorer
	if cfg.Model.URL != "" {
		scorer = client.New(cfg.Model.URL, cfg.Model.Timeout, logger)
	} else {
		logger.Warn("MODEL_URL is not set, predictions are disabled")
	}
	predictor := prediction.NewService(scorer, db, cfg.Model.HistoryMonths, logger)

	m := metrics.New()
	handler := api.NewHandler(api.Dependencies{
		Geocoder:      geocoder,
		Predictor:     predictor,
		Store:         db,
		Metrics:       m,
		Plot:          cfg.Chart,
		HistoryMonths: cfg.Model.HistoryMonths,
	}, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins, m, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
}
