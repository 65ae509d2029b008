package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"estimo/server/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	return &Database{db: db, logger: logger}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

type monthlyPrice struct {
	Month      string  `gorm:"column:month"`
	PricePerM2 float64 `gorm:"column:price_per_m2"`
}

// PriceHistory returns the mean price per m² of each month with sales in
// postalCode, limited to the most recent months and sorted oldest first.
// Dates are the first day of the month ("2024-01-01").
func (d *Database) PriceHistory(ctx context.Context, postalCode int, months int) ([]models.PricePoint, error) {
	query := `
		SELECT
			strftime('%Y-%m', mutation_date) || '-01' AS month,
			AVG(price / surface_m2) AS price_per_m2
		FROM sales
		WHERE postal_code = ?
		  AND surface_m2 > 0
		  AND price > 0
		GROUP BY month
		ORDER BY month DESC
		LIMIT ?
	`
	var rows []monthlyPrice
	if err := d.db.WithContext(ctx).Raw(query, postalCode, months).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}

	history := make([]models.PricePoint, len(rows))
	for i, row := range rows {
		history[len(rows)-1-i] = models.PricePoint{
			Date:       row.Month,
			PricePerM2: math.Round(row.PricePerM2*100) / 100,
		}
	}
	return history, nil
}

// GetAreaStats summarizes every stored sale of a postal code.
func (d *Database) GetAreaStats(ctx context.Context, postalCode int) (models.AreaStats, error) {
	query := `
		SELECT
			COUNT(*) AS sale_count,
			COALESCE(AVG(price), 0) AS average_price,
			COALESCE(AVG(CASE WHEN surface_m2 > 0 THEN price / surface_m2 END), 0) AS avg_price_per_m2,
			COALESCE(strftime('%Y-%m-%d', MAX(mutation_date)), '') AS latest_mutation
		FROM sales
		WHERE postal_code = ?
	`
	var stats models.AreaStats
	row := d.db.WithContext(ctx).Raw(query, postalCode).Row()
	if err := row.Scan(&stats.SaleCount, &stats.AveragePrice, &stats.AvgPricePerM2, &stats.LatestMutation); err != nil {
		return stats, fmt.Errorf("failed to query area stats: %w", err)
	}
	stats.PostalCode = postalCode
	return stats, nil
}

// UpsertSales inserts sales, skipping mutations already stored. It takes a
// *gorm.DB so callers can run it inside a transaction.
func UpsertSales(tx *gorm.DB, sales []*models.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mutation_id"}},
		DoNothing: true,
	}).CreateInBatches(sales, 100).Error
}

// CountSales returns the number of stored sales.
func (d *Database) CountSales(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&models.Sale{}).Count(&n).Error
	return n, err
}

// GetGeocode returns the cached answer for key, or nil when there is none.
func (d *Database) GetGeocode(ctx context.Context, key string) (*models.GeocodeCacheEntry, error) {
	var entry models.GeocodeCacheEntry
	err := d.db.WithContext(ctx).Where("address_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode cache: %w", err)
	}
	return &entry, nil
}

// SaveGeocode stores or replaces the cached answer for entry.AddressKey.
func (d *Database) SaveGeocode(ctx context.Context, entry *models.GeocodeCacheEntry) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"found", "longitude", "latitude", "created_at"}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return nil
}
