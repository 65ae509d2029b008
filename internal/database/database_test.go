package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"estimo/server/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "estimo.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations())
	return db
}

func sale(id string, date string, postal int, price, surface float64) *models.Sale {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return &models.Sale{
		MutationID:       id,
		MutationDate:     d,
		Price:            price,
		PostalCode:       postal,
		PropertyTypeCode: 2,
		SurfaceM2:        surface,
		RoomCount:        2,
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.RunMigrations())
}

func TestUpsertSales_SkipsDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := []*models.Sale{
		sale("2024-1", "2024-01-10", 75008, 450000, 45),
		sale("2024-2", "2024-01-20", 75008, 500000, 50),
	}
	require.NoError(t, UpsertSales(db.GetDB(), batch))
	require.NoError(t, UpsertSales(db.GetDB(), []*models.Sale{
		sale("2024-2", "2024-01-20", 75008, 999999, 50),
		sale("2024-3", "2024-02-03", 75008, 300000, 30),
	}))
	require.NoError(t, UpsertSales(db.GetDB(), nil))

	n, err := db.CountSales(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPriceHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, UpsertSales(db.GetDB(), []*models.Sale{
		sale("a", "2024-01-10", 75008, 400000, 40), // 10000
		sale("b", "2024-01-25", 75008, 480000, 40), // 12000
		sale("c", "2024-03-02", 75008, 330000, 30), // 11000
		sale("d", "2024-02-14", 75008, 270000, 30), // 9000
		sale("e", "2024-02-14", 69003, 100000, 50), // other postal code
		sale("f", "2024-02-15", 75008, 100000, 0),  // no surface
	}))

	history, err := db.PriceHistory(ctx, 75008, 12)
	require.NoError(t, err)

	assert.Equal(t, []models.PricePoint{
		{Date: "2024-01-01", PricePerM2: 11000},
		{Date: "2024-02-01", PricePerM2: 9000},
		{Date: "2024-03-01", PricePerM2: 11000},
	}, history)
}

func TestPriceHistory_KeepsMostRecentMonths(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var sales []*models.Sale
	for m := 1; m <= 12; m++ {
		sales = append(sales, sale(fmt.Sprintf("2023-%d", m), fmt.Sprintf("2023-%02d-15", m), 13001, float64(m)*1000, 1))
	}
	sales = append(sales, sale("2024-1", "2024-01-15", 13001, 13000, 1))
	sales = append(sales, sale("2024-2", "2024-02-15", 13001, 14000, 1))
	require.NoError(t, UpsertSales(db.GetDB(), sales))

	history, err := db.PriceHistory(ctx, 13001, 12)
	require.NoError(t, err)

	require.Len(t, history, 12)
	assert.Equal(t, "2023-03-01", history[0].Date)
	assert.Equal(t, "2024-02-01", history[11].Date)
	assert.Equal(t, 14000.0, history[11].PricePerM2)
}

func TestPriceHistory_Empty(t *testing.T) {
	db := setupTestDB(t)

	history, err := db.PriceHistory(context.Background(), 75001, 12)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetAreaStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, UpsertSales(db.GetDB(), []*models.Sale{
		sale("a", "2024-01-10", 75008, 400000, 40),
		sale("b", "2024-03-25", 75008, 600000, 40),
	}))

	stats, err := db.GetAreaStats(ctx, 75008)
	require.NoError(t, err)
	assert.Equal(t, 75008, stats.PostalCode)
	assert.Equal(t, 2, stats.SaleCount)
	assert.InDelta(t, 500000, stats.AveragePrice, 1e-6)
	assert.InDelta(t, 12500, stats.AvgPricePerM2, 1e-6)
	assert.Equal(t, "2024-03-25", stats.LatestMutation)

	empty, err := db.GetAreaStats(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.SaleCount)
	assert.Equal(t, "", empty.LatestMutation)
}

func TestGeocodeCache(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry, err := db.GetGeocode(ctx, "13 rue lasson|paris|france")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, db.SaveGeocode(ctx, &models.GeocodeCacheEntry{
		AddressKey: "13 rue lasson|paris|france",
		Found:      true,
		Longitude:  2.41,
		Latitude:   48.84,
	}))
	require.NoError(t, db.SaveGeocode(ctx, &models.GeocodeCacheEntry{
		AddressKey: "13 rue lasson|paris|france",
		Found:      true,
		Longitude:  2.42,
		Latitude:   48.85,
	}))

	entry, err = db.GetGeocode(ctx, "13 rue lasson|paris|france")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Found)
	assert.Equal(t, 2.42, entry.Longitude)
	assert.Equal(t, 48.85, entry.Latitude)
}
