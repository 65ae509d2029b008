package database

import "estimo/server/internal/models"

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&models.Sale{}, &models.GeocodeCacheEntry{}); err != nil {
		return err
	}

	// Price history groups a postal code's sales by month
	return d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sales_postal_date
		ON sales(postal_code, mutation_date);
	`).Error
}
