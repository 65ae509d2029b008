package models

import "time"

// Sale is one DVF ("demandes de valeurs foncières") transaction.
type Sale struct {
	ID               int64     `json:"id" gorm:"primaryKey"`
	MutationID       string    `json:"mutation_id" gorm:"uniqueIndex;not null"`
	MutationDate     time.Time `json:"mutation_date" gorm:"index"`
	Price            float64   `json:"valeur_fonciere"`
	PostalCode       int       `json:"code_postal" gorm:"index"`
	PropertyTypeCode int       `json:"code_type_local"`
	SurfaceM2        float64   `json:"lot1_surface_carrez"`
	RoomCount        int       `json:"nombre_pieces_principales"`
	Longitude        float64   `json:"longitude"`
	Latitude         float64   `json:"latitude"`
	CreatedAt        time.Time `json:"created_at"`
}

// PricePerM2 returns the sale's price per square meter, or 0 without a surface.
func (s *Sale) PricePerM2() float64 {
	if s.SurfaceM2 <= 0 {
		return 0
	}
	return s.Price / s.SurfaceM2
}

// GeocodeCacheEntry persists a geocoding answer under a normalized address key.
type GeocodeCacheEntry struct {
	ID         int64     `gorm:"primaryKey"`
	AddressKey string    `gorm:"uniqueIndex;not null"`
	Found      bool      `gorm:"not null"`
	Longitude  float64
	Latitude   float64
	CreatedAt  time.Time
}

// AreaStats summarizes stored sales for one postal code.
type AreaStats struct {
	PostalCode     int     `json:"code_postal"`
	SaleCount      int     `json:"sale_count"`
	AveragePrice   float64 `json:"average_price"`
	AvgPricePerM2  float64 `json:"avg_price_per_m2"`
	LatestMutation string  `json:"latest_mutation"`
}
