package models

import "github.com/paulmach/orb"

// PropertyType is the DVF "code_type_local" of a property.
type PropertyType int

const (
	PropertyTypeHouse       PropertyType = 1
	PropertyTypeApartment   PropertyType = 2
	PropertyTypeOutbuilding PropertyType = 3
	PropertyTypeCommercial  PropertyType = 4
)

// String returns the French label shown in the form.
func (t PropertyType) String() string {
	switch t {
	case PropertyTypeHouse:
		return "Maison"
	case PropertyTypeApartment:
		return "Appartement"
	case PropertyTypeOutbuilding:
		return "Dépendance"
	case PropertyTypeCommercial:
		return "Local industriel/commercial"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the four known codes.
func (t PropertyType) Valid() bool {
	return t >= PropertyTypeHouse && t <= PropertyTypeCommercial
}

// AddressInput is the address part of the form, as typed by the user.
type AddressInput struct {
	HouseNumber string `json:"numero"`
	Street      string `json:"rue"`
	City        string `json:"ville"`
	PostalCode  string `json:"code_postal"`
}

// PropertyInput holds the property characteristics as typed by the user.
// Numeric fields stay strings until the orchestrator coerces them.
type PropertyInput struct {
	PropertyTypeCode string `json:"code_type_local"`
	RoomCount        string `json:"nombre_pieces"`
	SurfaceM2        string `json:"surface"`

	// Optional pricing adjustments. Nil / empty means "not specified".
	Elevator   *bool  `json:"ascenseur,omitempty"`
	Renovation string `json:"etat_renovation,omitempty"`
}

// GeocodeRequest is the payload sent to the geocoding collaborator.
type GeocodeRequest struct {
	HouseNumber string `json:"numero"`
	Street      string `json:"rue" binding:"required"`
	City        string `json:"ville" binding:"required"`
	Country     string `json:"pays"`
}

// GeocodeResult is the geocoding collaborator's answer.
type GeocodeResult struct {
	Success   bool     `json:"success"`
	Longitude *float64 `json:"longitude,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Point returns the coordinates as an orb.Point (lon, lat). ok is false when
// either coordinate is missing.
func (r *GeocodeResult) Point() (p orb.Point, ok bool) {
	if r == nil || r.Longitude == nil || r.Latitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*r.Longitude, *r.Latitude}, true
}

// ValuationRequest is the payload sent to the prediction collaborator. It is
// built once, after validation and a successful geocode, and never mutated.
type ValuationRequest struct {
	Longitude        float64 `json:"longitude"`
	Latitude         float64 `json:"latitude"`
	PostalCode       int     `json:"code_postal"`
	PropertyTypeCode int     `json:"code_type_local"`
	SurfaceM2        float64 `json:"lot1_surface_carrez"`
	RoomCount        int     `json:"nombre_pieces_principales"`

	Elevator   *bool  `json:"ascenseur,omitempty"`
	Renovation string `json:"etat_renovation,omitempty"`
}

// PricePoint is one month of the postal area's price per m² history.
type PricePoint struct {
	Date       string  `json:"date"`
	PricePerM2 float64 `json:"prix_m2"`
}

// ValuationResult is the prediction collaborator's answer.
type ValuationResult struct {
	Success                 bool         `json:"success"`
	Prediction              float64      `json:"prediction,omitempty"`
	PredictedPriceFormatted string       `json:"prediction_formatted"`
	PricePerM2Formatted     string       `json:"prix_m2_formatted,omitempty"`
	PostalCode              string       `json:"code_postal"`
	PriceHistory            []PricePoint `json:"price_history,omitempty"`
	Message                 string       `json:"message,omitempty"`
}
