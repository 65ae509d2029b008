// Package pricing applies post-model corrections to a predicted price.
//
// Both corrections follow a logistic curve around a pivot price: cheaper
// properties are affected more than expensive ones.
package pricing

import (
	"fmt"
	"math"
)

// Renovation states accepted by Adjust.
const (
	RenovationFull     = "tout_a_refaire"
	RenovationRefresh  = "rafraichissement"
	RenovationStandard = "standard"
	RenovationNew      = "refait_a_neuf"
)

// RenovationStates lists every valid renovation state.
var RenovationStates = []string{
	RenovationFull,
	RenovationRefresh,
	RenovationStandard,
	RenovationNew,
}

type curve struct {
	amplitude float64
	floor     float64
}

var renovationCurves = map[string]curve{
	RenovationFull:     {amplitude: -0.18, floor: -0.05},
	RenovationRefresh:  {amplitude: -0.10, floor: -0.03},
	RenovationStandard: {amplitude: 0, floor: 0},
	RenovationNew:      {amplitude: 0.12, floor: 0.04},
}

const (
	elevatorFloor     = 0.025
	elevatorAmplitude = 0.095
	elevatorPivot     = 550_000
	elevatorSteepness = 1.7

	renovationPivot     = 600_000
	renovationSteepness = 1.6
)

// ValidRenovation reports whether state is a known renovation state.
func ValidRenovation(state string) bool {
	_, ok := renovationCurves[state]
	return ok
}

// ApplyElevator discounts price when the building has no elevator.
func ApplyElevator(price float64, elevator bool) float64 {
	if elevator {
		return price
	}
	penalty := elevatorFloor + elevatorAmplitude/(1+math.Pow(price/elevatorPivot, elevatorSteepness))
	return price * (1 - penalty)
}

// ApplyRenovation moves price up or down depending on the property's state.
func ApplyRenovation(price float64, state string) (float64, error) {
	c, ok := renovationCurves[state]
	if !ok {
		return 0, fmt.Errorf("unknown renovation state %q", state)
	}
	delta := c.floor + c.amplitude/(1+math.Pow(price/renovationPivot, renovationSteepness))
	return price * (1 + delta), nil
}

// Adjust applies the elevator then the renovation correction. An empty state
// means standard.
func Adjust(price float64, elevator bool, state string) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("model price must be strictly positive, got %v", price)
	}
	if state == "" {
		state = RenovationStandard
	}
	return ApplyRenovation(ApplyElevator(price, elevator), state)
}
