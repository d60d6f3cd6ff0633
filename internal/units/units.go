// Package units converts estimated speeds from m/s into the display units
// selected for the API and reports.
package units

import (
	"fmt"
	"slices"
	"strings"
)

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// Parse checks unit and returns it, or an error naming the valid units.
func Parse(unit string) (string, error) {
	if !IsValid(unit) {
		return "", fmt.Errorf("invalid units %q: must be one of %s", unit, strings.Join(ValidUnits, ", "))
	}
	return unit, nil
}

// ConvertSpeed converts a speed in m/s to targetUnits. Unknown units are
// treated as m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Label returns the human-readable suffix for unit.
func Label(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}
