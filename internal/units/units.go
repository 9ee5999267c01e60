// Package units provides shared constants and conversions for speeds and
// vehicle densities. The simulator stores speeds in km/h.
package units

// Unit constants
const (
	KPH = "kph"
	MPH = "mph"
	MPS = "mps"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{KPH, MPH, MPS}

// MetersPerMile links the metric segment model to the vehicles-per-mile
// density bands of the level-of-service table.
const MetersPerMile = 1609.344

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from km/h to the target units.
func ConvertSpeed(speedKph float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedKph * 1000 / MetersPerMile
	case MPS:
		return speedKph / 3.6
	case KPH:
		return speedKph
	default:
		return speedKph // default to km/h if unknown unit
	}
}

// VehiclesPerMile normalises an effective vehicle count observed over
// lengthM meters of road to a vehicles-per-mile density.
func VehiclesPerMile(effectiveVehicles, lengthM float64) float64 {
	return effectiveVehicles * MetersPerMile / lengthM
}
