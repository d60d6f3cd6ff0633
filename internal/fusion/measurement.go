package fusion

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// SensorKind identifies which observation model a measurement uses.
type SensorKind uint8

const (
	SensorUnknown SensorKind = iota
	// SensorLidar reports Cartesian position (px, py); linear model.
	SensorLidar
	// SensorRadar reports (range, bearing, range-rate); nonlinear model.
	SensorRadar
)

// String returns the short name stored alongside estimates.
func (k SensorKind) String() string {
	switch k {
	case SensorLidar:
		return "lidar"
	case SensorRadar:
		return "radar"
	default:
		return "unknown"
	}
}

// Arity is the number of raw values a measurement of this kind carries.
func (k SensorKind) Arity() int {
	switch k {
	case SensorLidar:
		return 2
	case SensorRadar:
		return 3
	default:
		return 0
	}
}

// ParseSensorKind accepts the dataset tags "L"/"R" as well as the names
// returned by String, case-insensitively.
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l", "lidar", "laser":
		return SensorLidar, nil
	case "r", "radar":
		return SensorRadar, nil
	default:
		return SensorUnknown, fmt.Errorf("%w: unknown sensor kind %q", ErrMalformedMeasurement, s)
	}
}

// Measurement is a single timestamped observation from one sensor.
//
// LiDAR values are (px, py). Radar values are (range, bearing [rad],
// range-rate). Timestamp ticks are converted to seconds using
// Params.TimestampScale (microseconds by default).
type Measurement struct {
	Sensor    SensorKind
	Timestamp int64
	Values    []float64

	// ObjectID selects the filter inside a Bank. Empty selects DefaultObjectID.
	ObjectID string
}

// Validate checks arity and finiteness for the declared sensor kind.
func (m Measurement) Validate() error {
	want := m.Sensor.Arity()
	if want == 0 {
		return fmt.Errorf("%w: unknown sensor kind %d", ErrMalformedMeasurement, m.Sensor)
	}
	if len(m.Values) != want {
		return fmt.Errorf("%w: %s measurement needs %d values, got %d", ErrMalformedMeasurement, m.Sensor, want, len(m.Values))
	}
	for i, v := range m.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s value %d is %v", ErrMalformedMeasurement, m.Sensor, i, v)
		}
	}
	if m.Sensor == SensorRadar && m.Values[0] < 0 {
		return fmt.Errorf("%w: negative radar range %v", ErrMalformedMeasurement, m.Values[0])
	}
	return nil
}

// Vector returns the raw values as a column vector.
func (m Measurement) Vector() *mat.VecDense {
	return mat.NewVecDense(len(m.Values), append([]float64(nil), m.Values...))
}

// State is the filter state [x, y, vx, vy] in the fixed Cartesian frame.
type State struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// StateDim is the length of the state vector.
const StateDim = 4

// StateFromVector copies the first four entries of v.
func StateFromVector(v mat.Vector) State {
	return State{X: v.AtVec(0), Y: v.AtVec(1), VX: v.AtVec(2), VY: v.AtVec(3)}
}

// Vector returns the state as a 4-vector.
func (s State) Vector() *mat.VecDense {
	return mat.NewVecDense(StateDim, []float64{s.X, s.Y, s.VX, s.VY})
}

// Slice returns the state as [x, y, vx, vy].
func (s State) Slice() []float64 {
	return []float64{s.X, s.Y, s.VX, s.VY}
}

// Speed is the magnitude of the velocity component in m/s.
func (s State) Speed() float64 {
	return math.Hypot(s.VX, s.VY)
}

// Heading is the direction of travel in radians, in (−π, π].
func (s State) Heading() float64 {
	return math.Atan2(s.VY, s.VX)
}

// IsFinite reports whether every component is neither NaN nor ±Inf.
func (s State) IsFinite() bool {
	for _, v := range s.Slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
