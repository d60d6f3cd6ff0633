package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultMinRangeSquared is the squared distance from the sensor origin
// (metres²) below which the radar model is treated as degenerate.
const DefaultMinRangeSquared = 1e-4

// RadarDim is the length of a radar measurement vector.
const RadarDim = 3

// Linearizer computes the local linear approximation of the radar
// observation function h(x) = (ρ, φ, ρ̇).
type Linearizer struct {
	// MinRangeSquared is the degeneracy threshold on x²+y². Zero or negative
	// selects DefaultMinRangeSquared.
	MinRangeSquared float64
}

func (l Linearizer) minRangeSquared() float64 {
	if l.MinRangeSquared > 0 {
		return l.MinRangeSquared
	}
	return DefaultMinRangeSquared
}

// Jacobian returns the 3×4 Jacobian of h evaluated at s:
//
//	[ x/ρ                 y/ρ                 0    0   ]
//	[ -y/ρ²               x/ρ²                0    0   ]
//	[ y(vx·y − vy·x)/ρ³   x(vy·x − vx·y)/ρ³   x/ρ  y/ρ ]
//
// It returns ErrDegenerateLinearization, and no matrix, when x²+y² is below
// the threshold or any entry would be non-finite.
func (l Linearizer) Jacobian(s State) (*mat.Dense, error) {
	c1 := s.X*s.X + s.Y*s.Y
	if !(c1 >= l.minRangeSquared()) {
		return nil, ErrDegenerateLinearization
	}
	c2 := math.Sqrt(c1)
	c3 := c1 * c2

	h := mat.NewDense(RadarDim, StateDim, []float64{
		s.X / c2, s.Y / c2, 0, 0,
		-s.Y / c1, s.X / c1, 0, 0,
		s.Y * (s.VX*s.Y - s.VY*s.X) / c3, s.X * (s.VY*s.X - s.VX*s.Y) / c3, s.X / c2, s.Y / c2,
	})
	for _, v := range h.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrDegenerateLinearization
		}
	}
	return h, nil
}

// Measure applies the nonlinear radar observation function to s. The
// range-rate denominator is floored at sqrt(MinRangeSquared) so a state at
// the origin yields a finite prediction.
func (l Linearizer) Measure(s State) *mat.VecDense {
	rho := math.Hypot(s.X, s.Y)
	phi := math.Atan2(s.Y, s.X)
	denom := math.Max(rho, math.Sqrt(l.minRangeSquared()))
	rhoDot := (s.X*s.VX + s.Y*s.VY) / denom
	return mat.NewVecDense(RadarDim, []float64{rho, phi, rhoDot})
}

// RadarJacobian is Linearizer{}.Jacobian with the default threshold.
func RadarJacobian(s State) (*mat.Dense, error) {
	return Linearizer{}.Jacobian(s)
}

// RadarMeasurement is Linearizer{}.Measure with the default threshold.
func RadarMeasurement(s State) *mat.VecDense {
	return Linearizer{}.Measure(s)
}

// PolarToState converts a radar (range, bearing) pair into a position-only
// state. Range-rate alone does not determine Cartesian velocity, so the
// velocity components are zero.
func PolarToState(rho, phi float64) State {
	return State{X: rho * math.Cos(phi), Y: rho * math.Sin(phi)}
}

// NormalizeAngle maps a into (−π, π].
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	a = math.Remainder(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
