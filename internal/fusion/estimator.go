package fusion

import (
	"fmt"
	"math"

	"github.com/banshee-data/sensorfusion/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// DefaultMaxInnovationCond is the largest condition number of the innovation
// covariance S that an update will invert.
const DefaultMaxInnovationCond = 1e12

// ProcessNoise holds the acceleration noise intensities (m²/s⁴) per axis.
type ProcessNoise struct {
	AX float64
	AY float64
}

// LinearModel is a fixed linear observation model z = H·x + v, v ~ N(0, R).
type LinearModel struct {
	H *mat.Dense    // m×4
	R *mat.SymDense // m×m
}

// UpdateResult describes one measurement update.
type UpdateResult struct {
	// Innovation is z − h(x) (bearing already normalised for radar).
	Innovation []float64
	// NIS is the normalised innovation squared yᵀ·S⁻¹·y.
	NIS float64
}

// Estimator owns the state vector, covariance, transition model and process
// noise of one constant-velocity Kalman filter. It is not safe for
// concurrent use; each tracked object owns its own Estimator.
type Estimator struct {
	x  *mat.VecDense // state [x, y, vx, vy]
	p  *mat.SymDense // state covariance
	f  *mat.Dense    // transition F(Δt)
	q  *mat.SymDense // process noise Q(Δt)
	dt float64

	// MaxInnovationCond bounds the condition number of S. Zero or negative
	// selects DefaultMaxInnovationCond.
	MaxInnovationCond float64
	// Linearizer supplies the nonlinear radar prediction for UpdateEKF.
	Linearizer Linearizer
}

// NewEstimator creates an Estimator at state x0 with covariance p0. F starts
// as the identity and Q as zero, so Predict before SetElapsed is a no-op.
func NewEstimator(x0 State, p0 mat.Symmetric) (*Estimator, error) {
	if n := p0.SymmetricDim(); n != StateDim {
		return nil, fmt.Errorf("%w: initial covariance is %dx%d, want %dx%d", ErrDimension, n, n, StateDim, StateDim)
	}
	if !linalg.AllFinite(p0) || !linalg.IsPositiveSemidefinite(p0, 0) {
		return nil, ErrInvalidCovariance
	}
	if !x0.IsFinite() {
		return nil, fmt.Errorf("%w: initial state %+v", ErrNonFinite, x0)
	}
	p := mat.NewSymDense(StateDim, nil)
	p.CopySym(p0)
	e := &Estimator{
		x: x0.Vector(),
		p: p,
		f: transition(0),
		q: mat.NewSymDense(StateDim, nil),
	}
	return e, nil
}

// transition returns the constant-velocity transition matrix for dt.
func transition(dt float64) *mat.Dense {
	return mat.NewDense(StateDim, StateDim, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// processNoise returns the discrete white-noise-acceleration covariance for
// dt. It is the zero matrix when dt is zero.
func processNoise(dt float64, n ProcessNoise) *mat.SymDense {
	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	return mat.NewSymDense(StateDim, []float64{
		dt4 / 4 * n.AX, 0, dt3 / 2 * n.AX, 0,
		0, dt4 / 4 * n.AY, 0, dt3 / 2 * n.AY,
		dt3 / 2 * n.AX, 0, dt2 * n.AX, 0,
		0, dt3 / 2 * n.AY, 0, dt2 * n.AY,
	})
}

// SetElapsed refreshes the transition and process noise matrices for an
// elapsed time of dt seconds. Negative or non-finite dt is clamped to zero.
func (e *Estimator) SetElapsed(dt float64, noise ProcessNoise) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		dt = 0
	}
	e.dt = dt
	e.f = transition(dt)
	e.q = processNoise(dt, noise)
}

// Elapsed returns the Δt installed by the last SetElapsed call.
func (e *Estimator) Elapsed() float64 {
	return e.dt
}

// Predict propagates the state and covariance forward using the installed
// transition and process noise: x ← F·x, P ← F·P·Fᵀ + Q.
func (e *Estimator) Predict() {
	var x mat.VecDense
	x.MulVec(e.f, e.x)
	e.x.CopyVec(&x)

	var fp, fpft mat.Dense
	fp.Mul(e.f, e.p)
	fpft.Mul(&fp, e.f.T())
	fpft.Add(&fpft, e.q)
	e.p = linalg.Symmetrize(&fpft)
}

// Update applies a linear measurement update with the given model.
// On error the state and covariance are unchanged.
func (e *Estimator) Update(z mat.Vector, model LinearModel) (UpdateResult, error) {
	if err := checkModel(z, model.H, model.R); err != nil {
		return UpdateResult{}, err
	}
	var hx, y mat.VecDense
	hx.MulVec(model.H, e.x)
	y.SubVec(z, &hx)
	return e.correct(&y, model.H, model.R)
}

// UpdateEKF applies an extended Kalman update for the radar model. hj is the
// Jacobian evaluated at the current (pre-update) state and r the radar noise
// covariance. The predicted measurement is h(x), not hj·x, and the bearing
// innovation is normalised into (−π, π]. On error the state and covariance
// are unchanged.
func (e *Estimator) UpdateEKF(z mat.Vector, hj mat.Matrix, r mat.Symmetric) (UpdateResult, error) {
	if err := checkModel(z, hj, r); err != nil {
		return UpdateResult{}, err
	}
	if z.Len() != RadarDim {
		return UpdateResult{}, fmt.Errorf("%w: radar measurement has %d values, want %d", ErrDimension, z.Len(), RadarDim)
	}
	var y mat.VecDense
	y.SubVec(z, e.Linearizer.Measure(e.State()))
	y.SetVec(1, NormalizeAngle(y.AtVec(1)))
	return e.correct(&y, hj, r)
}

func checkModel(z mat.Vector, h mat.Matrix, r mat.Symmetric) error {
	hr, hc := h.Dims()
	if hc != StateDim {
		return fmt.Errorf("%w: observation matrix has %d columns, want %d", ErrDimension, hc, StateDim)
	}
	if z.Len() != hr {
		return fmt.Errorf("%w: measurement has %d values, observation matrix has %d rows", ErrDimension, z.Len(), hr)
	}
	if r.SymmetricDim() != hr {
		return fmt.Errorf("%w: noise is %dx%d, want %dx%d", ErrDimension, r.SymmetricDim(), r.SymmetricDim(), hr, hr)
	}
	return nil
}

// correct applies the shared gain/covariance algebra for innovation y:
//
//	S = H·P·Hᵀ + R
//	K = P·Hᵀ·S⁻¹
//	x ← x + K·y
//	P ← (I − K·H)·P
func (e *Estimator) correct(y *mat.VecDense, h mat.Matrix, r mat.Symmetric) (UpdateResult, error) {
	m := y.Len()

	var pht, hpht mat.Dense
	pht.Mul(e.p, h.T())
	hpht.Mul(h, &pht)
	hpht.Add(&hpht, r)
	s := linalg.Symmetrize(&hpht)

	if !linalg.AllFinite(s) {
		return UpdateResult{}, ErrSingularInnovation
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return UpdateResult{}, ErrSingularInnovation
	}
	maxCond := e.MaxInnovationCond
	if maxCond <= 0 {
		maxCond = DefaultMaxInnovationCond
	}
	if c := chol.Cond(); !(c <= maxCond) {
		return UpdateResult{}, fmt.Errorf("%w: condition number %.3g", ErrSingularInnovation, c)
	}

	// S is symmetric, so Kᵀ = S⁻¹·(P·Hᵀ)ᵀ.
	var kt mat.Dense
	if err := chol.SolveTo(&kt, pht.T()); err != nil {
		return UpdateResult{}, fmt.Errorf("%w: %v", ErrSingularInnovation, err)
	}
	k := kt.T()

	var sy mat.VecDense
	if err := chol.SolveVecTo(&sy, y); err != nil {
		return UpdateResult{}, fmt.Errorf("%w: %v", ErrSingularInnovation, err)
	}
	nis := mat.Dot(y, &sy)

	var ky, x mat.VecDense
	ky.MulVec(k, y)
	x.AddVec(e.x, &ky)

	var kh, ikh, p mat.Dense
	kh.Mul(k, h)
	ikh.Sub(identity(StateDim), &kh)
	p.Mul(&ikh, e.p)
	pSym := linalg.Symmetrize(&p)

	if !linalg.AllFinite(&x) || !linalg.AllFinite(pSym) {
		return UpdateResult{}, ErrNonFinite
	}
	e.x.CopyVec(&x)
	e.p = pSym

	innovation := make([]float64, m)
	for i := range innovation {
		innovation[i] = y.AtVec(i)
	}
	return UpdateResult{Innovation: innovation, NIS: nis}, nil
}

func identity(n int) *mat.DiagDense {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return mat.NewDiagDense(n, d)
}

// State returns the current state estimate.
func (e *Estimator) State() State {
	return StateFromVector(e.x)
}

// Covariance returns a copy of the current state covariance.
func (e *Estimator) Covariance() *mat.SymDense {
	c := mat.NewSymDense(StateDim, nil)
	c.CopySym(e.p)
	return c
}

// Transition returns a copy of the installed transition matrix.
func (e *Estimator) Transition() *mat.Dense {
	return mat.DenseCopyOf(e.f)
}

// ProcessCovariance returns a copy of the installed process noise matrix.
func (e *Estimator) ProcessCovariance() *mat.SymDense {
	c := mat.NewSymDense(StateDim, nil)
	c.CopySym(e.q)
	return c
}
