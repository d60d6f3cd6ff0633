package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/sensorfusion/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func defaultP0() *mat.SymDense {
	return mat.NewSymDense(StateDim, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1000, 0,
		0, 0, 0, 1000,
	})
}

func newTestEstimator(t *testing.T, x0 State, p0 mat.Symmetric) *Estimator {
	t.Helper()
	e, err := NewEstimator(x0, p0)
	require.NoError(t, err)
	return e
}

func lidarModel(r float64) LinearModel {
	return LinearModel{
		H: mat.NewDense(LidarDim, StateDim, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
		}),
		R: mat.NewSymDense(LidarDim, []float64{r, 0, 0, r}),
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewEstimator(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		e := newTestEstimator(t, State{X: 1, Y: 2}, defaultP0())
		assert.Equal(t, State{X: 1, Y: 2}, e.State())
		testutil.AssertMatrixNear(t, defaultP0(), e.Covariance(), 0)
		testutil.AssertMatrixNear(t, identity(StateDim), e.Transition(), 0)
		assert.Zero(t, mat.Sum(e.ProcessCovariance()))
	})

	t.Run("wrong dimension", func(t *testing.T) {
		t.Parallel()
		_, err := NewEstimator(State{}, mat.NewSymDense(2, nil))
		assert.ErrorIs(t, err, ErrDimension)
	})

	t.Run("indefinite covariance", func(t *testing.T) {
		t.Parallel()
		p := defaultP0()
		p.SetSym(0, 0, -1)
		_, err := NewEstimator(State{}, p)
		assert.ErrorIs(t, err, ErrInvalidCovariance)
	})

	t.Run("non-finite state", func(t *testing.T) {
		t.Parallel()
		_, err := NewEstimator(State{X: math.NaN()}, defaultP0())
		assert.ErrorIs(t, err, ErrNonFinite)
	})

	t.Run("covariance is copied", func(t *testing.T) {
		t.Parallel()
		p := defaultP0()
		e := newTestEstimator(t, State{}, p)
		p.SetSym(0, 0, 42)
		assert.Equal(t, 1.0, e.Covariance().At(0, 0))
	})
}

// ---------------------------------------------------------------------------
// SetElapsed / Predict
// ---------------------------------------------------------------------------

func TestSetElapsed(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, State{}, defaultP0())
	e.SetElapsed(0.1, ProcessNoise{AX: 9, AY: 4})

	f := e.Transition()
	assert.Equal(t, 0.1, f.At(0, 2))
	assert.Equal(t, 0.1, f.At(1, 3))
	assert.Equal(t, 0.0, f.At(0, 1))

	q := e.ProcessCovariance()
	assert.InDelta(t, 1e-4/4*9, q.At(0, 0), 1e-15)
	assert.InDelta(t, 1e-3/2*9, q.At(0, 2), 1e-15)
	assert.InDelta(t, 1e-2*9, q.At(2, 2), 1e-15)
	assert.InDelta(t, 1e-4/4*4, q.At(1, 1), 1e-15)
	assert.InDelta(t, 1e-3/2*4, q.At(1, 3), 1e-15)
	assert.InDelta(t, 1e-2*4, q.At(3, 3), 1e-15)
	assert.Zero(t, q.At(0, 1))
	assert.Zero(t, q.At(0, 3))

	for _, dt := range []float64{-1, math.NaN(), math.Inf(1)} {
		e.SetElapsed(dt, ProcessNoise{AX: 9, AY: 9})
		assert.Zero(t, e.Elapsed(), "dt=%v", dt)
		testutil.AssertMatrixNear(t, identity(StateDim), e.Transition(), 0)
	}
}

func TestPredict_ZeroElapsedIsIdentity(t *testing.T) {
	t.Parallel()

	p0 := mat.NewSymDense(StateDim, []float64{
		2, 0.5, 0.1, 0,
		0.5, 3, 0, 0.2,
		0.1, 0, 10, 1,
		0, 0.2, 1, 20,
	})
	x0 := State{X: 1, Y: -2, VX: 3, VY: 4}
	e := newTestEstimator(t, x0, p0)

	e.SetElapsed(0, ProcessNoise{AX: 9, AY: 9})
	e.Predict()

	assert.Equal(t, x0, e.State())
	testutil.AssertMatrixNear(t, p0, e.Covariance(), 0)
}

func TestPredict_ConstantVelocity(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, State{X: 1, Y: 2, VX: 3, VY: 4}, defaultP0())
	e.SetElapsed(1, ProcessNoise{AX: 9, AY: 9})
	e.Predict()

	assert.Equal(t, State{X: 4, Y: 6, VX: 3, VY: 4}, e.State())

	p := e.Covariance()
	// P = F·P0·Fᵀ + Q with Δt = 1
	assert.InDelta(t, 1+1000+9.0/4, p.At(0, 0), 1e-9)
	assert.InDelta(t, 1000+9.0/2, p.At(0, 2), 1e-9)
	assert.InDelta(t, 1000+9, p.At(2, 2), 1e-9)
	testutil.AssertCovariance(t, p)
}

func TestPredict_CovarianceStaysPSD(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, State{X: 5, Y: 5, VX: 1, VY: -1}, defaultP0())
	for i := 0; i < 200; i++ {
		e.SetElapsed(0.05, ProcessNoise{AX: 9, AY: 9})
		e.Predict()
		_, err := e.Update(mat.NewVecDense(2, []float64{5, 5}), lidarModel(0.0225))
		require.NoError(t, err)
		testutil.AssertCovariance(t, e.Covariance())
	}
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func TestUpdate_ExactWithZeroNoise(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, State{X: 1, Y: 1, VX: 2, VY: 2}, defaultP0())
	z := mat.NewVecDense(2, []float64{3, -2})

	res, err := e.Update(z, lidarModel(0))
	require.NoError(t, err)

	s := e.State()
	assert.InDelta(t, 3, s.X, 1e-9)
	assert.InDelta(t, -2, s.Y, 1e-9)
	testutil.AssertSliceNear(t, []float64{2, -3}, res.Innovation, 1e-12)
	// S = P_pos = I, so NIS = |y|²
	assert.InDelta(t, 13, res.NIS, 1e-9)
	testutil.AssertCovariance(t, e.Covariance())
}

func TestUpdate_ShrinksPositionVariance(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, State{}, defaultP0())
	_, err := e.Update(mat.NewVecDense(2, []float64{0.1, 0.1}), lidarModel(0.0225))
	require.NoError(t, err)

	p := e.Covariance()
	// 1·0.0225/(1+0.0225)
	assert.InDelta(t, 0.0225/1.0225, p.At(0, 0), 1e-12)
	assert.InDelta(t, 0.0225/1.0225, p.At(1, 1), 1e-12)
	assert.InDelta(t, 1000, p.At(2, 2), 1e-9)
}

func TestUpdate_SingularInnovation(t *testing.T) {
	t.Parallel()

	t.Run("zero S", func(t *testing.T) {
		t.Parallel()
		x0 := State{X: 1, Y: 2}
		e := newTestEstimator(t, x0, mat.NewSymDense(StateDim, nil))

		_, err := e.Update(mat.NewVecDense(2, []float64{3, 4}), lidarModel(0))
		assert.ErrorIs(t, err, ErrSingularInnovation)
		assert.Equal(t, x0, e.State())
		assert.Zero(t, mat.Sum(e.Covariance()))
	})

	t.Run("ill-conditioned S", func(t *testing.T) {
		t.Parallel()
		p0 := mat.NewSymDense(StateDim, []float64{
			1, 0, 0, 0,
			0, 1e-14, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		})
		e := newTestEstimator(t, State{}, p0)

		_, err := e.Update(mat.NewVecDense(2, []float64{3, 4}), lidarModel(0))
		assert.ErrorIs(t, err, ErrSingularInnovation)
		assert.Equal(t, State{}, e.State())
	})

	t.Run("custom condition bound", func(t *testing.T) {
		t.Parallel()
		p0 := defaultP0()
		p0.SetSym(1, 1, 1e-3)
		e := newTestEstimator(t, State{}, p0)
		e.MaxInnovationCond = 10

		_, err := e.Update(mat.NewVecDense(2, []float64{1, 1}), lidarModel(0))
		assert.ErrorIs(t, err, ErrSingularInnovation)
	})
}

func TestUpdate_DimensionMismatch(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, State{}, defaultP0())

	_, err := e.Update(mat.NewVecDense(3, []float64{1, 2, 3}), lidarModel(0.1))
	assert.ErrorIs(t, err, ErrDimension)

	bad := LinearModel{H: mat.NewDense(2, 3, nil), R: mat.NewSymDense(2, nil)}
	_, err = e.Update(mat.NewVecDense(2, []float64{1, 2}), bad)
	assert.ErrorIs(t, err, ErrDimension)

	badR := lidarModel(0.1)
	badR.R = mat.NewSymDense(3, nil)
	_, err = e.Update(mat.NewVecDense(2, []float64{1, 2}), badR)
	assert.ErrorIs(t, err, ErrDimension)
}

// ---------------------------------------------------------------------------
// UpdateEKF
// ---------------------------------------------------------------------------

func radarNoise() *mat.SymDense {
	return mat.NewSymDense(RadarDim, []float64{
		0.09, 0, 0,
		0, 0.0009, 0,
		0, 0, 0.09,
	})
}

func TestUpdateEKF_ZeroInnovation(t *testing.T) {
	t.Parallel()

	x0 := State{X: 1, Y: 1, VX: 1, VY: 0}
	e := newTestEstimator(t, x0, defaultP0())
	z := RadarMeasurement(x0)
	hj, err := RadarJacobian(x0)
	require.NoError(t, err)

	res, err := e.UpdateEKF(z, hj, radarNoise())
	require.NoError(t, err)

	testutil.AssertSliceNear(t, []float64{0, 0, 0}, res.Innovation, 1e-12)
	assert.InDelta(t, 0, res.NIS, 1e-12)
	testutil.AssertSliceNear(t, x0.Slice(), e.State().Slice(), 1e-12)
	testutil.AssertCovariance(t, e.Covariance())
}

func TestUpdateEKF_BearingWrap(t *testing.T) {
	t.Parallel()

	// Just above the negative x-axis: predicted bearing ≈ π − 0.01.
	x0 := State{X: -1, Y: 0.01}
	e := newTestEstimator(t, x0, defaultP0())
	rho := math.Hypot(x0.X, x0.Y)
	pred := math.Atan2(x0.Y, x0.X)
	// Measured just below it, across the ±π seam.
	meas := pred + 0.02 - 2*math.Pi

	hj, err := RadarJacobian(x0)
	require.NoError(t, err)
	res, err := e.UpdateEKF(mat.NewVecDense(3, []float64{rho, meas, 0}), hj, radarNoise())
	require.NoError(t, err)

	assert.InDelta(t, 0.02, res.Innovation[1], 1e-9)
	assert.Less(t, math.Abs(res.Innovation[1]), math.Pi)
	// A small innovation keeps the estimate close to where it was.
	assert.InDelta(t, x0.X, e.State().X, 0.05)
}

func TestUpdateEKF_WrongLength(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, State{X: 1, Y: 1}, defaultP0())
	h := mat.NewDense(2, StateDim, []float64{1, 0, 0, 0, 0, 1, 0, 0})
	_, err := e.UpdateEKF(mat.NewVecDense(2, []float64{1, 1}), h, mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	assert.True(t, errors.Is(err, ErrDimension))
}
