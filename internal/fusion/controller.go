package fusion

import (
	"errors"
	"fmt"

	"github.com/banshee-data/sensorfusion/internal/monitoring"
	"gonum.org/v1/gonum/mat"
)

// SkipReason records why a measurement update was not applied.
type SkipReason string

const (
	SkipNone                    SkipReason = ""
	SkipDegenerateLinearization SkipReason = "degenerate_linearization"
	SkipSingularInnovation      SkipReason = "singular_innovation"
	SkipNonFinite               SkipReason = "non_finite"
)

// skipReasonFor maps an update error to the reason recorded on the Result.
// Errors that do not describe a recoverable numerical condition map to
// SkipNone and are returned to the caller.
func skipReasonFor(err error) SkipReason {
	switch {
	case errors.Is(err, ErrDegenerateLinearization):
		return SkipDegenerateLinearization
	case errors.Is(err, ErrSingularInnovation):
		return SkipSingularInnovation
	case errors.Is(err, ErrNonFinite):
		return SkipNonFinite
	default:
		return SkipNone
	}
}

// Estimate is a snapshot of the filter state and its uncertainty.
type Estimate struct {
	State      State
	Covariance *mat.SymDense
	Timestamp  int64
}

// Result describes the effect of one ProcessMeasurement call.
type Result struct {
	Sensor    SensorKind
	Timestamp int64
	// Dt is the elapsed time (seconds) used for prediction; zero on the
	// initialising measurement.
	Dt float64
	// Initialized is true when this measurement initialised the filter.
	Initialized bool
	// Skipped is set when the update step was skipped; the estimate then
	// reflects the prediction only.
	Skipped    SkipReason
	Innovation []float64
	NIS        float64
	Estimate   Estimate
}

// Stats counts processed measurements.
type Stats struct {
	Processed int `json:"processed"`
	Lidar     int `json:"lidar"`
	Radar     int `json:"radar"`
	Skipped   int `json:"skipped"`
	Rejected  int `json:"rejected"`
}

// Controller runs the per-measurement predict/update cycle for one tracked
// object. The first valid measurement initialises the state; every later
// measurement triggers a prediction over the elapsed time followed by the
// update matching its sensor.
//
// A Controller is not safe for concurrent use. See Bank for a synchronised
// collection keyed by object.
type Controller struct {
	params Params

	ekf           *Estimator
	lastTimestamp int64
	stats         Stats
}

// NewController validates p and returns an uninitialised Controller.
func NewController(p Params) (*Controller, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion params: %w", err)
	}
	return &Controller{params: p}, nil
}

// Params returns the configuration the controller was built with.
func (c *Controller) Params() Params {
	return c.params
}

// Initialized reports whether a measurement has been accepted yet.
func (c *Controller) Initialized() bool {
	return c.ekf != nil
}

// Stats returns counters since construction or the last Reset.
func (c *Controller) Stats() Stats {
	return c.stats
}

// Reset discards the estimate so the next measurement re-initialises it.
func (c *Controller) Reset() {
	c.ekf = nil
	c.lastTimestamp = 0
	c.stats = Stats{}
}

// Estimate returns the current estimate, or false before initialisation.
func (c *Controller) Estimate() (Estimate, bool) {
	if c.ekf == nil {
		return Estimate{}, false
	}
	return c.snapshot(), true
}

func (c *Controller) snapshot() Estimate {
	return Estimate{
		State:      c.ekf.State(),
		Covariance: c.ekf.Covariance(),
		Timestamp:  c.lastTimestamp,
	}
}

// ProcessMeasurement ingests one measurement and returns the resulting
// estimate. A malformed measurement is rejected with ErrMalformedMeasurement
// and leaves the filter untouched. Numerical failures during the update
// (degenerate radar geometry, an ill-conditioned innovation covariance)
// skip the update and keep the predicted state; they are reported via
// Result.Skipped, not as an error.
func (c *Controller) ProcessMeasurement(m Measurement) (Result, error) {
	if err := m.Validate(); err != nil {
		c.stats.Rejected++
		return Result{}, err
	}

	if c.ekf == nil {
		return c.initialize(m)
	}

	dt := float64(m.Timestamp-c.lastTimestamp) / c.params.TimestampScale
	if dt < 0 {
		monitoring.Logf("[fusion] out-of-order %s measurement: ts=%d last=%d, clamping dt to 0",
			m.Sensor, m.Timestamp, c.lastTimestamp)
		dt = 0
	}
	// the reference time only moves forward so a stale record cannot
	// stretch the next prediction
	if m.Timestamp > c.lastTimestamp {
		c.lastTimestamp = m.Timestamp
	}

	c.ekf.SetElapsed(dt, c.params.Noise)
	c.ekf.Predict()

	res := Result{Sensor: m.Sensor, Timestamp: m.Timestamp, Dt: dt}
	upd, err := c.update(m)
	if err != nil {
		reason := skipReasonFor(err)
		if reason == SkipNone {
			return Result{}, err
		}
		monitoring.Logf("[fusion] skipping %s update at ts=%d: %v", m.Sensor, m.Timestamp, err)
		res.Skipped = reason
		c.stats.Skipped++
	} else {
		res.Innovation = upd.Innovation
		res.NIS = upd.NIS
	}
	c.count(m.Sensor)

	res.Estimate = c.snapshot()
	monitoring.Debugf("[fusion] %s ts=%d dt=%.6f x=%+v nis=%.3f",
		m.Sensor, m.Timestamp, dt, res.Estimate.State, res.NIS)
	if monitoring.DebugEnabled() {
		monitoring.Debugf("[fusion] P=\n%v", mat.Formatted(res.Estimate.Covariance, mat.Prefix("  "), mat.Squeeze()))
	}
	return res, nil
}

func (c *Controller) initialize(m Measurement) (Result, error) {
	var x0 State
	switch m.Sensor {
	case SensorLidar:
		x0 = State{X: m.Values[0], Y: m.Values[1]}
	case SensorRadar:
		// Range-rate is not used: it only constrains the radial component.
		x0 = PolarToState(m.Values[0], m.Values[1])
	}

	ekf, err := NewEstimator(x0, c.params.InitialCovariance)
	if err != nil {
		return Result{}, err
	}
	ekf.MaxInnovationCond = c.params.MaxInnovationCond
	ekf.Linearizer = Linearizer{MinRangeSquared: c.params.MinRangeSquared}

	c.ekf = ekf
	c.lastTimestamp = m.Timestamp
	c.count(m.Sensor)

	monitoring.Debugf("[fusion] initialised from %s at ts=%d: %+v", m.Sensor, m.Timestamp, x0)
	return Result{
		Sensor:      m.Sensor,
		Timestamp:   m.Timestamp,
		Initialized: true,
		Estimate:    c.snapshot(),
	}, nil
}

func (c *Controller) update(m Measurement) (UpdateResult, error) {
	z := m.Vector()
	switch m.Sensor {
	case SensorLidar:
		return c.ekf.Update(z, c.params.Lidar)
	case SensorRadar:
		hj, err := c.ekf.Linearizer.Jacobian(c.ekf.State())
		if err != nil {
			return UpdateResult{}, err
		}
		return c.ekf.UpdateEKF(z, hj, c.params.RadarNoise)
	default:
		return UpdateResult{}, fmt.Errorf("%w: unknown sensor kind %d", ErrMalformedMeasurement, m.Sensor)
	}
}

func (c *Controller) count(k SensorKind) {
	c.stats.Processed++
	switch k {
	case SensorLidar:
		c.stats.Lidar++
	case SensorRadar:
		c.stats.Radar++
	}
}
