package fusion

import (
	"fmt"

	"github.com/banshee-data/sensorfusion/internal/config"
	"github.com/banshee-data/sensorfusion/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// LidarDim is the length of a LiDAR measurement vector.
const LidarDim = 2

// Params is the fixed configuration of a Controller. It is supplied once and
// never re-derived at runtime.
type Params struct {
	Noise             ProcessNoise
	Lidar             LinearModel   // H 2×4, R 2×2
	RadarNoise        *mat.SymDense // 3×3
	InitialCovariance *mat.SymDense // 4×4

	// TimestampScale is timestamp ticks per second (1e6 for microseconds).
	TimestampScale float64

	MinRangeSquared   float64
	MaxInnovationCond float64
}

// DefaultParams returns the built-in defaults (σax² = σay² = 9, LiDAR noise
// 0.0225 m², radar noise diag(0.09, 0.0009, 0.09), P0 = diag(1, 1, 1000, 1000),
// microsecond timestamps).
func DefaultParams() Params {
	return ParamsFromConfig(config.EmptyFusionConfig())
}

// ParamsFromConfig builds Params from a loaded FusionConfig. The config is
// expected to have passed Validate.
func ParamsFromConfig(cfg *config.FusionConfig) Params {
	return Params{
		Noise: ProcessNoise{AX: cfg.GetNoiseAX(), AY: cfg.GetNoiseAY()},
		Lidar: LinearModel{
			H: mat.NewDense(LidarDim, StateDim, cfg.GetLidarModel()),
			R: linalg.SymFromRowMajor(LidarDim, cfg.GetLidarNoise()),
		},
		RadarNoise:        linalg.SymFromRowMajor(RadarDim, cfg.GetRadarNoise()),
		InitialCovariance: linalg.SymFromRowMajor(StateDim, cfg.GetInitialCovariance()),
		TimestampScale:    cfg.GetTimestampScale(),
		MinRangeSquared:   cfg.GetMinRangeSquared(),
		MaxInnovationCond: cfg.GetMaxInnovationCond(),
	}
}

// Validate checks shapes and covariance validity.
func (p Params) Validate() error {
	if p.Noise.AX < 0 || p.Noise.AY < 0 {
		return fmt.Errorf("process noise must be non-negative, got %+v", p.Noise)
	}
	if !(p.TimestampScale > 0) {
		return fmt.Errorf("timestamp scale must be positive, got %v", p.TimestampScale)
	}
	if p.Lidar.H == nil || p.Lidar.R == nil || p.RadarNoise == nil || p.InitialCovariance == nil {
		return fmt.Errorf("%w: missing observation or covariance matrix", ErrDimension)
	}
	if r, c := p.Lidar.H.Dims(); r != LidarDim || c != StateDim {
		return fmt.Errorf("%w: lidar model is %dx%d, want %dx%d", ErrDimension, r, c, LidarDim, StateDim)
	}
	for _, cov := range []struct {
		name string
		m    *mat.SymDense
		n    int
	}{
		{"lidar noise", p.Lidar.R, LidarDim},
		{"radar noise", p.RadarNoise, RadarDim},
		{"initial covariance", p.InitialCovariance, StateDim},
	} {
		if cov.m.SymmetricDim() != cov.n {
			return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrDimension, cov.name, cov.m.SymmetricDim(), cov.m.SymmetricDim(), cov.n, cov.n)
		}
		if !linalg.AllFinite(cov.m) || !linalg.IsPositiveSemidefinite(cov.m, 0) {
			return fmt.Errorf("%w: %s", ErrInvalidCovariance, cov.name)
		}
	}
	return nil
}
