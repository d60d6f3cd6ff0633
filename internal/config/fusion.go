package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/sensorfusion/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// DefaultConfigPath is the path to the canonical fusion defaults file.
const DefaultConfigPath = "config/fusion.defaults.json"

// FusionConfig is the fixed filter configuration supplied once at startup.
// Matrices are flattened row-major. Omitted fields fall back to the values
// returned by the Get* accessors.
type FusionConfig struct {
	// Process noise intensities (acceleration variance per axis)
	NoiseAX *float64 `json:"noise_ax,omitempty"`
	NoiseAY *float64 `json:"noise_ay,omitempty"`

	// Observation models
	LidarNoise []float64 `json:"lidar_noise,omitempty"` // 2x2
	RadarNoise []float64 `json:"radar_noise,omitempty"` // 3x3
	LidarModel []float64 `json:"lidar_model,omitempty"` // 2x4

	InitialCovariance []float64 `json:"initial_covariance,omitempty"` // 4x4

	// TimestampScale is the number of timestamp ticks per second (1e6 for µs).
	TimestampScale *float64 `json:"timestamp_scale,omitempty"`

	// Numerical guards
	MinRangeSquared   *float64 `json:"min_range_squared,omitempty"`
	MaxInnovationCond *float64 `json:"max_innovation_cond,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }

// EmptyFusionConfig returns a FusionConfig with every field unset.
func EmptyFusionConfig() *FusionConfig {
	return &FusionConfig{}
}

// DefaultFusionConfig returns a FusionConfig with every field populated from
// the built-in defaults.
func DefaultFusionConfig() *FusionConfig {
	e := EmptyFusionConfig()
	return &FusionConfig{
		NoiseAX:           ptrFloat64(e.GetNoiseAX()),
		NoiseAY:           ptrFloat64(e.GetNoiseAY()),
		LidarNoise:        e.GetLidarNoise(),
		RadarNoise:        e.GetRadarNoise(),
		LidarModel:        e.GetLidarModel(),
		InitialCovariance: e.GetInitialCovariance(),
		TimestampScale:    ptrFloat64(e.GetTimestampScale()),
		MinRangeSquared:   ptrFloat64(e.GetMinRangeSquared()),
		MaxInnovationCond: ptrFloat64(e.GetMaxInnovationCond()),
	}
}

// LoadFusionConfig loads a FusionConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadFusionConfig(path string) (*FusionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFusionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded.
func MustLoadDefaultConfig() *FusionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFusionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks that the configuration values are usable by the filter.
func (c *FusionConfig) Validate() error {
	for name, v := range map[string]*float64{
		"noise_ax":          c.NoiseAX,
		"noise_ay":          c.NoiseAY,
		"min_range_squared": c.MinRangeSquared,
	} {
		if v != nil && (*v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be a finite non-negative number, got %v", name, *v)
		}
	}
	if c.TimestampScale != nil && !(*c.TimestampScale > 0) {
		return fmt.Errorf("timestamp_scale must be positive, got %v", *c.TimestampScale)
	}
	if c.MaxInnovationCond != nil && !(*c.MaxInnovationCond > 1) {
		return fmt.Errorf("max_innovation_cond must be greater than 1, got %v", *c.MaxInnovationCond)
	}

	if c.LidarModel != nil && len(c.LidarModel) != 2*4 {
		return fmt.Errorf("lidar_model must have 8 values (2x4), got %d", len(c.LidarModel))
	}
	if err := validateCovariance("lidar_noise", c.LidarNoise, 2); err != nil {
		return err
	}
	if err := validateCovariance("radar_noise", c.RadarNoise, 3); err != nil {
		return err
	}
	return validateCovariance("initial_covariance", c.InitialCovariance, 4)
}

// validateCovariance checks that vals is nil or an n×n symmetric
// positive-semidefinite matrix.
func validateCovariance(name string, vals []float64, n int) error {
	if vals == nil {
		return nil
	}
	if len(vals) != n*n {
		return fmt.Errorf("%s must have %d values (%dx%d), got %d", name, n*n, n, n, len(vals))
	}
	m := mat.NewDense(n, n, append([]float64(nil), vals...))
	if !linalg.AllFinite(m) {
		return fmt.Errorf("%s contains non-finite values", name)
	}
	if !linalg.IsSymmetric(m, 0) {
		return fmt.Errorf("%s is not symmetric", name)
	}
	if !linalg.IsPositiveSemidefinite(linalg.Symmetrize(m), 0) {
		return fmt.Errorf("%s is not positive semidefinite", name)
	}
	return nil
}

// GetNoiseAX returns the noise_ax value or the default.
func (c *FusionConfig) GetNoiseAX() float64 {
	if c.NoiseAX == nil {
		return 9.0
	}
	return *c.NoiseAX
}

// GetNoiseAY returns the noise_ay value or the default.
func (c *FusionConfig) GetNoiseAY() float64 {
	if c.NoiseAY == nil {
		return 9.0
	}
	return *c.NoiseAY
}

// GetLidarNoise returns a copy of lidar_noise or the default.
func (c *FusionConfig) GetLidarNoise() []float64 {
	if c.LidarNoise == nil {
		return []float64{
			0.0225, 0,
			0, 0.0225,
		}
	}
	return append([]float64(nil), c.LidarNoise...)
}

// GetRadarNoise returns a copy of radar_noise or the default.
func (c *FusionConfig) GetRadarNoise() []float64 {
	if c.RadarNoise == nil {
		return []float64{
			0.09, 0, 0,
			0, 0.0009, 0,
			0, 0, 0.09,
		}
	}
	return append([]float64(nil), c.RadarNoise...)
}

// GetLidarModel returns a copy of lidar_model or the default.
func (c *FusionConfig) GetLidarModel() []float64 {
	if c.LidarModel == nil {
		return []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
		}
	}
	return append([]float64(nil), c.LidarModel...)
}

// GetInitialCovariance returns a copy of initial_covariance or the default.
func (c *FusionConfig) GetInitialCovariance() []float64 {
	if c.InitialCovariance == nil {
		return []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1000, 0,
			0, 0, 0, 1000,
		}
	}
	return append([]float64(nil), c.InitialCovariance...)
}

// GetTimestampScale returns the timestamp_scale value or the default.
func (c *FusionConfig) GetTimestampScale() float64 {
	if c.TimestampScale == nil {
		return 1e6
	}
	return *c.TimestampScale
}

// GetMinRangeSquared returns the min_range_squared value or the default.
func (c *FusionConfig) GetMinRangeSquared() float64 {
	if c.MinRangeSquared == nil {
		return 1e-4
	}
	return *c.MinRangeSquared
}

// GetMaxInnovationCond returns the max_innovation_cond value or the default.
func (c *FusionConfig) GetMaxInnovationCond() float64 {
	if c.MaxInnovationCond == nil {
		return 1e12
	}
	return *c.MaxInnovationCond
}
