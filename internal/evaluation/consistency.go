package evaluation

import (
	"sync"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"gonum.org/v1/gonum/stat/distuv"
)

// Consistency tracks normalised innovation squared (NIS) per sensor. For a
// well-tuned filter NIS follows a χ² distribution with as many degrees of
// freedom as the measurement has values.
type Consistency struct {
	mu      sync.Mutex
	sum     map[fusion.SensorKind]float64
	count   map[fusion.SensorKind]int
	exceeds map[fusion.SensorKind]int
	// Quantile is the χ² quantile used for the exceedance rate. Zero selects 0.95.
	Quantile float64
}

// NewConsistency returns an empty tracker using the 95% χ² quantile.
func NewConsistency() *Consistency {
	return &Consistency{
		sum:      make(map[fusion.SensorKind]float64),
		count:    make(map[fusion.SensorKind]int),
		exceeds:  make(map[fusion.SensorKind]int),
		Quantile: 0.95,
	}
}

// Threshold returns the χ² bound for a sensor's measurement dimension.
func (c *Consistency) Threshold(k fusion.SensorKind) float64 {
	q := c.Quantile
	if q <= 0 || q >= 1 {
		q = 0.95
	}
	return distuv.ChiSquared{K: float64(k.Arity())}.Quantile(q)
}

// Add records the outcome of one update. Skipped and initialising results
// carry no innovation and are ignored.
func (c *Consistency) Add(res fusion.Result) {
	if res.Initialized || res.Skipped != fusion.SkipNone || res.Innovation == nil {
		return
	}
	thr := c.Threshold(res.Sensor)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sum[res.Sensor] += res.NIS
	c.count[res.Sensor]++
	if res.NIS > thr {
		c.exceeds[res.Sensor]++
	}
}

// SensorConsistency summarises NIS for one sensor.
type SensorConsistency struct {
	Count      int     `json:"count"`
	MeanNIS    float64 `json:"mean_nis"`
	ExceedRate float64 `json:"exceed_rate"`
	Threshold  float64 `json:"threshold"`
}

// Summary returns per-sensor statistics keyed by sensor name.
func (c *Consistency) Summary() map[string]SensorConsistency {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]SensorConsistency, len(c.count))
	for k, n := range c.count {
		if n == 0 {
			continue
		}
		out[k.String()] = SensorConsistency{
			Count:      n,
			MeanNIS:    c.sum[k] / float64(n),
			ExceedRate: float64(c.exceeds[k]) / float64(n),
			Threshold:  c.Threshold(k),
		}
	}
	return out
}
