// Package evaluation scores fusion estimates against ground truth.
package evaluation

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrEmpty is returned when there are no samples to score.
	ErrEmpty = errors.New("no samples")
	// ErrLengthMismatch is returned when estimates and truth differ in length.
	ErrLengthMismatch = errors.New("estimate and ground truth lengths differ")
)

// RMSE returns the per-component root mean squared error of estimates
// against truth.
func RMSE(estimates, truth []fusion.State) (fusion.State, error) {
	if len(estimates) == 0 {
		return fusion.State{}, ErrEmpty
	}
	if len(estimates) != len(truth) {
		return fusion.State{}, fmt.Errorf("%w: %d estimates, %d truth", ErrLengthMismatch, len(estimates), len(truth))
	}
	var acc Accumulator
	for i := range estimates {
		acc.Add(estimates[i], truth[i])
	}
	return acc.RMSE()
}

// Accumulator collects squared residuals for a streaming RMSE. The zero
// value is ready to use. It is safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	sumSq [fusion.StateDim]float64
	n     int
}

// Add records one estimate/truth pair.
func (a *Accumulator) Add(estimate, truth fusion.State) {
	e, g := estimate.Slice(), truth.Slice()
	floats.Sub(e, g)
	floats.Mul(e, e)

	a.mu.Lock()
	defer a.mu.Unlock()
	floats.Add(a.sumSq[:], e)
	a.n++
}

// Count returns the number of pairs added.
func (a *Accumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

// RMSE returns the current per-component RMSE.
func (a *Accumulator) RMSE() (fusion.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		return fusion.State{}, ErrEmpty
	}
	out := make([]float64, fusion.StateDim)
	for i, s := range a.sumSq {
		out[i] = math.Sqrt(s / float64(a.n))
	}
	return fusion.State{X: out[0], Y: out[1], VX: out[2], VY: out[3]}, nil
}

// Reset clears all accumulated residuals.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sumSq = [fusion.StateDim]float64{}
	a.n = 0
}
