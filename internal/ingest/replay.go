package ingest

import (
	"context"
	"time"

	"github.com/banshee-data/sensorfusion/internal/timeutil"
)

// Replayer paces records by their timestamps so a recording plays back at
// (a multiple of) real time.
type Replayer struct {
	Clock timeutil.Clock
	// Speed multiplies playback rate. Zero or negative disables pacing.
	Speed float64
	// TimestampScale is timestamp ticks per second.
	TimestampScale float64
	// MaxGap caps a single sleep so long recording gaps do not stall replay.
	MaxGap time.Duration

	last    int64
	started bool
}

// NewReplayer returns a Replayer on the real clock for microsecond
// timestamps.
func NewReplayer(speed float64) *Replayer {
	return &Replayer{
		Clock:          timeutil.RealClock{},
		Speed:          speed,
		TimestampScale: 1e6,
		MaxGap:         5 * time.Second,
	}
}

// Wait sleeps for the gap between the previous timestamp and ts, scaled by
// Speed. Out-of-order timestamps do not sleep.
func (p *Replayer) Wait(ctx context.Context, ts int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.started {
		p.started = true
		p.last = ts
		return nil
	}
	gapTicks := ts - p.last
	if ts > p.last {
		p.last = ts
	}
	if p.Speed <= 0 || gapTicks <= 0 || p.TimestampScale <= 0 {
		return nil
	}
	d := time.Duration(float64(gapTicks) / p.TimestampScale / p.Speed * float64(time.Second))
	if p.MaxGap > 0 && d > p.MaxGap {
		d = p.MaxGap
	}
	p.Clock.Sleep(d)
	return nil
}

// Run replays records through fn, pacing between them.
func (p *Replayer) Run(ctx context.Context, recs []Record, fn func(Record) error) error {
	for _, rec := range recs {
		if err := p.Wait(ctx, rec.Measurement.Timestamp); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
