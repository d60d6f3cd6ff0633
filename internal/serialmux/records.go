package serialmux

import (
	"context"

	"github.com/banshee-data/sensorfusion/internal/ingest"
	"github.com/banshee-data/sensorfusion/internal/monitoring"
)

// ForwardStats counts the lines seen by Forward.
type ForwardStats struct {
	Lines     int
	Records   int
	Malformed int
}

// Forward parses every line into an ingest.Record passed to fn. Malformed
// lines are logged and counted. It returns when lines is closed, ctx is
// done, or fn returns an error.
func Forward(ctx context.Context, lines <-chan string, fn func(ingest.Record) error) (ForwardStats, error) {
	var stats ForwardStats
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return stats, nil
			}
			stats.Lines++
			rec, ok, err := ingest.ParseLine(line)
			if err != nil {
				stats.Malformed++
				monitoring.Logf("[serialmux] line %d: %v", stats.Lines, err)
				continue
			}
			if !ok {
				continue
			}
			rec.Line = stats.Lines
			stats.Records++
			if err := fn(rec); err != nil {
				return stats, err
			}
		}
	}
}
