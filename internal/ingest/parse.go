// Package ingest turns recorded or live sensor streams into fusion
// measurements.
//
// The text format carries one record per line, whitespace separated:
//
//	L px py timestamp [x_gt y_gt vx_gt vy_gt ...]
//	R rho phi rho_dot timestamp [x_gt y_gt vx_gt vy_gt ...]
//
// Ground truth is optional. Fields after the first four truth values are
// ignored. Blank lines and lines starting with '#' are skipped.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/sensorfusion/internal/fusion"
)

// ErrMalformedLine is returned for a line that is not a valid record.
var ErrMalformedLine = errors.New("malformed line")

// truthFields is the number of ground-truth values read after the timestamp.
const truthFields = 4

// Record is one parsed input line.
type Record struct {
	Line        int
	Measurement fusion.Measurement
	// Truth is the ground-truth state, when the line carries one.
	Truth *fusion.State
}

// LineError reports the line number of a malformed record.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ParseLine parses a single record. ok is false for blank and comment lines.
func ParseLine(line string) (rec Record, ok bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Record{}, false, nil
	}
	fields := strings.Fields(trimmed)

	kind, err := fusion.ParseSensorKind(fields[0])
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	arity := kind.Arity()
	if len(fields) < 1+arity+1 {
		return Record{}, false, fmt.Errorf("%w: %s record needs %d values and a timestamp, got %d fields",
			ErrMalformedLine, kind, arity, len(fields)-1)
	}

	values, err := parseFloats(fields[1 : 1+arity])
	if err != nil {
		return Record{}, false, err
	}
	ts, err := strconv.ParseInt(fields[1+arity], 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedLine, fields[1+arity], err)
	}

	rec.Measurement = fusion.Measurement{Sensor: kind, Timestamp: ts, Values: values}
	if err := rec.Measurement.Validate(); err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	rest := fields[2+arity:]
	switch {
	case len(rest) == 0:
	case len(rest) < truthFields:
		return Record{}, false, fmt.Errorf("%w: ground truth needs %d values, got %d", ErrMalformedLine, truthFields, len(rest))
	default:
		gt, err := parseFloats(rest[:truthFields])
		if err != nil {
			return Record{}, false, err
		}
		rec.Truth = &fusion.State{X: gt[0], Y: gt[1], VX: gt[2], VY: gt[3]}
	}
	return rec, true, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %q: %v", ErrMalformedLine, f, err)
		}
		out[i] = v
	}
	return out, nil
}

// FormatRecord renders a record in the text format accepted by ParseLine.
func FormatRecord(rec Record) string {
	m := rec.Measurement
	var b strings.Builder
	if m.Sensor == fusion.SensorRadar {
		b.WriteString("R")
	} else {
		b.WriteString("L")
	}
	for _, v := range m.Values {
		b.WriteByte('\t')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte('\t')
	b.WriteString(strconv.FormatInt(m.Timestamp, 10))
	if rec.Truth != nil {
		for _, v := range rec.Truth.Slice() {
			b.WriteByte('\t')
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return b.String()
}
