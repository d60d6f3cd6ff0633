package ingest

import (
	"bufio"
	"errors"
	"io"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 64 * 1024

// Reader streams records from a line-oriented text source.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Reader{sc: sc}
}

// Next returns the next record. It returns io.EOF at the end of input.
// A malformed line yields a *LineError wrapping ErrMalformedLine; the
// caller may keep calling Next to continue past it.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		rec, ok, err := ParseLine(r.sc.Text())
		if err != nil {
			return Record{}, &LineError{Line: r.line, Err: err}
		}
		if !ok {
			continue
		}
		rec.Line = r.line
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// ReadAll reads every record from r, stopping at the first malformed line.
func ReadAll(r io.Reader) ([]Record, error) {
	var out []Record
	rd := NewReader(r)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
