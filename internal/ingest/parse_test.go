package ingest

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		line   string
		want   Record
		wantOK bool
	}{
		{
			name: "lidar",
			line: "L\t3.122427e-01\t5.803398e-01\t1477010443000000",
			want: Record{Measurement: fusion.Measurement{
				Sensor: fusion.SensorLidar, Timestamp: 1477010443000000, Values: []float64{0.3122427, 0.5803398},
			}},
			wantOK: true,
		},
		{
			name: "radar with truth",
			line: "R 1.014892 0.554329 4.892807 1477010443050000 0.859997 0.600045 5.199937 0",
			want: Record{
				Measurement: fusion.Measurement{
					Sensor: fusion.SensorRadar, Timestamp: 1477010443050000, Values: []float64{1.014892, 0.554329, 4.892807},
				},
				Truth: &fusion.State{X: 0.859997, Y: 0.600045, VX: 5.199937, VY: 0},
			},
			wantOK: true,
		},
		{
			name: "extra truth columns ignored",
			line: "L 1 2 10 1 2 3 4 0.1 0.2",
			want: Record{
				Measurement: fusion.Measurement{Sensor: fusion.SensorLidar, Timestamp: 10, Values: []float64{1, 2}},
				Truth:       &fusion.State{X: 1, Y: 2, VX: 3, VY: 4},
			},
			wantOK: true,
		},
		{name: "blank", line: "   ", wantOK: false},
		{name: "comment", line: "# sensor px py ts", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseLine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLine_Malformed(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"X 1 2 3",
		"L 1 2",
		"L 1 two 3",
		"L 1 2 3.5",
		"R 1 2 3",
		"R -1 0 0 100",
		"L NaN 2 100",
		"L 1 2 100 1 2",
	} {
		_, _, err := ParseLine(line)
		assert.ErrorIs(t, err, ErrMalformedLine, "line %q", line)
	}
}

func TestFormatRecord_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, rec := range []Record{
		{Measurement: fusion.Measurement{Sensor: fusion.SensorLidar, Timestamp: 5, Values: []float64{0.25, -1.5}}},
		{
			Measurement: fusion.Measurement{Sensor: fusion.SensorRadar, Timestamp: 7, Values: []float64{2, 0.1, -0.3}},
			Truth:       &fusion.State{X: 1, Y: 2, VX: 3, VY: 4},
		},
	} {
		got, ok, err := ParseLine(FormatRecord(rec))
		require.NoError(t, err)
		require.True(t, ok)
		if diff := cmp.Diff(rec, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

const sampleInput = `# sample
L 1 2 1000000 1 2 0 0

R 5 0 0.5 1050000
L 1 2 bogus
L 1.1 2 1100000
`

func TestReader(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader(sampleInput))

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Line)
	assert.Equal(t, fusion.SensorLidar, rec.Measurement.Sensor)
	require.NotNil(t, rec.Truth)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Line)
	assert.Equal(t, fusion.SensorRadar, rec.Measurement.Sensor)
	assert.Nil(t, rec.Truth)

	_, err = r.Next()
	require.ErrorIs(t, err, ErrMalformedLine)
	var le *LineError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 5, le.Line)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Line)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadAll(t *testing.T) {
	t.Parallel()

	recs, err := ReadAll(strings.NewReader("L 1 2 1\nR 1 0 0 2\n"))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = ReadAll(strings.NewReader(sampleInput))
	assert.ErrorIs(t, err, ErrMalformedLine)
	assert.Len(t, recs, 2)
}
