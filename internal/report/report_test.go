package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorfusion/internal/fusion"
)

func TestTrajectory_Add(t *testing.T) {
	t.Parallel()
	var tr Trajectory
	truth := fusion.State{X: 1, Y: 2}

	tr.Add(fusion.Measurement{Sensor: fusion.SensorLidar, Values: []float64{1.1, 2.1}}, fusion.State{X: 1, Y: 2}, &truth)
	tr.Add(fusion.Measurement{Sensor: fusion.SensorRadar, Values: []float64{2, 0, 0}}, fusion.State{X: 2}, nil)

	assert.Equal(t, 2, tr.Len())
	assert.Len(t, tr.Truth, 1)
	require.Len(t, tr.Lidar, 1)
	assert.Equal(t, 1.1, tr.Lidar[0].X)
	require.Len(t, tr.Radar, 1)
	assert.InDelta(t, 2.0, tr.Radar[0].X, 1e-12)
	assert.InDelta(t, 0.0, tr.Radar[0].Y, 1e-12)
}

func TestSaveTrajectoryPlot(t *testing.T) {
	t.Parallel()
	var tr Trajectory
	for i := 0; i < 20; i++ {
		x := float64(i) * 0.1
		truth := fusion.State{X: x, Y: 0.5 * x, VX: 1, VY: 0.5}
		tr.Add(fusion.Measurement{Sensor: fusion.SensorLidar, Values: []float64{x + 0.01, 0.5 * x}}, truth, &truth)
		tr.Add(fusion.Measurement{Sensor: fusion.SensorRadar, Values: []float64{x + 1, 0.1, 0}}, truth, &truth)
	}

	path := filepath.Join(t.TempDir(), "track.png")
	require.NoError(t, SaveTrajectoryPlot(path, &tr))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(data[:8]))
}

func TestSaveTrajectoryPlot_Empty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "track.png")
	assert.ErrorIs(t, SaveTrajectoryPlot(path, &Trajectory{}), ErrNoPoints)
	assert.ErrorIs(t, SaveTrajectoryPlot(path, nil), ErrNoPoints)
	assert.NoFileExists(t, path)
}

func TestSaveTrajectoryPlot_BadExtension(t *testing.T) {
	t.Parallel()
	var tr Trajectory
	tr.Add(fusion.Measurement{Sensor: fusion.SensorLidar, Values: []float64{1, 1}}, fusion.State{X: 1, Y: 1}, nil)
	assert.Error(t, SaveTrajectoryPlot(filepath.Join(t.TempDir(), "track.unknown"), &tr))
}
