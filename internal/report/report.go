// Package report renders offline plots of a fusion run.
package report

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/sensorfusion/internal/fusion"
)

// ErrNoPoints is returned when a trajectory has nothing to draw.
var ErrNoPoints = errors.New("trajectory has no points")

// PlotSize is the width and height of saved plots.
const PlotSize = 8 * vg.Inch

var (
	estimateColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	truthColor    = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	lidarColor    = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	radarColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Trajectory collects the positions drawn by SaveTrajectoryPlot.
type Trajectory struct {
	Title    string
	Estimate plotter.XYs
	Truth    plotter.XYs
	Lidar    plotter.XYs
	Radar    plotter.XYs
}

// Add records one processed measurement. Radar measurements are drawn at
// their Cartesian position.
func (t *Trajectory) Add(m fusion.Measurement, est fusion.State, truth *fusion.State) {
	t.Estimate = append(t.Estimate, plotter.XY{X: est.X, Y: est.Y})
	if truth != nil {
		t.Truth = append(t.Truth, plotter.XY{X: truth.X, Y: truth.Y})
	}
	switch m.Sensor {
	case fusion.SensorLidar:
		t.Lidar = append(t.Lidar, plotter.XY{X: m.Values[0], Y: m.Values[1]})
	case fusion.SensorRadar:
		p := fusion.PolarToState(m.Values[0], m.Values[1])
		t.Radar = append(t.Radar, plotter.XY{X: p.X, Y: p.Y})
	}
}

// Len returns the number of estimates recorded.
func (t *Trajectory) Len() int {
	return len(t.Estimate)
}

// SaveTrajectoryPlot draws the estimated track over the raw measurements and
// ground truth. The file format follows the extension of path (png, svg,
// pdf, ...).
func SaveTrajectoryPlot(path string, t *Trajectory) error {
	if t == nil || t.Len() == 0 {
		return ErrNoPoints
	}

	p := plot.New()
	p.Title.Text = t.Title
	if p.Title.Text == "" {
		p.Title.Text = "Fused trajectory"
	}
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	if err := addScatter(p, "LiDAR", t.Lidar, lidarColor, draw.CrossGlyph{}); err != nil {
		return err
	}
	if err := addScatter(p, "radar", t.Radar, radarColor, draw.PlusGlyph{}); err != nil {
		return err
	}
	if err := addLine(p, "ground truth", t.Truth, truthColor, []vg.Length{vg.Points(4), vg.Points(2)}); err != nil {
		return err
	}
	if err := addLine(p, "estimate", t.Estimate, estimateColor, nil); err != nil {
		return err
	}

	if err := p.Save(PlotSize, PlotSize, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

func addScatter(p *plot.Plot, name string, pts plotter.XYs, c color.Color, shape draw.GlyphDrawer) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s points: %w", name, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(2)
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color, dashes []vg.Length) error {
	if len(pts) == 0 {
		return nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s line: %w", name, err)
	}
	l.Color = c
	l.Width = vg.Points(1.5)
	l.Dashes = dashes
	p.Add(l)
	p.Legend.Add(name, l)
	return nil
}
