package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/httputil"
)

// trackSeries splits persisted rows into estimate, ground-truth and skipped
// scatter points. Rows for other objects are ignored when objectID is set.
func trackSeries(rows []db.EstimateRow, objectID string) (est, truth, skipped []opts.ScatterData) {
	for _, row := range rows {
		if objectID != "" && row.ObjectID != objectID {
			continue
		}
		p := opts.ScatterData{Value: []interface{}{row.State.X, row.State.Y}}
		if row.SkipReason != "" {
			skipped = append(skipped, p)
		} else {
			est = append(est, p)
		}
		if row.Truth != nil {
			truth = append(truth, opts.ScatterData{Value: []interface{}{row.Truth.X, row.Truth.Y}})
		}
	}
	return est, truth, skipped
}

// showTrackChart renders the estimated track of a run against its ground
// truth as an HTML scatter plot.
// Query params:
//   - run_id (required)
//   - object_id (optional; all objects when empty)
func (s *Server) showTrackChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	rows, ok := s.runRows(w, r, 0)
	if !ok {
		return
	}
	objectID := r.URL.Query().Get("object_id")
	est, truth, skipped := trackSeries(rows, objectID)
	if len(est)+len(skipped) == 0 {
		httputil.NotFound(w, "no estimates for run")
		return
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fusion track", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Estimated track", Subtitle: fmt.Sprintf("run=%s points=%d", r.URL.Query().Get("run_id"), len(est)+len(skipped))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("estimate", est, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	if len(truth) > 0 {
		scatter.AddSeries("ground truth", truth, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	if len(skipped) > 0 {
		scatter.AddSeries("update skipped", skipped, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
