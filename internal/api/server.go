// Package api serves the live fusion estimates and persisted runs over HTTP.
package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/evaluation"
	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/httputil"
	"github.com/banshee-data/sensorfusion/internal/monitoring"
	"github.com/banshee-data/sensorfusion/internal/units"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// DefaultEstimateLimit caps /api/estimates when no limit is given.
const DefaultEstimateLimit = 1000

type Server struct {
	bank  *fusion.Bank
	db    *db.DB
	units string
}

// NewServer returns a Server over the live bank and the run store. Either
// may be nil, in which case the routes depending on it answer 503.
func NewServer(bank *fusion.Bank, database *db.DB, unit string) *Server {
	return &Server{
		bank:  bank,
		db:    database,
		units: unit,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/estimate", s.showEstimates)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/estimates", s.listEstimates)
	mux.HandleFunc("/api/rmse", s.showRMSE)
	mux.HandleFunc("/charts/track", s.showTrackChart)
	return mux
}

// EstimateResponse is the live estimate of one tracked object.
type EstimateResponse struct {
	ObjectID  string       `json:"object_id"`
	Timestamp int64        `json:"timestamp"`
	State     fusion.State `json:"state"`
	// Variance is the diagonal of the state covariance.
	Variance   [fusion.StateDim]float64 `json:"variance"`
	Speed      float64                  `json:"speed"`
	HeadingDeg float64                  `json:"heading_deg"`
	Units      string                   `json:"units"`
	Stats      fusion.Stats             `json:"stats"`
}

func (s *Server) newEstimateResponse(id string, est fusion.Estimate) EstimateResponse {
	resp := EstimateResponse{
		ObjectID:   id,
		Timestamp:  est.Timestamp,
		State:      est.State,
		Speed:      units.ConvertSpeed(est.State.Speed(), s.units),
		HeadingDeg: est.State.Heading() * 180 / math.Pi,
		Units:      s.units,
	}
	if est.Covariance != nil {
		for i := range resp.Variance {
			resp.Variance[i] = est.Covariance.At(i, i)
		}
	}
	resp.Stats, _ = s.bank.Stats(id)
	return resp
}

func (s *Server) showEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.bank == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no live filter attached")
		return
	}

	if id := r.URL.Query().Get("object_id"); id != "" {
		est, ok := s.bank.Estimate(id)
		if !ok {
			httputil.NotFound(w, "no estimate for object "+id)
			return
		}
		httputil.WriteJSONOK(w, s.newEstimateResponse(id, est))
		return
	}

	out := []EstimateResponse{}
	estimates := s.bank.Estimates()
	for _, id := range s.bank.Objects() {
		if est, ok := estimates[id]; ok {
			out = append(out, s.newEstimateResponse(id, est))
		}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) requireDB(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return false
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database attached")
		return false
	}
	return true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	runs, err := s.db.Runs()
	if err != nil {
		httputil.InternalServerError(w, "failed to list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// runRows loads the estimates for the run_id query parameter, writing the
// error response itself when it returns false.
func (s *Server) runRows(w http.ResponseWriter, r *http.Request, limit int) ([]db.EstimateRow, bool) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		httputil.BadRequest(w, "missing run_id")
		return nil, false
	}
	if _, err := s.db.Run(runID); err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			httputil.NotFound(w, "run not found")
		} else {
			httputil.InternalServerError(w, "failed to load run: "+err.Error())
		}
		return nil, false
	}
	rows, err := s.db.Estimates(runID, limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to load estimates: "+err.Error())
		return nil, false
	}
	return rows, true
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", DefaultEstimateLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rows, ok := s.runRows(w, r, limit)
	if !ok {
		return
	}
	if rows == nil {
		rows = []db.EstimateRow{}
	}
	httputil.WriteJSONOK(w, rows)
}

// RMSEResponse reports the accuracy of a persisted run against its ground
// truth.
type RMSEResponse struct {
	RunID   string       `json:"run_id"`
	Samples int          `json:"samples"`
	RMSE    fusion.State `json:"rmse"`
}

func (s *Server) showRMSE(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	rows, ok := s.runRows(w, r, 0)
	if !ok {
		return
	}

	var acc evaluation.Accumulator
	for _, row := range rows {
		if row.Truth != nil {
			acc.Add(row.State, *row.Truth)
		}
	}
	rmse, err := acc.RMSE()
	if errors.Is(err, evaluation.ErrEmpty) {
		httputil.NotFound(w, "run has no ground truth")
		return
	} else if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, RMSEResponse{
		RunID:   r.URL.Query().Get("run_id"),
		Samples: acc.Count(),
		RMSE:    rmse,
	})
}
