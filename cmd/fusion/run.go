package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/sensorfusion/internal/api"
	"github.com/banshee-data/sensorfusion/internal/config"
	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/evaluation"
	"github.com/banshee-data/sensorfusion/internal/fusion"
	"github.com/banshee-data/sensorfusion/internal/ingest"
	"github.com/banshee-data/sensorfusion/internal/monitoring"
	"github.com/banshee-data/sensorfusion/internal/report"
	"github.com/banshee-data/sensorfusion/internal/serialmux"
)

// flushEvery is the number of estimates buffered before a database write.
const flushEvery = 500

// devLineInterval paces the mock serial port in -dev mode.
const devLineInterval = 50 * time.Millisecond

// pipeline feeds records through the bank and collects everything reported
// at the end of a run.
type pipeline struct {
	bank  *fusion.Bank
	store *db.DB
	runID string

	seq      int64
	batch    []db.EstimateRow
	rmse     evaluation.Accumulator
	nis      *evaluation.Consistency
	track    report.Trajectory
	rejected int
}

func newPipeline(bank *fusion.Bank, store *db.DB, source string, cfg *config.FusionConfig) (*pipeline, error) {
	p := &pipeline{bank: bank, store: store, nis: evaluation.NewConsistency()}
	p.track.Title = source
	if store != nil {
		id, err := store.CreateRun(source, cfg, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		p.runID = id
		log.Printf("recording run %s", id)
	}
	return p, nil
}

func (p *pipeline) handle(rec ingest.Record) error {
	res, err := p.bank.Process(rec.Measurement)
	if errors.Is(err, fusion.ErrMalformedMeasurement) {
		p.rejected++
		monitoring.Logf("line %d rejected: %v", rec.Line, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("line %d: %w", rec.Line, err)
	}

	p.nis.Add(res)
	if rec.Truth != nil {
		p.rmse.Add(res.Estimate.State, *rec.Truth)
	}
	p.track.Add(rec.Measurement, res.Estimate.State, rec.Truth)

	if p.store != nil {
		p.batch = append(p.batch, db.NewEstimateRow(p.runID, p.seq, rec.Measurement.ObjectID, res, rec.Truth))
		if len(p.batch) >= flushEvery {
			if err := p.flush(); err != nil {
				return err
			}
		}
	}
	p.seq++
	return nil
}

func (p *pipeline) flush() error {
	if p.store == nil || len(p.batch) == 0 {
		return nil
	}
	if err := p.store.RecordEstimates(p.batch); err != nil {
		return fmt.Errorf("failed to record estimates: %w", err)
	}
	p.batch = p.batch[:0]
	return nil
}

// summarize writes per-object counters, the RMSE against ground truth and the
// NIS consistency per sensor.
func (p *pipeline) summarize(w io.Writer) {
	fmt.Fprintf(w, "processed %d measurements (%d rejected)\n", p.seq, p.rejected)
	for _, id := range p.bank.Objects() {
		st, _ := p.bank.Stats(id)
		est, ok := p.bank.Estimate(id)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "object %s: lidar=%d radar=%d skipped=%d final=[%.4f %.4f %.4f %.4f]\n",
			id, st.Lidar, st.Radar, st.Skipped, est.State.X, est.State.Y, est.State.VX, est.State.VY)
	}
	if rmse, err := p.rmse.RMSE(); err == nil {
		fmt.Fprintf(w, "RMSE over %d samples: x=%.4f y=%.4f vx=%.4f vy=%.4f\n",
			p.rmse.Count(), rmse.X, rmse.Y, rmse.VX, rmse.VY)
	}
	summary := p.nis.Summary()
	sensors := make([]string, 0, len(summary))
	for k := range summary {
		sensors = append(sensors, k)
	}
	sort.Strings(sensors)
	for _, k := range sensors {
		s := summary[k]
		fmt.Fprintf(w, "NIS %s: n=%d mean=%.3f above %.3f: %.1f%%\n",
			k, s.Count, s.MeanNIS, s.Threshold, 100*s.ExceedRate)
	}
}

// fixtureLines reads a measurement file and renders it back one record per
// line, as the sensor bridge would emit it.
func fixtureLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	defer f.Close()
	recs, err := ingest.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("invalid fixtures file %s: %w", path, err)
	}
	lines := make([]string, len(recs))
	for i, rec := range recs {
		lines[i] = ingest.FormatRecord(rec)
	}
	return lines, nil
}

func loadConfig(path string) (*config.FusionConfig, error) {
	if path == "" {
		return config.EmptyFusionConfig(), nil
	}
	return config.LoadFusionConfig(path)
}

// run processes the selected source and, when o.Listen is set, keeps serving
// HTTP until ctx is cancelled.
func run(ctx context.Context, o options, out io.Writer) error {
	cfg, err := loadConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	bank, err := fusion.NewBank(fusion.ParamsFromConfig(cfg))
	if err != nil {
		return err
	}

	var store *db.DB
	if o.DBPath != "" {
		store, err = db.OpenMigrated(o.DBPath, o.MigrationsDir)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var mux serialmux.Mux
	switch {
	case o.Serial != "":
		m, err := serialmux.NewRealSerialMux(o.Serial, serialmux.PortOptions{BaudRate: o.Baud})
		if err != nil {
			return err
		}
		mux = m
	case o.Dev:
		lines, err := fixtureLines(o.Input)
		if err != nil {
			return err
		}
		mux = serialmux.NewMockSerialMux(lines, devLineInterval)
	}
	if mux != nil {
		if err := mux.Initialize(o.SerialInit...); err != nil {
			mux.Close()
			return fmt.Errorf("failed to initialize device: %w", err)
		}
	}

	p, err := newPipeline(bank, store, o.source(), cfg)
	if err != nil {
		return err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	var wg sync.WaitGroup
	if o.Listen != "" {
		srv, err := newHTTPServer(o, bank, store, mux)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveUntilDone(serverCtx, srv)
		}()
	}

	err = consume(ctx, o, cfg, mux, p.handle)
	if errors.Is(err, context.Canceled) {
		log.Printf("input interrupted")
		err = nil
	}
	if ferr := p.flush(); err == nil {
		err = ferr
	}
	p.summarize(out)

	if o.Plot != "" {
		if perr := report.SaveTrajectoryPlot(o.Plot, &p.track); perr != nil {
			log.Printf("failed to write plot: %v", perr)
		} else {
			log.Printf("wrote trajectory plot to %s", o.Plot)
		}
	}

	if err != nil {
		stopServer()
	} else if o.Listen != "" {
		log.Printf("input finished; serving on %s until interrupted", o.Listen)
	}
	wg.Wait()
	return err
}

// consume drives fn from the configured source until it is exhausted.
func consume(ctx context.Context, o options, cfg *config.FusionConfig, mux serialmux.Mux, fn func(ingest.Record) error) error {
	switch {
	case mux != nil:
		return consumeSerial(ctx, mux, fn)
	case o.PCAP != "":
		stats, err := ingest.ReadPCAP(ctx, o.PCAP, o.UDPPort, fn)
		log.Printf("pcap: %d packets, %d datagrams, %d records, %d malformed",
			stats.Packets, stats.Datagrams, stats.Records, stats.Malformed)
		return err
	default:
		f, err := os.Open(o.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		var replay *ingest.Replayer
		if o.Realtime {
			replay = ingest.NewReplayer(o.Speed)
			replay.TimestampScale = cfg.GetTimestampScale()
		}
		return consumeText(ctx, ingest.NewReader(f), replay, fn)
	}
}

func consumeText(ctx context.Context, rd *ingest.Reader, replay *ingest.Replayer, fn func(ingest.Record) error) error {
	malformed := 0
	defer func() {
		if malformed > 0 {
			log.Printf("skipped %d malformed lines", malformed)
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var lineErr *ingest.LineError
		if errors.As(err, &lineErr) {
			malformed++
			monitoring.Logf("%v", lineErr)
			continue
		}
		if err != nil {
			return err
		}
		if replay != nil {
			if err := replay.Wait(ctx, rec.Measurement.Timestamp); err != nil {
				return err
			}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func consumeSerial(ctx context.Context, mux serialmux.Mux, fn func(ingest.Record) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe before Monitor starts so no line is missed
	id, lines := mux.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		// closing the mux closes lines, which ends Forward
		mux.Close()
	}()

	stats, err := serialmux.Forward(ctx, lines, fn)
	cancel()
	<-done
	mux.Unsubscribe(id)
	log.Printf("serial: %d lines, %d records, %d malformed", stats.Lines, stats.Records, stats.Malformed)
	return err
}

func newHTTPServer(o options, bank *fusion.Bank, store *db.DB, mux serialmux.Mux) (*http.Server, error) {
	handler := api.NewServer(bank, store, o.Units).ServeMux()
	if store != nil {
		if err := store.AttachAdminRoutes(handler); err != nil {
			return nil, err
		}
	}
	if mux != nil {
		mux.AttachAdminRoutes(handler)
	}
	return &http.Server{
		Addr:    o.Listen,
		Handler: api.LoggingMiddleware(handler),
	}, nil
}

func serveUntilDone(ctx context.Context, server *http.Server) {
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
