// Package server exposes the turnaround workflow over HTTP: upload a source
// image, watch the steps progress, materialize, and download a kit.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zen-systems/viewforge/pkg/artifact"
	"github.com/zen-systems/viewforge/pkg/materialize"
	"github.com/zen-systems/viewforge/pkg/metrics"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"go.uber.org/zap"
)

// Options configures a Server. Runner is required.
type Options struct {
	Runner       *pipeline.Runner
	Materializer *materialize.Materializer
	Metrics      *metrics.Collector
	Logger       *zap.Logger

	MaxUploadBytes int64
	RunsPerMinute  float64
	RunBurst       int

	// Now stamps exported bundles.
	Now func() time.Time
}

// Server holds the uploaded source and the in-flight run.
type Server struct {
	ctx     context.Context
	runner  *pipeline.Runner
	mat     *materialize.Materializer
	metrics *metrics.Collector
	logger  *zap.Logger
	opts    Options

	mu        sync.Mutex
	source    *artifact.Artifact
	cancelRun context.CancelFunc
}

// New creates a server whose runs and materializations live until ctx is done.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("server requires a runner")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Materializer == nil {
		opts.Materializer = materialize.New(materialize.Config{}, opts.Logger, opts.Metrics)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.RunsPerMinute <= 0 {
		opts.RunsPerMinute = 6
	}
	if opts.RunBurst <= 0 {
		opts.RunBurst = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Server{
		ctx:     ctx,
		runner:  opts.Runner,
		mat:     opts.Materializer,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(zap.String("component", "server")),
		opts:    opts,
	}, nil
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	limit := RateLimiter(s.ctx, s.opts.RunsPerMinute/60, s.opts.RunBurst, s.logger)

	mux := http.NewServeMux()
	mux.Handle("POST /api/runs", limit(http.HandlerFunc(s.handleStartRun)))
	mux.HandleFunc("GET /api/steps", s.handleSteps)
	mux.HandleFunc("GET /api/steps/{id}/image", s.handleStepImage)
	mux.HandleFunc("GET /api/source", s.handleSource)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/materialize", s.handleStartMaterialize)
	mux.HandleFunc("GET /api/materialize", s.handleMaterializeState)
	mux.HandleFunc("GET /api/views", s.handleViews)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return Chain(mux, Recovery(s.logger), Observe(s.logger, s.metrics))
}

// Close cancels the in-flight run, if any.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
}

// startRun supersedes any in-flight run with a new one over source.
func (s *Server) startRun(source *artifact.Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	runID, err := s.runner.Start(ctx, source, func(outcome *pipeline.Outcome, err error) {
		defer cancel()
		switch {
		case errors.Is(err, pipeline.ErrRunSuperseded):
			s.logger.Debug("run superseded")
		case outcome != nil:
			s.logger.Info("run finished",
				zap.String("run_id", outcome.RunID),
				zap.String("summary", outcome.Summary()),
				zap.Duration("duration", outcome.Duration),
			)
		case err != nil:
			s.logger.Error("run failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return "", err
	}

	// The new generation is already current, so the old run's late results
	// are discarded rather than shown.
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.cancelRun = cancel
	s.source = source
	s.mat.Reset()
	return runID, nil
}

func (s *Server) reset() pipeline.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.runner.Reset()
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.mat.Reset()
	return snap
}

func (s *Server) currentSource() *artifact.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// exportInputs returns the source together with the snapshot of the run it
// started. startRun swaps both under s.mu, so they always belong together.
func (s *Server) exportInputs() (*artifact.Artifact, pipeline.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source, s.runner.Store().Snapshot()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
