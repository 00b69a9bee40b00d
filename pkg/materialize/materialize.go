// Package materialize fakes the photogrammetry stage that follows a completed
// run. It only cycles cosmetic phase labels on a timer; no geometry is built.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/viewforge/pkg/metrics"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"go.uber.org/zap"
)

// Status of the materialization stage.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Phases are the labels shown while processing, cycled in order.
var Phases = []string{
	"Analyzing reference images...",
	"Calibrating camera positions...",
	"Building dense point cloud...",
	"Generating 3D mesh from points...",
	"Creating texture map...",
	"Finalizing model...",
}

const (
	DefaultInterval = 1200 * time.Millisecond
	DefaultDuration = 7500 * time.Millisecond
)

var (
	ErrNotReady = errors.New("all views must be completed before materializing")
	ErrBusy     = errors.New("materialization already in progress")
)

// State is what observers render.
type State struct {
	Status Status `json:"status"`
	Phase  string `json:"phase,omitempty"`
	Index  int    `json:"index"`
}

// Config sets the timer cadence.
type Config struct {
	Interval time.Duration
	Duration time.Duration
}

// Materializer runs the fake stage. Safe for concurrent use.
type Materializer struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	epoch  uint64
}

// New creates an idle materializer. Zero config fields take the defaults.
func New(cfg Config, logger *zap.Logger, collector *metrics.Collector) *Materializer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "materializer")),
		metrics: collector,
		state:   State{Status: StatusIdle},
	}
}

// State returns the current state.
func (m *Materializer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset cancels any processing and returns to idle.
func (m *Materializer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.epoch++
	m.state = State{Status: StatusIdle}
}

// Start begins processing in the background.
func (m *Materializer) Start(ctx context.Context, snap pipeline.Snapshot) error {
	runCtx, epoch, err := m.begin(ctx, snap)
	if err != nil {
		return err
	}
	go func() {
		_ = m.loop(runCtx, epoch, nil)
	}()
	return nil
}

// Run processes synchronously, calling onChange for every state change.
func (m *Materializer) Run(ctx context.Context, snap pipeline.Snapshot, onChange func(State)) error {
	runCtx, epoch, err := m.begin(ctx, snap)
	if err != nil {
		return err
	}
	if onChange != nil {
		onChange(m.State())
	}
	return m.loop(runCtx, epoch, onChange)
}

func (m *Materializer) begin(ctx context.Context, snap pipeline.Snapshot) (context.Context, uint64, error) {
	if !snap.AllCompleted() {
		return nil, 0, ErrNotReady
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == StatusProcessing {
		return nil, 0, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.epoch++
	m.state = State{Status: StatusProcessing, Phase: Phases[0], Index: 0}
	m.logger.Info("materialization started", zap.String("run_id", snap.RunID))
	return runCtx, m.epoch, nil
}

func (m *Materializer) loop(ctx context.Context, epoch uint64, onChange func(State)) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	done := time.NewTimer(m.cfg.Duration)
	defer done.Stop()

	for {
		select {
		case <-ctx.Done():
			m.update(epoch, func(s *State) { *s = State{Status: StatusIdle} }, onChange)
			return fmt.Errorf("materialization interrupted: %w", ctx.Err())
		case <-ticker.C:
			m.update(epoch, func(s *State) {
				s.Index = (s.Index + 1) % len(Phases)
				s.Phase = Phases[s.Index]
			}, onChange)
		case <-done.C:
			if m.update(epoch, func(s *State) { *s = State{Status: StatusCompleted} }, onChange) {
				m.metrics.RecordMaterialization()
				m.logger.Info("materialization completed")
			}
			return nil
		}
	}
}

// update applies fn if epoch is still current and reports whether it did.
func (m *Materializer) update(epoch uint64, fn func(*State), onChange func(State)) bool {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return false
	}
	fn(&m.state)
	if m.state.Status != StatusProcessing && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	state := m.state
	m.mu.Unlock()

	if onChange != nil {
		onChange(state)
	}
	return true
}

// DefaultView is the view the interactive viewer opens on.
const DefaultView = "3/4 View"

// RotationViews returns the completed steps in viewer order: front, 3/4,
// opposite profile, back.
func RotationViews(snap pipeline.Snapshot) []pipeline.StepState {
	order := []int{pipeline.StepFront, pipeline.StepThreeQtr, pipeline.StepOpposite, pipeline.StepBack}
	views := make([]pipeline.StepState, 0, len(order))
	for _, id := range order {
		st, ok := snap.Step(id)
		if ok && st.Result != nil {
			views = append(views, st)
		}
	}
	return views
}
