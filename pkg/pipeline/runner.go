package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/viewforge/pkg/adapter"
	"github.com/zen-systems/viewforge/pkg/artifact"
	"github.com/zen-systems/viewforge/pkg/metrics"
	"go.uber.org/zap"
)

// Outcome summarizes a finished run.
type Outcome struct {
	RunID      string
	Generation uint64
	Completed  bool
	// FailedStep is set when the run halted on an error.
	FailedStep *StepDefinition
	Err        error
	Snapshot   Snapshot
	Duration   time.Duration
}

// Summary renders the outcome for logs and CLI output.
func (o *Outcome) Summary() string {
	if o == nil {
		return "no run"
	}
	if o.Completed {
		return "all steps completed"
	}
	if o.FailedStep != nil {
		return fmt.Sprintf("halted at step %d (%s)", o.FailedStep.ID, o.FailedStep.Title)
	}
	return "incomplete"
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records run and step metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) {
		r.metrics = c
	}
}

// Runner drives the registry through a generator one step at a time and owns
// every transition in its Store.
type Runner struct {
	steps     []StepDefinition
	generator adapter.ImageGenerator
	store     *Store
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewRunner validates the steps and creates a runner with a fresh store.
func NewRunner(generator adapter.ImageGenerator, steps []StepDefinition, opts ...Option) (*Runner, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}

	defs := make([]StepDefinition, len(steps))
	copy(defs, steps)

	r := &Runner{
		steps:     defs,
		generator: generator,
		store:     NewStore(defs),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	return r, nil
}

// Store returns the read side of the runner's state.
func (r *Runner) Store() *Store {
	return r.store
}

// Steps returns the registry the runner executes.
func (r *Runner) Steps() []StepDefinition {
	out := make([]StepDefinition, len(r.steps))
	copy(out, r.steps)
	return out
}

// Reset abandons any in-flight run and returns every step to pending.
func (r *Runner) Reset() Snapshot {
	_, snap := r.store.begin("")
	r.logger.Info("steps reset", zap.Uint64("generation", snap.Generation))
	return snap
}

// Run executes every step in order against source and stops at the first
// failure. Starting another Run (or Reset) supersedes this one: its later
// results are discarded and it returns ErrRunSuperseded.
func (r *Runner) Run(ctx context.Context, source *artifact.Artifact) (*Outcome, error) {
	run, err := r.prepare(source)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, source, run)
}

// Start validates source and resets the store synchronously, then runs the
// steps on a new goroutine. done, if set, receives the result of that run.
func (r *Runner) Start(ctx context.Context, source *artifact.Artifact, done func(*Outcome, error)) (string, error) {
	run, err := r.prepare(source)
	if err != nil {
		return "", err
	}
	go func() {
		outcome, err := r.execute(ctx, source, run)
		if done != nil {
			done(outcome, err)
		}
	}()
	return run.outcome.RunID, nil
}

type pendingRun struct {
	outcome *Outcome
	start   time.Time
}

func (r *Runner) prepare(source *artifact.Artifact) (*pendingRun, error) {
	if source == nil || len(source.Data) == 0 {
		r.metrics.RecordRun("rejected")
		return nil, ErrNoSourceImage
	}
	if err := artifact.Validate(source.Data, source.MIMEType); err != nil {
		r.metrics.RecordRun("rejected")
		return nil, err
	}

	start := time.Now()
	runID := uuid.NewString()
	gen, snap := r.store.begin(runID)
	return &pendingRun{
		outcome: &Outcome{RunID: runID, Generation: gen, Snapshot: snap},
		start:   start,
	}, nil
}

func (r *Runner) execute(ctx context.Context, source *artifact.Artifact, run *pendingRun) (*Outcome, error) {
	outcome, start, gen := run.outcome, run.start, run.outcome.Generation
	logger := r.logger.With(zap.String("run_id", outcome.RunID), zap.Uint64("generation", gen))
	logger.Info("run started", zap.Int("steps", len(r.steps)), zap.String("adapter", r.generator.Name()))

	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			logger.Warn("run cancelled", zap.Error(err))
			outcome.Err = err
			outcome.Duration = time.Since(start)
			r.metrics.RecordRun("cancelled")
			return outcome, err
		}

		snap, err := r.store.transition(gen, step.ID, StatusGenerating, nil, "")
		if err != nil {
			return r.abandon(logger, err)
		}
		outcome.Snapshot = snap
		r.metrics.RecordTransition(step.Title, string(StatusGenerating))
		logger.Debug("step generating", zap.Int("step", step.ID), zap.String("title", step.Title))

		callStart := time.Now()
		result, genErr := r.generator.Generate(ctx, step.Prompt, source)
		if genErr == nil && (result == nil || len(result.Data) == 0) {
			genErr = &adapter.GenerationError{
				Adapter: r.generator.Name(),
				Kind:    adapter.KindEmptyResponse,
				Message: "No image data found in the API response.",
			}
		}
		elapsed := time.Since(callStart)

		if genErr != nil {
			snap, err := r.store.transition(gen, step.ID, StatusError, nil, genErr.Error())
			if err != nil {
				return r.abandon(logger, err)
			}
			r.metrics.RecordTransition(step.Title, string(StatusError))
			r.metrics.RecordStepDuration(r.generator.Name(), string(StatusError), elapsed)
			r.metrics.RecordRun("halted")

			failed := step
			stepErr := &StepError{Step: step, Err: genErr}
			outcome.Snapshot = snap
			outcome.FailedStep = &failed
			outcome.Err = stepErr
			outcome.Duration = time.Since(start)
			logger.Error("run halted",
				zap.Int("step", step.ID),
				zap.String("title", step.Title),
				zap.String("kind", string(adapter.KindOf(genErr))),
				zap.Error(genErr),
			)
			return outcome, stepErr
		}

		snap, err = r.store.transition(gen, step.ID, StatusCompleted, result, "")
		if err != nil {
			return r.abandon(logger, err)
		}
		outcome.Snapshot = snap
		r.metrics.RecordTransition(step.Title, string(StatusCompleted))
		r.metrics.RecordStepDuration(r.generator.Name(), string(StatusCompleted), elapsed)
		logger.Info("step completed",
			zap.Int("step", step.ID),
			zap.String("title", step.Title),
			zap.Duration("duration", elapsed),
			zap.Int("bytes", result.Size()),
		)
	}

	outcome.Completed = true
	outcome.Duration = time.Since(start)
	r.metrics.RecordRun("completed")
	logger.Info("run completed", zap.Duration("duration", outcome.Duration))
	return outcome, nil
}

func (r *Runner) abandon(logger *zap.Logger, err error) (*Outcome, error) {
	if errors.Is(err, ErrStaleRun) {
		logger.Info("run superseded; discarding result")
		r.metrics.RecordRun("superseded")
		return nil, ErrRunSuperseded
	}
	logger.Error("store rejected transition", zap.Error(err))
	return nil, err
}
