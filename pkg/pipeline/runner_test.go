package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zen-systems/viewforge/pkg/adapter"
	"github.com/zen-systems/viewforge/pkg/artifact"
)

func testSource(t testing.TB) *artifact.Artifact {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	src, err := artifact.FromBytes(buf.Bytes(), "image/png")
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	return src
}

// scriptedGenerator fails the Nth call (1-based) with the mapped error.
type scriptedGenerator struct {
	mu       sync.Mutex
	failures map[int]error
	calls    int
	prompts  []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, _ *artifact.Artifact) (*artifact.Artifact, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if err, ok := g.failures[n]; ok {
		return nil, err
	}
	return artifact.New([]byte("view:"+prompt), "image/png", "scripted", "s-1", prompt), nil
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Models() []string { return []string{"s-1"} }

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestRunAllStepsComplete(t *testing.T) {
	gen := &scriptedGenerator{}
	r, err := NewRunner(gen, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	outcome, err := r.Run(context.Background(), testSource(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Completed || outcome.Summary() != "all steps completed" {
		t.Fatalf("expected completed outcome, got %s", outcome.Summary())
	}

	snap := r.Store().Snapshot()
	if !snap.AllCompleted() || snap.Count(StatusCompleted) != 6 {
		t.Fatalf("expected 6 completed steps, got %+v", snap.Steps)
	}
	for _, st := range snap.Steps {
		if st.Result == nil || st.Error != "" {
			t.Fatalf("step %d: expected result only, got %+v", st.Step.ID, st)
		}
	}
	if gen.callCount() != 6 {
		t.Fatalf("expected 6 calls, got %d", gen.callCount())
	}
	for i, prompt := range gen.prompts {
		if prompt != DefaultSteps()[i].Prompt {
			t.Fatalf("call %d used the wrong prompt", i+1)
		}
	}
}

func TestRunHaltsOnSafetyBlock(t *testing.T) {
	blocked := &adapter.GenerationError{
		Adapter: "google",
		Kind:    adapter.KindSafetyBlock,
		Reason:  "SAFETY",
		Message: "image generation blocked due to: SAFETY",
	}
	gen := &scriptedGenerator{failures: map[int]error{3: blocked}}
	r, err := NewRunner(gen, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	outcome, err := r.Run(context.Background(), testSource(t))
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step.Title != "Back View" || !strings.Contains(err.Error(), "failed at step: Back View.") {
		t.Fatalf("unexpected run error: %v", err)
	}
	if !errors.Is(err, adapter.ErrSafetyBlock) {
		t.Fatalf("expected safety block to be preserved, got %v", err)
	}
	if outcome == nil || outcome.FailedStep == nil || outcome.FailedStep.ID != 3 {
		t.Fatalf("expected halt at step 3, got %+v", outcome)
	}
	if outcome.Summary() != "halted at step 3 (Back View)" {
		t.Fatalf("unexpected summary %q", outcome.Summary())
	}

	snap := r.Store().Snapshot()
	want := []Status{StatusCompleted, StatusCompleted, StatusError, StatusPending, StatusPending, StatusPending}
	for i, st := range snap.Steps {
		if st.Status != want[i] {
			t.Fatalf("step %d: expected %s, got %s", st.Step.ID, want[i], st.Status)
		}
	}
	if !strings.Contains(snap.Steps[2].Error, "SAFETY") || snap.Steps[2].Result != nil {
		t.Fatalf("expected block reason on step 3, got %+v", snap.Steps[2])
	}
	if gen.callCount() != 3 {
		t.Fatalf("expected no calls after the failure, got %d", gen.callCount())
	}
}

func TestRunRejectsMissingSource(t *testing.T) {
	gen := &scriptedGenerator{}
	r, err := NewRunner(gen, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	var seen int
	unsubscribe := r.Store().Subscribe(func(Snapshot) { seen++ })
	defer unsubscribe()

	outcome, err := r.Run(context.Background(), nil)
	if !errors.Is(err, ErrNoSourceImage) || outcome != nil {
		t.Fatalf("expected ErrNoSourceImage, got %v", err)
	}
	if _, err := r.Run(context.Background(), &artifact.Artifact{MIMEType: "image/png"}); !errors.Is(err, ErrNoSourceImage) {
		t.Fatalf("expected ErrNoSourceImage for empty payload, got %v", err)
	}

	snap := r.Store().Snapshot()
	if snap.Count(StatusPending) != 6 || snap.Generation != 0 {
		t.Fatalf("store changed on rejected run: %+v", snap)
	}
	if seen != 0 || gen.callCount() != 0 {
		t.Fatalf("expected no notifications or calls, got %d/%d", seen, gen.callCount())
	}
}

func TestRunRejectsUnsupportedImage(t *testing.T) {
	r, err := NewRunner(&scriptedGenerator{}, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	src := &artifact.Artifact{Data: []byte("%PDF-1.4"), MIMEType: "application/pdf"}
	if _, err := r.Run(context.Background(), src); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
}

func TestRunRejectsUndecodableWebP(t *testing.T) {
	gen := &scriptedGenerator{}
	r, err := NewRunner(gen, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	src := artifact.New([]byte("definitely not an image"), "image/webp", "upload", "", "")
	if _, err := r.Run(context.Background(), src); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	if gen.callCount() != 0 {
		t.Fatalf("expected no model calls, got %d", gen.callCount())
	}
}

func TestRunTreatsEmptyResultAsError(t *testing.T) {
	r, err := NewRunner(emptyGenerator{}, DefaultSteps()[:2])
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	_, err = r.Run(context.Background(), testSource(t))
	if !errors.Is(err, adapter.ErrEmptyResponse) {
		t.Fatalf("expected empty response error, got %v", err)
	}
	if st := r.Store().Snapshot().Steps[0]; st.Status != StatusError {
		t.Fatalf("expected first step errored, got %s", st.Status)
	}
}

type emptyGenerator struct{}

func (emptyGenerator) Generate(context.Context, string, *artifact.Artifact) (*artifact.Artifact, error) {
	return nil, nil
}
func (emptyGenerator) Name() string     { return "empty" }
func (emptyGenerator) Models() []string { return nil }

func TestRestartResetsAfterFailure(t *testing.T) {
	gen := &scriptedGenerator{failures: map[int]error{1: errors.New("network down")}}
	r, err := NewRunner(gen, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := r.Run(context.Background(), testSource(t)); err == nil {
		t.Fatalf("expected first run to fail")
	}

	var first *Snapshot
	unsubscribe := r.Store().Subscribe(func(s Snapshot) {
		if first == nil {
			first = &s
		}
	})
	defer unsubscribe()

	if _, err := r.Run(context.Background(), testSource(t)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first == nil || first.Count(StatusPending) != 6 {
		t.Fatalf("expected reset to all pending, got %+v", first)
	}
	if !r.Store().Snapshot().AllCompleted() {
		t.Fatalf("expected second run to complete")
	}
}

func TestResetClearsCompletedRun(t *testing.T) {
	r, err := NewRunner(&scriptedGenerator{}, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := r.Run(context.Background(), testSource(t)); err != nil {
		t.Fatalf("run: %v", err)
	}
	snap := r.Reset()
	if snap.Count(StatusPending) != 6 || snap.RunID != "" {
		t.Fatalf("expected pending steps after reset, got %+v", snap)
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	r, err := NewRunner(&scriptedGenerator{}, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Run(ctx, testSource(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if r.Store().Snapshot().Count(StatusPending) != 6 {
		t.Fatalf("expected no step to start")
	}
}

// gatedGenerator blocks the configured call until released.
type gatedGenerator struct {
	mu      sync.Mutex
	calls   int
	gateAt  int
	started chan struct{}
	release chan struct{}
}

func (g *gatedGenerator) Generate(_ context.Context, prompt string, _ *artifact.Artifact) (*artifact.Artifact, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()

	if n == g.gateAt {
		close(g.started)
		<-g.release
		return artifact.New([]byte("stale"), "image/png", "gated", "g-1", prompt), nil
	}
	return artifact.New([]byte("fresh"), "image/png", "gated", "g-1", prompt), nil
}

func (g *gatedGenerator) Name() string { return "gated" }

func (g *gatedGenerator) Models() []string { return []string{"g-1"} }

func TestStaleResultDoesNotMutateNewRun(t *testing.T) {
	gen := &gatedGenerator{gateAt: 2, started: make(chan struct{}), release: make(chan struct{})}
	r, err := NewRunner(gen, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	src := testSource(t)

	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), src)
		firstDone <- err
	}()

	select {
	case <-gen.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("first run never reached step 2")
	}

	second, err := r.Run(context.Background(), src)
	if err != nil || !second.Completed {
		t.Fatalf("second run: %v", err)
	}
	before := r.Store().Snapshot()

	close(gen.release)
	select {
	case err := <-firstDone:
		if !errors.Is(err, ErrRunSuperseded) {
			t.Fatalf("expected first run superseded, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("first run did not return")
	}

	after := r.Store().Snapshot()
	if after.Generation != before.Generation || after.RunID != second.RunID {
		t.Fatalf("stale run changed the generation")
	}
	for i, st := range after.Steps {
		if st.Status != StatusCompleted || string(st.Result.Data) != "fresh" {
			t.Fatalf("step %d mutated by stale result: %+v", i+1, st)
		}
		if st.Result != before.Steps[i].Result {
			t.Fatalf("step %d result replaced", i+1)
		}
	}
}

func TestStoreRejectsInvalidTransitions(t *testing.T) {
	s := NewStore(DefaultSteps())
	gen, _ := s.begin("run")

	if _, err := s.transition(gen, StepFront, StatusCompleted, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}
	if _, err := s.transition(gen, 99, StatusGenerating, nil, ""); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected unknown step, got %v", err)
	}
	if _, err := s.transition(gen, StepFront, StatusGenerating, nil, ""); err != nil {
		t.Fatalf("pending -> generating: %v", err)
	}
	if _, err := s.transition(gen, StepBack, StatusGenerating, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second generating step must be rejected, got %v", err)
	}
	if _, err := s.transition(gen, StepFront, StatusCompleted, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed without result must be rejected, got %v", err)
	}
	if _, err := s.transition(gen, StepFront, StatusError, nil, ""); err != nil {
		t.Fatalf("generating -> error: %v", err)
	}
	st, _ := s.Snapshot().Step(StepFront)
	if st.Error == "" {
		t.Fatalf("expected a default error message")
	}
	if _, err := s.transition(gen, StepFront, StatusGenerating, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal state must not be left, got %v", err)
	}
	if _, err := s.transition(gen-1, StepBack, StatusGenerating, nil, ""); !errors.Is(err, ErrStaleRun) {
		t.Fatalf("expected stale run, got %v", err)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s := NewStore(DefaultSteps())
	var count int
	unsubscribe := s.Subscribe(func(Snapshot) { count++ })
	s.begin("a")
	unsubscribe()
	unsubscribe()
	s.begin("b")
	if count != 1 {
		t.Fatalf("expected exactly one notification, got %d", count)
	}
}

func TestNewRunnerValidates(t *testing.T) {
	if _, err := NewRunner(nil, DefaultSteps()); err == nil {
		t.Fatalf("expected generator error")
	}
	if _, err := NewRunner(&scriptedGenerator{}, nil); err == nil {
		t.Fatalf("expected empty registry error")
	}
}

func TestStartRunsInBackground(t *testing.T) {
	r, err := NewRunner(&scriptedGenerator{}, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	done := make(chan *Outcome, 1)
	runID, err := r.Start(context.Background(), testSource(t), func(o *Outcome, err error) {
		if err != nil {
			t.Errorf("run: %v", err)
		}
		done <- o
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected a run id")
	}

	select {
	case o := <-done:
		if o == nil || o.RunID != runID || !o.Completed {
			t.Fatalf("unexpected outcome %+v", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish")
	}
}

func TestStartRejectsMissingSourceWithoutReset(t *testing.T) {
	r, err := NewRunner(&scriptedGenerator{}, DefaultSteps())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	before := r.Store().Generation()
	if _, err := r.Start(context.Background(), nil, nil); !errors.Is(err, ErrNoSourceImage) {
		t.Fatalf("expected missing source, got %v", err)
	}
	if r.Store().Generation() != before {
		t.Fatalf("rejected start must not touch the store")
	}
}

func TestWatchReturnsStartingSnapshot(t *testing.T) {
	s := NewStore(DefaultSteps())
	gen, _ := s.begin("run")
	if _, err := s.transition(gen, StepOpposite, StatusGenerating, nil, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	var seen []Snapshot
	snap, unsubscribe := s.Watch(func(next Snapshot) { seen = append(seen, next) })
	defer unsubscribe()

	st, _ := snap.Step(StepOpposite)
	if st.Status != StatusGenerating {
		t.Fatalf("expected starting snapshot to show generating, got %s", st.Status)
	}
	if _, err := s.transition(gen, StepOpposite, StatusError, nil, "boom"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(seen) != 1 || seen[0].Count(StatusError) != 1 {
		t.Fatalf("expected one newer notification, got %+v", seen)
	}
}
