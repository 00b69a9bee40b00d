package adapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/viewforge/pkg/artifact"
)

// MockAdapter returns deterministic images for local runs and tests.
type MockAdapter struct {
	// Failures maps a prompt substring to the error returned for matching
	// prompts. When several substrings match, the lexically smallest wins.
	Failures map[string]error
	// Delay simulates remote latency; the wait honours ctx.
	Delay time.Duration

	mu    sync.Mutex
	calls []string
}

// NewMockAdapter creates a mock adapter that always succeeds.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{Failures: make(map[string]error)}
}

// NewMockAdapterWithFailures creates a mock adapter with scripted failures.
func NewMockAdapterWithFailures(failures map[string]error) *MockAdapter {
	if failures == nil {
		failures = make(map[string]error)
	}
	return &MockAdapter{Failures: failures}
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Calls returns the prompts seen so far, in call order.
func (a *MockAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// Generate returns a small solid-color PNG derived from the prompt.
func (a *MockAdapter) Generate(ctx context.Context, prompt string, source *artifact.Artifact) (*artifact.Artifact, error) {
	a.mu.Lock()
	a.calls = append(a.calls, prompt)
	a.mu.Unlock()

	if a.Delay > 0 {
		timer := time.NewTimer(a.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, transportError(a.Name(), ctx.Err())
		case <-timer.C:
		}
	}

	if err := a.failureFor(prompt); err != nil {
		return nil, err
	}

	data, err := mockImage(prompt)
	if err != nil {
		return nil, err
	}
	return artifact.New(data, "image/png", a.Name(), "mock-1", prompt), nil
}

func (a *MockAdapter) failureFor(prompt string) error {
	matches := make([]string, 0, 1)
	for match := range a.Failures {
		if strings.Contains(prompt, match) {
			matches = append(matches, match)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)
	return a.Failures[matches[0]]
}

func mockImage(prompt string) ([]byte, error) {
	sum := sha256.Sum256([]byte(prompt))
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fill := color.RGBA{R: sum[0], G: sum[1], B: sum[2], A: 255}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
