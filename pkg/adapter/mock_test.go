package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/viewforge/pkg/artifact"
)

func TestMockAdapterDeterministic(t *testing.T) {
	m := NewMockAdapter()
	src := artifact.New([]byte{1}, "image/png", "upload", "", "")

	a, err := m.Generate(context.Background(), "front view", src)
	require.NoError(t, err)
	b, err := m.Generate(context.Background(), "front view", src)
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, "image/png", a.MIMEType)
	assert.NoError(t, artifact.Validate(a.Data, a.MIMEType))
	assert.Equal(t, []string{"front view", "front view"}, m.Calls())
}

func TestMockAdapterScriptedFailure(t *testing.T) {
	blocked := &GenerationError{Adapter: "mock", Kind: KindSafetyBlock, Message: "image generation blocked due to: SAFETY"}
	m := NewMockAdapterWithFailures(map[string]error{"Back": blocked})

	_, err := m.Generate(context.Background(), "Back view please", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSafetyBlock))
	assert.Equal(t, KindSafetyBlock, KindOf(err))
}

func TestMockAdapterDelayHonoursContext(t *testing.T) {
	m := NewMockAdapter()
	m.Delay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRateLimitedDelegates(t *testing.T) {
	m := NewMockAdapter()
	r := NewRateLimited(m, 0, 1)

	assert.Equal(t, "mock", r.Name())
	_, err := r.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Len(t, m.Calls(), 1)
}

func TestRateLimitedWaitCancelled(t *testing.T) {
	m := NewMockAdapter()
	r := NewRateLimited(m, time.Hour, 1)

	_, err := r.Generate(context.Background(), "first", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Generate(ctx, "second", nil)
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Len(t, m.Calls(), 1)
}

func TestGenerationErrorMessage(t *testing.T) {
	err := &GenerationError{Adapter: "google", Kind: KindTransport, Err: errors.New("dial tcp: refused")}
	assert.Equal(t, "google API error: dial tcp: refused", err.Error())
	assert.False(t, errors.Is(err, ErrSafetyBlock))
}

func TestMockAdapterOverlappingFailuresAreDeterministic(t *testing.T) {
	first := errors.New("matched Back")
	second := errors.New("matched view")
	m := NewMockAdapterWithFailures(map[string]error{"view": second, "Back": first})

	for i := 0; i < 50; i++ {
		_, err := m.Generate(context.Background(), "Back view please", nil)
		require.ErrorIs(t, err, first)
	}
}
