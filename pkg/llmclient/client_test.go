package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	calls   int
	failN   int
	failErr error
	output  string
}

func (f *fakeGenerator) GenerateText(ctx context.Context, prompt string, spec GenerationSpec) (string, error) {
	f.calls++
	if f.calls <= f.failN {
		return "", f.failErr
	}
	return f.output, nil
}

func TestGenerateText_SucceedsFirstTry(t *testing.T) {
	gen := &fakeGenerator{output: "hello"}
	c := New(gen)
	out, err := c.GenerateText(context.Background(), "prompt", GenerationSpec{Provider: "openai", Model: "gpt"})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
	require.Equal(t, 1, gen.calls)
}

func TestGenerateText_RetriesThenSucceeds(t *testing.T) {
	gen := &fakeGenerator{failN: 2, failErr: errors.New("transient"), output: "done"}
	c := New(gen, WithMaxRetries(3))
	out, err := c.GenerateText(context.Background(), "prompt", GenerationSpec{})
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Equal(t, 3, gen.calls)
}

func TestGenerateText_ExhaustsRetries(t *testing.T) {
	gen := &fakeGenerator{failN: 100, failErr: errors.New("down")}
	c := New(gen, WithMaxRetries(2))
	_, err := c.GenerateText(context.Background(), "prompt", GenerationSpec{})
	require.Error(t, err)
	require.Equal(t, 3, gen.calls)
}

func TestGenerateText_CircuitOpensAfterThreshold(t *testing.T) {
	gen := &fakeGenerator{failN: 100, failErr: errors.New("down")}
	c := New(gen, WithMaxRetries(0), WithCircuitBreaker(2, time.Minute))

	_, err := c.GenerateText(context.Background(), "p", GenerationSpec{})
	require.Error(t, err)
	_, err = c.GenerateText(context.Background(), "p", GenerationSpec{})
	require.Error(t, err)

	_, err = c.GenerateText(context.Background(), "p", GenerationSpec{})
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestGenerateText_ContextCancellationAborts(t *testing.T) {
	gen := &fakeGenerator{failN: 100, failErr: errors.New("down")}
	c := New(gen, WithMaxRetries(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GenerateText(ctx, "p", GenerationSpec{})
	require.Error(t, err)
}

func TestGenerateText_RateLimiterBoundsCalls(t *testing.T) {
	gen := &fakeGenerator{output: "ok"}
	c := New(gen, WithRateLimit(1000, 1))
	out, err := c.GenerateText(context.Background(), "p", GenerationSpec{})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}
