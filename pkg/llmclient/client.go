// Package llmclient wraps the opaque GenerateText interface with
// outbound-call resiliency:
// a circuit breaker, retry with exponential backoff and jitter, and an
// outbound rate limiter. None of this participates in determinism: the
// wrapped call's output is a job body's concern, not the engine's.
package llmclient

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GenerationSpec carries the provider-facing generation parameters for a
// single call.
type GenerationSpec struct {
	Provider        string
	Model           string
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	Seed            *int64
}

// Generator is the opaque text-generation collaborator the engine's job
// bodies consume. Any failure surfaces to the caller as a body failure.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, spec GenerationSpec) (string, error)
}

// Client wraps a Generator with circuit-breaking, retry+jitter, and rate
// limiting applied to the opaque LLM call. The per-call trace id is not
// sent as a header or stored in ctx; it appears only in the error
// returned when every attempt has failed. The retry loop's "retryable"
// test is any non-nil error rather than a 5xx status code.
type Client struct {
	inner      Generator
	maxRetries int
	breaker    *CircuitBreaker
	limiter    *rate.Limiter
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithMaxRetries overrides the default retry count (3).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithCircuitBreaker overrides the default breaker (5 failures / 10s reset).
func WithCircuitBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(c *Client) { c.breaker = NewCircuitBreaker("llmclient", threshold, resetTimeout) }
}

// WithRateLimit bounds outbound calls to rps with a burst of burst,
// guarding against a burst of runs overrunning the configured provider's
// rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New wraps inner with the default resiliency policy, overridden by opts.
func New(inner Generator, opts ...Option) *Client {
	c := &Client{
		inner:      inner,
		maxRetries: 3,
		breaker:    NewCircuitBreaker("llmclient", 5, 10*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrCircuitOpen is returned when the breaker is tripped and the reset
// timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("llmclient: circuit breaker open")

// GenerateText calls the wrapped Generator, retrying transient failures
// with exponential backoff plus jitter, bounded by ctx's deadline and the
// rate limiter configured via WithRateLimit. A trace id is generated per
// call purely for log correlation; it never participates in the prompt
// or the response.
func (c *Client) GenerateText(ctx context.Context, prompt string, spec GenerationSpec) (string, error) {
	if !c.breaker.Allow() {
		return "", ErrCircuitOpen
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.breaker.Failure()
			return "", fmt.Errorf("llmclient: rate limit wait: %w", err)
		}
	}

	traceID := newTraceID()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		out, err := c.inner.GenerateText(ctx, prompt, spec)
		if err == nil {
			c.breaker.Success()
			return out, nil
		}
		lastErr = err

		if attempt == c.maxRetries || ctx.Err() != nil {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
		jitter := time.Duration(0)
		if n, rerr := rand.Int(rand.Reader, big.NewInt(100)); rerr == nil {
			jitter = time.Duration(n.Int64()) * time.Millisecond
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = c.maxRetries
		case <-time.After(backoff + jitter):
		}
	}

	c.breaker.Failure()
	return "", fmt.Errorf("llmclient: trace=%s generate failed after %d attempts: %w", traceID, c.maxRetries+1, lastErr)
}

func newTraceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// CircuitBreaker is a CLOSED/OPEN/HALF_OPEN failure detector.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
}

func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{name: name, threshold: threshold, resetTimeout: resetTimeout, state: "CLOSED"}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = "CLOSED"
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}

func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
