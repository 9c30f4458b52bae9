// Package ai implements text generation clients for locally hosted
// language model backends. Two providers are supported: the native
// Ollama API and any OpenAI-compatible endpoint.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Supported backend providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	defaultTimeout      = 120 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// ErrGenerationFailed marks a terminal text generation failure.
var ErrGenerationFailed = errors.New("text generation failed")

// errEmptyResponse marks a request that completed but produced no
// usable text. It is terminal and never retried.
var errEmptyResponse = fmt.Errorf("%w: received empty response", ErrGenerationFailed)

// StatusError reports a non-success HTTP status returned by the
// generation backend. Status errors are terminal and never retried.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("generation backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("generation backend returned status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrGenerationFailed }

// GenerationRequest carries one prompt to the backend.
type GenerationRequest struct {
	Prompt string
	System string
}

// UsageInfo describes token consumption of a single generation.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerationResult is a completed generation.
type GenerationResult struct {
	Text     string
	Model    string
	Usage    UsageInfo
	Duration time.Duration
}

// AsyncResult is delivered on the channel returned by GenerateAsync.
type AsyncResult struct {
	Result *GenerationResult
	Err    error
}

// TextGenerator produces chapter text from prompts.
type TextGenerator interface {
	// Generate runs a single generation request to completion.
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	// GenerateAsync runs Generate in the background and delivers the
	// outcome on the returned channel. The channel is buffered and
	// receives exactly one value before it is closed.
	GenerateAsync(ctx context.Context, req GenerationRequest) <-chan AsyncResult
	// IsAvailable probes the backend and reports whether it responds
	// within the probe timeout. It never returns an error.
	IsAvailable(ctx context.Context) bool
}

// RetryPolicy bounds transport-level retries inside a client. Only
// network errors and timeouts are retried; status errors returned by
// the backend are passed through immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// delayBefore returns the backoff applied after the given failed
// attempt, growing exponentially from BaseDelay up to MaxDelay.
func (p RetryPolicy) delayBefore(attempt int) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Options configures the client factory.
type Options struct {
	Provider     string
	BaseURL      string
	Model        string
	APIKey       string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	Retry        RetryPolicy
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	o.Retry = o.Retry.withDefaults()
	return o
}

// New builds a TextGenerator for the configured provider. An empty
// provider selects Ollama.
func New(opts Options, logger *zap.Logger) (TextGenerator, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(opts.Provider) {
	case ProviderOllama, "":
		return newOllamaClient(opts, logger)
	case ProviderOpenAI:
		return newOpenAIClient(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown text generation provider: %q", opts.Provider)
	}
}

// withRetry runs op until it succeeds, fails with a terminal error, or
// exhausts the attempt budget.
func withRetry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, op func() error) error {
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		delay := policy.delayBefore(attempt)
		logger.Warn("generation attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// isRetryable reports whether err looks like a transient transport
// problem. Backend status errors and caller cancellation are terminal.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// finishGeneration classifies the outcome of a Generate call, records
// metrics and normalizes the returned error so that callers can match
// it against ErrGenerationFailed.
func finishGeneration(provider, model string, result *GenerationResult, duration time.Duration, err error) (*GenerationResult, error) {
	if err != nil {
		recordRequest(provider, model, statusFromError(err))
		if !errors.Is(err, ErrGenerationFailed) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		return nil, err
	}

	result.Duration = duration
	recordRequest(provider, model, statusSuccess)
	observeDuration(provider, model, duration)
	observeUsage(provider, model, result.Usage)
	return result, nil
}

// generateAsync adapts a synchronous Generate call to the channel form
// shared by both client implementations.
func generateAsync(ctx context.Context, g TextGenerator, req GenerationRequest) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		defer close(out)
		result, err := g.Generate(ctx, req)
		out <- AsyncResult{Result: result, Err: err}
	}()
	return out
}
