package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// ollamaClient implements TextGenerator against the native Ollama API.
type ollamaClient struct {
	client       *api.Client
	model        string
	probeTimeout time.Duration
	retry        RetryPolicy
	logger       *zap.Logger
}

var _ TextGenerator = (*ollamaClient)(nil)

// newOllamaClient builds a client for a local Ollama server.
// api.NewClient expects the base URL without a /v1 suffix.
func newOllamaClient(opts Options, logger *zap.Logger) (*ollamaClient, error) {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base URL %q: %w", opts.BaseURL, err)
	}

	httpClient := &http.Client{
		Timeout: opts.Timeout,
	}

	return &ollamaClient{
		client:       api.NewClient(parsedURL, httpClient),
		model:        opts.Model,
		probeTimeout: opts.ProbeTimeout,
		retry:        opts.Retry,
		logger:       logger.Named("ollama").With(zap.String("model", opts.Model)),
	}, nil
}

// Generate runs a non-streaming completion through /api/generate.
func (c *ollamaClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	genReq := &api.GenerateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: func(b bool) *bool { return &b }(false),
	}

	startTime := time.Now()
	var result *GenerationResult

	err := withRetry(ctx, c.retry, c.logger, func() error {
		var text strings.Builder
		var final api.GenerateResponse

		err := c.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
			text.WriteString(resp.Response)
			if resp.Done {
				final = resp
			}
			return nil
		})
		if err != nil {
			return translateOllamaError(err)
		}
		if strings.TrimSpace(text.String()) == "" {
			return errEmptyResponse
		}

		model := final.Model
		if model == "" {
			model = c.model
		}
		result = &GenerationResult{
			Text:  text.String(),
			Model: model,
			Usage: UsageInfo{
				PromptTokens:     final.PromptEvalCount,
				CompletionTokens: final.EvalCount,
				TotalTokens:      final.PromptEvalCount + final.EvalCount,
			},
		}
		return nil
	})

	return finishGeneration(ProviderOllama, c.model, result, time.Since(startTime), err)
}

// GenerateAsync runs Generate in the background.
func (c *ollamaClient) GenerateAsync(ctx context.Context, req GenerationRequest) <-chan AsyncResult {
	return generateAsync(ctx, c, req)
}

// IsAvailable reports whether the Ollama server answers a model listing
// request within the probe timeout.
func (c *ollamaClient) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if _, err := c.client.List(probeCtx); err != nil {
		c.logger.Warn("availability probe failed", zap.Error(err))
		return false
	}
	return true
}

// translateOllamaError converts backend status responses into
// StatusError and passes transport errors through untouched so the
// retry loop can classify them.
func translateOllamaError(err error) error {
	var apiErr api.StatusError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.StatusCode, Message: apiErr.ErrorMessage}
	}
	return err
}
