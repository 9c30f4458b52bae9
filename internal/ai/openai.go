package ai

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// fallbackEncoding is used for token estimation when the configured
// model has no registered tiktoken encoding.
const fallbackEncoding = "cl100k_base"

// openAIClient implements TextGenerator through any OpenAI-compatible
// endpoint, such as vLLM or LM Studio serving a local model.
type openAIClient struct {
	client       *openai.Client
	model        string
	probeTimeout time.Duration
	retry        RetryPolicy
	logger       *zap.Logger

	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
}

var _ TextGenerator = (*openAIClient)(nil)

func newOpenAIClient(opts Options, logger *zap.Logger) *openAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{
		Timeout: opts.Timeout,
	}

	return &openAIClient{
		client:       openai.NewClientWithConfig(cfg),
		model:        opts.Model,
		probeTimeout: opts.ProbeTimeout,
		retry:        opts.Retry,
		logger:       logger.Named("openai").With(zap.String("model", opts.Model)),
	}
}

// Generate runs a chat completion with the system prompt and user
// prompt split into their respective message roles.
func (c *openAIClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	startTime := time.Now()
	var result *GenerationResult

	err := withRetry(ctx, c.retry, c.logger, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
		})
		if err != nil {
			return translateOpenAIError(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return errEmptyResponse
		}

		text := resp.Choices[0].Message.Content
		usage := UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		// Local OpenAI-compatible servers frequently omit the usage
		// block, so fall back to a tiktoken estimate.
		if usage.TotalTokens == 0 {
			usage = c.estimateUsage(req, text)
		}

		model := resp.Model
		if model == "" {
			model = c.model
		}
		result = &GenerationResult{Text: text, Model: model, Usage: usage}
		return nil
	})

	return finishGeneration(ProviderOpenAI, c.model, result, time.Since(startTime), err)
}

// GenerateAsync runs Generate in the background.
func (c *openAIClient) GenerateAsync(ctx context.Context, req GenerationRequest) <-chan AsyncResult {
	return generateAsync(ctx, c, req)
}

// IsAvailable reports whether the endpoint answers a model listing
// request within the probe timeout.
func (c *openAIClient) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if _, err := c.client.ListModels(probeCtx); err != nil {
		c.logger.Warn("availability probe failed", zap.Error(err))
		return false
	}
	return true
}

func (c *openAIClient) estimateUsage(req GenerationRequest, text string) UsageInfo {
	enc := c.tokenEncoding()
	if enc == nil {
		return UsageInfo{}
	}
	prompt := len(enc.Encode(req.System, nil, nil)) + len(enc.Encode(req.Prompt, nil, nil))
	completion := len(enc.Encode(text, nil, nil))
	return UsageInfo{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func (c *openAIClient) tokenEncoding() *tiktoken.Tiktoken {
	c.encodingOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding(fallbackEncoding)
		}
		if err != nil {
			c.logger.Warn("token encoding unavailable, skipping usage estimation", zap.Error(err))
			return
		}
		c.encoding = enc
	})
	return c.encoding
}

// translateOpenAIError converts API errors into StatusError and passes
// transport errors through untouched so the retry loop can classify
// them.
func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}
