package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName = "openai"

	openAIDefaultModel       = "gpt-4o-mini"
	openAIDefaultTemperature = 0.7
	openAIDefaultMaxTokens   = 32768
)

// OpenAIConfig holds configuration for an OpenAI-compatible chat client.
type OpenAIConfig struct {
	Name         string        // Provider identifier reported by Name(); defaults to "openai"
	APIKey       string
	BaseURL      string        // Any OpenAI-compatible endpoint (OpenRouter, DeepSeek, Gemini)
	DefaultModel string        // Used when Invoke is given no model
	Temperature  float64       // Default 0.7
	MaxTokens    int           // Default 32768
	RateLimit    int           // Requests per minute (0 = unlimited)
	Timeout      time.Duration // HTTP timeout
	HTTPClient   *http.Client  // Optional (tests)
}

// OpenAIClient implements Invoker on chat completions.
type OpenAIClient struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	temperature  float64
	maxTokens    int
	limiter      *RateLimiter
	client       openai.Client

	mu        sync.Mutex
	lastUsage Usage
}

// NewOpenAIClient creates a new chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Name == "" {
		cfg.Name = OpenAIName
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openAIDefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = openAIDefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = openAIDefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	// Retries are layered by the caller; see Retrying.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	c := &OpenAIClient{
		name:         cfg.Name,
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		client:       openai.NewClient(opts...),
	}
	if cfg.RateLimit > 0 {
		c.limiter = NewRateLimiter(cfg.RateLimit)
	}
	return c
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Model returns the configured default model.
func (c *OpenAIClient) Model() string {
	return c.defaultModel
}

// Limiter returns the client's rate limiter, or nil when unlimited.
func (c *OpenAIClient) Limiter() *RateLimiter {
	return c.limiter
}

// LastUsage returns token usage from the most recent successful call.
func (c *OpenAIClient) LastUsage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsage
}

// Invoke sends the prompt as the system message and the chunk as the user
// message, returning the first choice's content.
func (c *OpenAIClient) Invoke(ctx context.Context, chunk, prompt, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(chunk),
		},
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		err = c.mapError(err)
		if rle, ok := IsRateLimitError(err); ok && c.limiter != nil {
			c.limiter.Record429(rle.RetryAfter)
		}
		return "", err
	}

	c.mu.Lock()
	c.lastUsage = Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	c.mu.Unlock()

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("%s rate limited: %s", c.name, apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		return &StatusError{Provider: c.name, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return err
}

var _ Invoker = (*OpenAIClient)(nil)
var _ UsageReporter = (*OpenAIClient)(nil)
