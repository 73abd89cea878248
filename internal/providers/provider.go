// Package providers invokes language models for a single serialized chunk.
//
// The core contract is Invoker: one request in, the model's raw text out.
// Retries, rate limiting and call recording are layered around it as
// decorators so the pipeline never sees more than one outstanding call.
package providers

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse reports a call that succeeded but returned no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Invoker sends one serialized chunk with a prompt to a model.
//
// An empty string with a nil error is a null response; the caller treats it
// the same as a failure that yielded no fragments.
type Invoker interface {
	Invoke(ctx context.Context, chunk, prompt, model string) (string, error)

	// Name returns the provider identifier (e.g., "openai").
	Name() string
}

// Usage is token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageReporter is implemented by invokers that can report the token usage
// of their most recent call.
type UsageReporter interface {
	LastUsage() Usage
}

// CallRecord describes one model call for traceability.
type CallRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int64     `json:"latency_ms"`

	// Context references
	ChunkKey   string `json:"chunk_key,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	PromptHash string `json:"prompt_hash,omitempty"`

	// Model info
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	ResponseBytes int `json:"response_bytes"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
