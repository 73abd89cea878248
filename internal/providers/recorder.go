package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type callContextKey struct{}

// CallContext identifies the chunk a call is made for.
type CallContext struct {
	ChunkKey   string
	ChunkIndex int
	PromptHash string
}

// WithCallContext attaches chunk identity to ctx for the Recorder.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

func callContextFrom(ctx context.Context) CallContext {
	cc, _ := ctx.Value(callContextKey{}).(CallContext)
	return cc
}

// Recorder wraps an Invoker and records a CallRecord for every call.
type Recorder struct {
	inner  Invoker
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	calls []CallRecord
}

// NewRecorder creates a recording decorator.
func NewRecorder(inner Invoker, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{inner: inner, logger: logger, now: time.Now}
}

// Name returns the wrapped provider's name.
func (r *Recorder) Name() string {
	return r.inner.Name()
}

// Invoke forwards the call and records its outcome.
func (r *Recorder) Invoke(ctx context.Context, chunk, prompt, model string) (string, error) {
	cc := callContextFrom(ctx)
	start := r.now()

	text, err := r.inner.Invoke(ctx, chunk, prompt, model)

	rec := CallRecord{
		ID:            uuid.New().String(),
		Timestamp:     start,
		LatencyMs:     r.now().Sub(start).Milliseconds(),
		ChunkKey:      cc.ChunkKey,
		ChunkIndex:    cc.ChunkIndex,
		PromptHash:    cc.PromptHash,
		Provider:      r.inner.Name(),
		Model:         model,
		ResponseBytes: len(text),
		Success:       err == nil && text != "",
	}
	if u, ok := r.inner.(UsageReporter); ok && err == nil {
		usage := u.LastUsage()
		rec.InputTokens = usage.PromptTokens
		rec.OutputTokens = usage.CompletionTokens
	}
	if err != nil {
		rec.Error = err.Error()
	} else if text == "" {
		rec.Error = ErrEmptyResponse.Error()
	}

	r.mu.Lock()
	r.calls = append(r.calls, rec)
	r.mu.Unlock()

	r.logger.Debug("model call",
		"id", rec.ID,
		"provider", rec.Provider,
		"model", rec.Model,
		"chunk", rec.ChunkKey,
		"latency_ms", rec.LatencyMs,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"success", rec.Success)

	return text, err
}

// Calls returns a copy of every record so far.
func (r *Recorder) Calls() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, len(r.calls))
	copy(out, r.calls)
	return out
}

// Totals sums token usage across recorded calls.
func (r *Recorder) Totals() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var u Usage
	for _, c := range r.calls {
		u.PromptTokens += c.InputTokens
		u.CompletionTokens += c.OutputTokens
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

var _ Invoker = (*Recorder)(nil)
