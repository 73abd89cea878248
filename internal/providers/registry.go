package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Base URLs for OpenAI-compatible provider types.
var defaultBaseURLs = map[string]string{
	"openai":     "",
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai/",
}

// ProviderConfig matches config.ProviderCfg with a resolved API key.
type ProviderConfig struct {
	Type        string // "openai", "openrouter", "deepseek", "gemini", "openai-compatible", "mock"
	BaseURL     string
	Model       string
	APIKey      string
	RateLimit   int // Requests per minute
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Registry holds invokers by name.
// It supports config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
	logger   *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		invokers: make(map[string]Invoker),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers an invoker by name.
func (r *Registry) Register(name string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[name] = inv
	r.logger.Info("registered provider", "name", name)
}

// Get returns an invoker by name.
func (r *Registry) Get(name string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return inv, nil
}

// Has checks if a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.invokers[name]
	return ok
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Providers without an API key are skipped, except mock.
func NewRegistryFromConfig(cfg map[string]ProviderConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// A provider whose only change is its rate limit keeps its client and has the
// live limiter retuned. Other changes recreate the client.
func (r *Registry) Reload(cfg map[string]ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg {
		if provCfg.APIKey == "" && provCfg.Type != MockName {
			r.logger.Debug("skipping provider without api key", "name", name)
			continue
		}
		want[name] = true

		existing, hasExisting := r.invokers[name]
		if hasExisting && retune(existing, provCfg) {
			r.logger.Info("updated provider rate limit", "name", name, "rpm", provCfg.RateLimit)
			continue
		}
		inv, err := createInvoker(name, provCfg)
		if err != nil {
			r.logger.Warn("skipping provider", "name", name, "error", err)
			continue
		}
		r.invokers[name] = inv
		if hasExisting {
			r.logger.Info("updated provider", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered provider", "name", name, "type", provCfg.Type)
		}
	}

	// Remove providers that are no longer configured
	for name := range r.invokers {
		if !want[name] {
			delete(r.invokers, name)
			r.logger.Info("unregistered provider", "name", name)
		}
	}
}

// createInvoker creates an invoker based on provider type.
func createInvoker(name string, cfg ProviderConfig) (Invoker, error) {
	switch cfg.Type {
	case MockName:
		return &MockInvoker{Default: "{}"}, nil
	case "openai-compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider type %s requires base_url", cfg.Type)
		}
	case "":
		cfg.Type = "openai"
	default:
		if _, ok := defaultBaseURLs[cfg.Type]; !ok {
			return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
		}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[cfg.Type]
	}
	return NewOpenAIClient(OpenAIConfig{
		Name:         name,
		APIKey:       cfg.APIKey,
		BaseURL:      baseURL,
		DefaultModel: cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		RateLimit:    cfg.RateLimit,
		Timeout:      cfg.Timeout,
	}), nil
}

// retune applies a rate-limit-only change to a live client. It reports false
// when the client must be recreated.
func retune(inv Invoker, cfg ProviderConfig) bool {
	c, ok := inv.(*OpenAIClient)
	if !ok {
		return false
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[cfg.Type]
	}
	if c.apiKey != cfg.APIKey || c.baseURL != baseURL {
		return false
	}
	if cfg.Model != "" && c.defaultModel != cfg.Model {
		return false
	}
	if cfg.Temperature > 0 && c.temperature != cfg.Temperature {
		return false
	}
	if cfg.MaxTokens > 0 && c.maxTokens != cfg.MaxTokens {
		return false
	}
	if (c.limiter == nil) != (cfg.RateLimit <= 0) {
		return false
	}
	if c.limiter != nil {
		c.limiter.SetRPM(cfg.RateLimit)
	}
	return true
}
