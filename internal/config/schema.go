package config

// Config holds pointgen configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Retry     RetryCfg               `mapstructure:"retry" yaml:"retry"`
	PointID   PointIDCfg             `mapstructure:"pointid" yaml:"pointid"`
}

// ProviderCfg configures one model endpoint.
type ProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`                       // "openai", "openrouter", "deepseek", "gemini", "openai-compatible", "mock"
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url,omitempty"`     // Required for openai-compatible
	Model          string  `mapstructure:"model" yaml:"model"`                     // Default model name
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	RateLimit      int     `mapstructure:"rate_limit" yaml:"rate_limit"`           // Requests per minute
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`         // Sampling temperature
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`           // Completion token cap
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // HTTP timeout per request
}

// DefaultsCfg specifies what a run uses when flags are absent.
type DefaultsCfg struct {
	Provider       string `mapstructure:"provider" yaml:"provider"`               // Default provider name
	Mode           string `mapstructure:"mode" yaml:"mode"`                       // "part", "subchapter" or "subchapter-batch"
	SiblingContext bool   `mapstructure:"sibling_context" yaml:"sibling_context"` // Send the whole subchapter with each topic
}

// RetryCfg is the caller-side retry policy around model calls.
type RetryCfg struct {
	Attempts        int     `mapstructure:"attempts" yaml:"attempts"`                   // Total tries including the first
	DelaySeconds    float64 `mapstructure:"delay_seconds" yaml:"delay_seconds"`         // Base backoff delay
	MaxDelaySeconds float64 `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds"` // Cap on a single wait
	RetryEmpty      bool    `mapstructure:"retry_empty" yaml:"retry_empty"`             // Retry when the model returns no text
}

// PointIDCfg seeds the chapter ledger.
type PointIDCfg struct {
	Book        int    `mapstructure:"book" yaml:"book"`
	Chapter     int    `mapstructure:"chapter" yaml:"chapter"`
	Seq         int    `mapstructure:"seq" yaml:"seq"`
	Seed        string `mapstructure:"seed" yaml:"seed,omitempty"`                 // 10-digit starting id, overrides book/chapter/seq
	MappingFile string `mapstructure:"mapping_file" yaml:"mapping_file,omitempty"` // One starting id per chapter
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o-mini",
				APIKey:         "${OPENAI_API_KEY}",
				RateLimit:      60,
				Temperature:    0.7,
				MaxTokens:      32768,
				TimeoutSeconds: 300,
			},
			"openrouter": {
				Type:           "openrouter",
				Model:          "openai/gpt-4o-mini",
				APIKey:         "${OPENROUTER_API_KEY}",
				RateLimit:      60,
				Temperature:    0.7,
				MaxTokens:      32768,
				TimeoutSeconds: 300,
			},
		},
		Defaults: DefaultsCfg{
			Provider:       "openai",
			Mode:           "subchapter",
			SiblingContext: true,
		},
		Retry: RetryCfg{
			Attempts:        3,
			DelaySeconds:    2,
			MaxDelaySeconds: 60,
		},
		PointID: PointIDCfg{
			Book:    1,
			Chapter: 1,
			Seq:     1,
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}
