package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/pointgen/internal/pointid"
	"github.com/jackzampolin/pointgen/internal/providers"
)

// EnvPrefix is prepended to environment overrides, e.g. POINTGEN_DEFAULTS_PROVIDER.
const EnvPrefix = "POINTGEN"

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	logger    *slog.Logger
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// homeDir is searched for config.yaml when cfgFile is empty.
func NewManager(cfgFile, homeDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cm := &Manager{
		v:         viper.New(),
		logger:    logger,
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile, homeDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile, homeDir string) error {
	v := cm.v
	defaults := DefaultConfig()
	v.SetDefault("providers", defaults.Providers)
	v.SetDefault("defaults.provider", defaults.Defaults.Provider)
	v.SetDefault("defaults.mode", defaults.Defaults.Mode)
	v.SetDefault("defaults.sibling_context", defaults.Defaults.SiblingContext)
	v.SetDefault("retry.attempts", defaults.Retry.Attempts)
	v.SetDefault("retry.delay_seconds", defaults.Retry.DelaySeconds)
	v.SetDefault("retry.max_delay_seconds", defaults.Retry.MaxDelaySeconds)
	v.SetDefault("retry.retry_empty", defaults.Retry.RetryEmpty)
	v.SetDefault("pointid.book", defaults.PointID.Book)
	v.SetDefault("pointid.chapter", defaults.PointID.Chapter)
	v.SetDefault("pointid.seq", defaults.PointID.Seq)
	v.SetDefault("pointid.seed", defaults.PointID.Seed)
	v.SetDefault("pointid.mapping_file", defaults.PointID.MappingFile)

	// Environment variables with POINTGEN_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if homeDir != "" {
			v.AddConfigPath(homeDir)
		}
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		cm.logger.Debug("no config file found, using defaults")
	} else {
		cm.logger.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		cm.logger.Info("config reloaded", "file", e.Name)

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderConfigs converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys and base URLs.
func (c *Config) ToProviderConfigs() map[string]providers.ProviderConfig {
	out := make(map[string]providers.ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		out[name] = providers.ProviderConfig{
			Type:        p.Type,
			BaseURL:     ResolveEnvVars(p.BaseURL),
			Model:       p.Model,
			APIKey:      ResolveEnvVars(p.APIKey),
			RateLimit:   p.RateLimit,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Timeout:     time.Duration(p.TimeoutSeconds) * time.Second,
		}
	}
	return out
}

// RetryConfig converts the retry section.
func (c *Config) RetryConfig() providers.RetryConfig {
	return providers.RetryConfig{
		Attempts:   c.Retry.Attempts,
		Delay:      seconds(c.Retry.DelaySeconds),
		MaxDelay:   seconds(c.Retry.MaxDelaySeconds),
		RetryEmpty: c.Retry.RetryEmpty,
	}
}

// LedgerOptions converts the pointid section, reading the mapping file when set.
func (c *Config) LedgerOptions() (pointid.LedgerOptions, error) {
	opts := pointid.LedgerOptions{
		Seed:    c.PointID.Seed,
		Book:    c.PointID.Book,
		Chapter: c.PointID.Chapter,
		Seq:     c.PointID.Seq,
	}
	if c.PointID.MappingFile != "" {
		mapping, err := pointid.ReadMappingFile(c.PointID.MappingFile)
		if err != nil {
			return opts, err
		}
		opts.Mapping = mapping
	}
	return opts, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# pointgen configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell or in ~/.pointgen/.env: OPENAI_API_KEY=xxx OPENROUTER_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
