// Package config loads the process configuration: defaults, then an
// optional YAML file, then environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("pictora.yaml").
//	    WithEnvPrefix("PICTORA").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/selfie"
)

// Config is the full process configuration.
type Config struct {
	// Plugin globally enables or disables caller-triggered generation.
	// Per-scope runtime overrides take precedence at call time.
	Plugin PluginConfig `yaml:"plugin" env:"PLUGIN"`

	// Generation tunes the request path shared by all models.
	Generation GenerationConfig `yaml:"generation" env:"GENERATION"`

	// Proxy routes provider traffic.
	Proxy providers.ProxyConfig `yaml:"proxy" env:"PROXY"`

	// Cache bounds the in-memory result cache.
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// State tunes the runtime override store.
	State StateConfig `yaml:"state" env:"STATE"`

	// Selfie configures the scheduled self-portrait loop.
	Selfie SelfieConfig `yaml:"selfie" env:"SELFIE"`

	Log     LogConfig     `yaml:"log" env:"LOG"`
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Styles maps style names to prompt fragments; StyleAliases maps
	// alternate names onto style names.
	Styles       map[string]string `yaml:"styles" env:"-"`
	StyleAliases map[string]string `yaml:"style_aliases" env:"-"`

	// Models holds the per-model records keyed by model id.
	Models map[string]imagegen.ModelConfig `yaml:"models" env:"-"`
}

// PluginConfig carries the global toggles.
type PluginConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// GenerationConfig tunes the caller-triggered request path.
type GenerationConfig struct {
	// DefaultModel is used when a scope has no active-model override.
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`

	// Timeout applies per HTTP call; each retry gets a fresh budget.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	MaxRetries    int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay  time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay      time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	MaxSize int  `yaml:"max_size" env:"MAX_SIZE"`
}

// StateConfig tunes the runtime override store sweeper.
type StateConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// SelfieConfig wraps the selfie loop settings plus its collaborators.
type SelfieConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	Task selfie.Config `yaml:"task" env:"TASK"`

	// PlannerDB is the SQLite database the schedule collaborator reads.
	PlannerDB string `yaml:"planner_db" env:"PLANNER_DB"`

	// PublishDir is where the default file publisher writes output.
	PublishDir string `yaml:"publish_dir" env:"PUBLISH_DIR"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Plugin: PluginConfig{Enabled: true},
		Generation: GenerationConfig{
			Timeout:       providers.DefaultTimeout,
			MaxRetries:    2,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 1.0,
		},
		Cache: CacheConfig{Enabled: true, MaxSize: 64},
		State: StateConfig{
			TTL:           24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Selfie: SelfieConfig{
			Task: selfie.Config{
				Interval:   time.Hour,
				StartDelay: selfie.DefaultStartDelay,
			},
			PublishDir: "selfies",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// RetryConfig converts the generation settings to the engine's form.
func (g GenerationConfig) RetryConfig() imagegen.RetryConfig {
	rc := imagegen.DefaultRetryConfig()
	if g.MaxRetries >= 0 {
		rc.MaxRetries = g.MaxRetries
	}
	if g.InitialDelay > 0 {
		rc.InitialDelay = g.InitialDelay
	}
	if g.MaxDelay > 0 {
		rc.MaxDelay = g.MaxDelay
	}
	if g.BackoffFactor > 0 {
		rc.BackoffFactor = g.BackoffFactor
	}
	return rc
}

// Loader assembles a Config. Priority: defaults, YAML file, environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the PICTORA env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "PICTORA"}
}

// WithConfigPath sets the YAML file path. A missing file is not an
// error; defaults and environment still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load assembles the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("loading config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

// MustLoad loads the configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("loading config: %v", err))
	}
	return cfg
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("setting %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// Validate checks cross-field constraints the loader cannot express.
// Model records get their own validation at registry build time; a bad
// record there is skipped, not fatal.
func (c *Config) Validate() error {
	var errs []string

	if c.Generation.MaxRetries < 0 {
		errs = append(errs, "generation.max_retries must not be negative")
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		errs = append(errs, "cache.max_size must be positive when the cache is enabled")
	}
	if c.Selfie.Enabled {
		if c.Selfie.Task.Model == "" {
			errs = append(errs, "selfie.task.model is required when the selfie loop is enabled")
		}
		if c.Selfie.PlannerDB == "" {
			errs = append(errs, "selfie.planner_db is required when the selfie loop is enabled")
		}
	}
	for name, target := range c.StyleAliases {
		if _, ok := c.Styles[target]; !ok {
			errs = append(errs, fmt.Sprintf("style alias %q points at unknown style %q", name, target))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
