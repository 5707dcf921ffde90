package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/compliance/internal/logger"
)

// Config is the process configuration shared by the server, the CLI and the
// migration tool.
type Config struct {
	// DatabaseURL is a lib/pq connection string. Empty runs with in-memory
	// tenant stores.
	DatabaseURL string `yaml:"database_url"`
	Port        string `yaml:"port"`

	// RulesFile holds shared rules applied to every tenant
	RulesFile  string `yaml:"rules_file"`
	WatchRules bool   `yaml:"watch_rules"`

	EvalParallelism  int    `yaml:"eval_parallelism"`
	MetricsNamespace string `yaml:"metrics_namespace"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log LogConfig `yaml:"log"`
}

// LogConfig maps onto logger.Options
type LogConfig struct {
	Level       string `yaml:"level"`
	SampleRate  int    `yaml:"sample_rate"`
	OTELEnabled bool   `yaml:"otel_enabled"`
	ServiceName string `yaml:"service_name"`
}

// LoggerOptions converts the log section for logger.Setup
func (c LogConfig) LoggerOptions() logger.Options {
	return logger.Options{
		Level:       c.Level,
		SampleRate:  c.SampleRate,
		OTELEnabled: c.OTELEnabled,
		ServiceName: c.ServiceName,
	}
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:             "8080",
		EvalParallelism:  1,
		MetricsNamespace: "compliance",
		ShutdownTimeout:  30 * time.Second,
		Log: LogConfig{
			Level:       "INFO",
			SampleRate:  1,
			ServiceName: "compliance-engine",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and then environment variables, and validates it.
func Load() (*Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith is Load with a custom environment lookup
func LoadWith(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	var errs []FieldError
	applyEnv(cfg, lookup, &errs)
	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool), errs *[]FieldError) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				*errs = append(*errs, FieldError{Field: key, Message: fmt.Sprintf("not an integer: %q", v)})
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				*errs = append(*errs, FieldError{Field: key, Message: fmt.Sprintf("not a boolean: %q", v)})
				return
			}
			*dst = b
		}
	}

	str("DATABASE_URL", &cfg.DatabaseURL)
	str("PORT", &cfg.Port)
	str("RULES_FILE", &cfg.RulesFile)
	flag("WATCH_RULES", &cfg.WatchRules)
	num("EVAL_PARALLELISM", &cfg.EvalParallelism)
	str("METRICS_NAMESPACE", &cfg.MetricsNamespace)
	if v, ok := lookup("SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, FieldError{Field: "SHUTDOWN_TIMEOUT", Message: fmt.Sprintf("not a duration: %q", v)})
		} else {
			cfg.ShutdownTimeout = d
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	num("ERROR_SAMPLE_RATE", &cfg.Log.SampleRate)
	flag("OTEL_ENABLED", &cfg.Log.OTELEnabled)
	str("OTEL_SERVICE_NAME", &cfg.Log.ServiceName)
}
