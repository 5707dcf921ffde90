package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/liamcoop/compliance/internal/logger"
)

// FieldError is a validation failure for one setting
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found by Load
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func validate(cfg *Config) []FieldError {
	var errs []FieldError

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, FieldError{Field: "port", Message: fmt.Sprintf("invalid port %q", cfg.Port)})
	}
	if cfg.EvalParallelism < 1 {
		errs = append(errs, FieldError{Field: "eval_parallelism", Message: "must be at least 1"})
	}
	if cfg.MetricsNamespace == "" {
		errs = append(errs, FieldError{Field: "metrics_namespace", Message: "cannot be empty"})
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{Field: "shutdown_timeout", Message: "must be positive"})
	}
	if cfg.WatchRules && cfg.RulesFile == "" {
		errs = append(errs, FieldError{Field: "watch_rules", Message: "requires rules_file"})
	}
	if cfg.RulesFile != "" {
		if _, err := os.Stat(cfg.RulesFile); err != nil {
			errs = append(errs, FieldError{Field: "rules_file", Message: err.Error()})
		}
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, FieldError{Field: "log.level", Message: err.Error()})
	}
	if cfg.Log.SampleRate < 0 {
		errs = append(errs, FieldError{Field: "log.sample_rate", Message: "cannot be negative"})
	}

	return errs
}
