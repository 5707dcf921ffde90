package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWith(env(nil))
	if err != nil {
		t.Fatalf("LoadWith() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.EvalParallelism != 1 {
		t.Errorf("EvalParallelism = %d, want 1", cfg.EvalParallelism)
	}
	if cfg.MetricsNamespace != "compliance" {
		t.Errorf("MetricsNamespace = %q", cfg.MetricsNamespace)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL should default to empty, got %q", cfg.DatabaseURL)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	data := `
port: "9090"
rules_file: ` + rulesPath + `
watch_rules: true
eval_parallelism: 4
shutdown_timeout: 5s
log:
  level: DEBUG
  sample_rate: 10
`
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWith(env(map[string]string{
		"CONFIG_FILE":      cfgPath,
		"PORT":             "7070",
		"DATABASE_URL":     "postgres://localhost/compliance?sslmode=disable",
		"LOG_LEVEL":        "WARN",
		"EVAL_PARALLELISM": "",
	}))
	if err != nil {
		t.Fatalf("LoadWith() failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"env overrides file port", cfg.Port, "7070"},
		{"file rules path", cfg.RulesFile, rulesPath},
		{"file watch flag", cfg.WatchRules, true},
		{"empty env keeps file value", cfg.EvalParallelism, 4},
		{"file duration", cfg.ShutdownTimeout, 5 * time.Second},
		{"env log level", cfg.Log.Level, "WARN"},
		{"file sample rate", cfg.Log.SampleRate, 10},
		{"env database", cfg.DatabaseURL, "postgres://localhost/compliance?sslmode=disable"},
		{"default namespace kept", cfg.MetricsNamespace, "compliance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	opts := cfg.Log.LoggerOptions()
	if opts.Level != "WARN" || opts.SampleRate != 10 {
		t.Errorf("LoggerOptions() = %+v", opts)
	}
}

func TestLoad_UnknownFileField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("prot: 8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadWith(env(map[string]string{"CONFIG_FILE": path})); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadWith(env(map[string]string{"CONFIG_FILE": path})); err != nil {
		t.Fatalf("empty file should load defaults: %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"non-numeric port", map[string]string{"PORT": "http"}, "port"},
		{"port out of range", map[string]string{"PORT": "70000"}, "port"},
		{"zero parallelism", map[string]string{"EVAL_PARALLELISM": "0"}, "eval_parallelism"},
		{"parallelism not a number", map[string]string{"EVAL_PARALLELISM": "many"}, "EVAL_PARALLELISM"},
		{"bad bool", map[string]string{"OTEL_ENABLED": "sometimes"}, "OTEL_ENABLED"},
		{"bad duration", map[string]string{"SHUTDOWN_TIMEOUT": "soon"}, "SHUTDOWN_TIMEOUT"},
		{"watch without file", map[string]string{"WATCH_RULES": "true"}, "watch_rules"},
		{"missing rules file", map[string]string{"RULES_FILE": "/nonexistent/rules.yaml"}, "rules_file"},
		{"bad log level", map[string]string{"LOG_LEVEL": "LOUD"}, "log.level"},
		{"negative sample rate", map[string]string{"ERROR_SAMPLE_RATE": "-1"}, "log.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(env(tt.env))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	one := ValidationError{Errors: []FieldError{{Field: "port", Message: "bad"}}}
	if got := one.Error(); got != "configuration validation failed: port: bad" {
		t.Errorf("Error() = %q", got)
	}

	two := ValidationError{Errors: []FieldError{{Field: "a", Message: "x"}, {Field: "b", Message: "y"}}}
	if got := two.Error(); !strings.Contains(got, "2 errors") || !strings.Contains(got, "  - b: y") {
		t.Errorf("Error() = %q", got)
	}
}
