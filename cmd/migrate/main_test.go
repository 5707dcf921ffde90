package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

type fakeMigrator struct {
	upErr   error
	forced  int
	calls   []string
	version uint
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return migrate.ErrNoChange
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return f.version, false, nil
}

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return nil
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		m       *fakeMigrator
		command string
		args    []string
		wantErr string
	}{
		{"up", &fakeMigrator{}, "up", nil, ""},
		{"up no change", &fakeMigrator{upErr: migrate.ErrNoChange}, "up", nil, ""},
		{"up failure", &fakeMigrator{upErr: errors.New("syntax error")}, "up", nil, "syntax error"},
		{"down no change", &fakeMigrator{}, "down", nil, ""},
		{"version", &fakeMigrator{version: 1}, "version", nil, ""},
		{"force", &fakeMigrator{}, "force", []string{"1"}, ""},
		{"force without version", &fakeMigrator{}, "force", nil, "requires a version"},
		{"force bad version", &fakeMigrator{}, "force", []string{"one"}, "invalid version"},
		{"unknown", &fakeMigrator{}, "sideways", nil, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.m, tt.command, tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("run() failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun_ForceVersion(t *testing.T) {
	m := &fakeMigrator{}
	if err := run(m, "force", []string{"3"}); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	if m.forced != 3 {
		t.Errorf("forced = %d, want 3", m.forced)
	}
}
