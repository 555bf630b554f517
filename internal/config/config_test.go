package config

import (
	"testing"
	"time"
)

func TestParseFlagsDefaults(t *testing.T) {
	t.Setenv("DOORHOST_DB_PATH", "")
	t.Setenv("DOORHOST_IDLE_TIMEOUT", "")

	cfg, err := ParseFlags("test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != defaultDBPath {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.IdleTimeout != defaultIdleTimeout {
		t.Fatalf("expected default idle timeout, got %v", cfg.IdleTimeout)
	}
	if cfg.BufferSize != defaultBufferSize {
		t.Fatalf("expected default buffer size, got %d", cfg.BufferSize)
	}
}

func TestParseFlagsEnvOverride(t *testing.T) {
	t.Setenv("DOORHOST_DB_PATH", "/tmp/doors.db")
	t.Setenv("DOORHOST_IDLE_TIMEOUT", "3m")

	cfg, err := ParseFlags("test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/doors.db" {
		t.Fatalf("env db path ignored, got %q", cfg.DBPath)
	}
	if cfg.IdleTimeout != 3*time.Minute {
		t.Fatalf("env idle timeout ignored, got %v", cfg.IdleTimeout)
	}
}

func TestParseFlagsFlagBeatsEnv(t *testing.T) {
	t.Setenv("DOORHOST_EMULATOR", "/opt/dosbox")

	cfg, err := ParseFlags("test", []string{"--emulator", "/usr/bin/dosbox-x"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EmulatorPath != "/usr/bin/dosbox-x" {
		t.Fatalf("flag should override env, got %q", cfg.EmulatorPath)
	}
}

func TestParseFlagsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"empty db", []string{"--db", "  "}},
		{"zero idle timeout", []string{"--idle-timeout", "0s"}},
		{"negative time left", []string{"--time-left", "-1"}},
		{"tiny buffer", []string{"--buffer-size", "16"}},
		{"zero spawn timeout", []string{"--spawn-timeout", "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFlags("test", tt.args); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
