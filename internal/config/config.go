// Package config parses doorhost host configuration from flags with
// DOORHOST_* environment variable defaults.
package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the host-wide settings shared by the session manager, FOSSIL
// bridge, and CLI.
type Config struct {
	DBPath       string
	SessionsDir  string
	EmulatorPath string
	LogLevel     string

	BBSName   string
	SysopName string

	// DefaultTimeLeft is the minutes reported to doors without their own
	// time limit.
	DefaultTimeLeft int

	IdleTimeout  time.Duration
	CleanupGrace time.Duration
	SpawnTimeout time.Duration

	// BufferSize is the capacity in bytes of each FOSSIL session's input and
	// output buffers.
	BufferSize int
}

const defaultDBPath = "./doorhost.db"
const defaultSessionsDir = "./sessions"
const defaultEmulatorPath = "dosbox"
const defaultTimeLeftMinutes = 60
const defaultIdleTimeout = 10 * time.Minute
const defaultCleanupGrace = 24 * time.Hour
const defaultSpawnTimeout = 15 * time.Second
const defaultBufferSize = 16 * 1024

// FromEnv builds a Config from DOORHOST_* environment variables, falling
// back to built-in defaults.
func FromEnv() Config {
	return Config{
		DBPath:          envOrDefault("DOORHOST_DB_PATH", defaultDBPath),
		SessionsDir:     envOrDefault("DOORHOST_SESSIONS_DIR", defaultSessionsDir),
		EmulatorPath:    envOrDefault("DOORHOST_EMULATOR", defaultEmulatorPath),
		LogLevel:        envOrDefault("DOORHOST_LOG_LEVEL", "info"),
		BBSName:         envOrDefault("DOORHOST_BBS_NAME", "doorhost"),
		SysopName:       envOrDefault("DOORHOST_SYSOP_NAME", "Sysop"),
		DefaultTimeLeft: envIntOrDefault("DOORHOST_TIME_LEFT", defaultTimeLeftMinutes),
		IdleTimeout:     envDurationOrDefault("DOORHOST_IDLE_TIMEOUT", defaultIdleTimeout),
		CleanupGrace:    envDurationOrDefault("DOORHOST_CLEANUP_GRACE", defaultCleanupGrace),
		SpawnTimeout:    envDurationOrDefault("DOORHOST_SPAWN_TIMEOUT", defaultSpawnTimeout),
		BufferSize:      envIntOrDefault("DOORHOST_BUFFER_SIZE", defaultBufferSize),
	}
}

// RegisterFlags binds the shared host flags to fs, with the current values
// as defaults. Commands add their own flags next to these.
func (cfg *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite registry database path")
	fs.StringVar(&cfg.SessionsDir, "sessions-dir", cfg.SessionsDir, "Directory for per-session runtime files")
	fs.StringVar(&cfg.EmulatorPath, "emulator", cfg.EmulatorPath, "Emulated machine binary (path or name on PATH)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.BBSName, "bbs-name", cfg.BBSName, "Board name reported in drop files")
	fs.StringVar(&cfg.SysopName, "sysop", cfg.SysopName, "Sysop name reported in drop files")
	fs.IntVar(&cfg.DefaultTimeLeft, "time-left", cfg.DefaultTimeLeft, "Minutes reported to doors without a time limit")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Force-end sessions with no bridge activity for this long")
	fs.DurationVar(&cfg.CleanupGrace, "cleanup-grace", cfg.CleanupGrace, "Age before orphaned session files are removed")
	fs.DurationVar(&cfg.SpawnTimeout, "spawn-timeout", cfg.SpawnTimeout, "Bound on child process spawn")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "FOSSIL session buffer capacity in bytes")
}

// Validate rejects configurations the host cannot run with.
func (cfg *Config) Validate() error {
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	if cfg.DBPath == "" {
		return errors.New("missing --db or DOORHOST_DB_PATH")
	}
	cfg.SessionsDir = strings.TrimSpace(cfg.SessionsDir)
	if cfg.SessionsDir == "" {
		return errors.New("missing --sessions-dir or DOORHOST_SESSIONS_DIR")
	}
	if cfg.DefaultTimeLeft <= 0 {
		return errors.New("time left must be > 0 minutes")
	}
	if cfg.IdleTimeout <= 0 {
		return errors.New("idle timeout must be > 0")
	}
	if cfg.CleanupGrace <= 0 {
		return errors.New("cleanup grace must be > 0")
	}
	if cfg.SpawnTimeout <= 0 {
		return errors.New("spawn timeout must be > 0")
	}
	if cfg.BufferSize < 1024 {
		return errors.New("buffer size must be at least 1024 bytes")
	}
	return nil
}

// ParseFlags builds a Config from args, with environment variables providing
// defaults that flags can override.
func ParseFlags(name string, args []string) (Config, error) {
	cfg := FromEnv()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
