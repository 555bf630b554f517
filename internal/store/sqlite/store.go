// Package sqlite implements the doorhost registry backed by a SQLite
// database: door definitions, permissions, session rows, per-user
// statistics, and the append-only door log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database connection for all doorhost persistence
// operations.
type Store struct {
	db *sql.DB
}

const defaultMaxOpenConns = 10
const defaultMaxIdleConns = 10

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS doors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	executable TEXT NOT NULL,
	args_template TEXT NOT NULL DEFAULT '',
	working_dir TEXT NOT NULL,
	drop_file_kind TEXT NOT NULL,
	requires_emulator INTEGER NOT NULL DEFAULT 0,
	requires_fossil INTEGER NOT NULL DEFAULT 0,
	com_port INTEGER NOT NULL DEFAULT 1,
	baud_rate INTEGER NOT NULL DEFAULT 38400,
	data_bits INTEGER NOT NULL DEFAULT 8,
	stop_bits INTEGER NOT NULL DEFAULT 1,
	parity TEXT NOT NULL DEFAULT 'none',
	active INTEGER NOT NULL DEFAULT 1,
	scheduling_enabled INTEGER NOT NULL DEFAULT 0,
	schedule_start TEXT NOT NULL DEFAULT '',
	schedule_end TEXT NOT NULL DEFAULT '',
	minimum_level INTEGER NOT NULL DEFAULT 0,
	maximum_level INTEGER NOT NULL DEFAULT 255,
	daily_limit INTEGER NOT NULL DEFAULT 0,
	time_limit INTEGER NOT NULL DEFAULT 0,
	multi_node INTEGER NOT NULL DEFAULT 0,
	max_nodes INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS door_permissions (
	id TEXT PRIMARY KEY,
	door_id TEXT NOT NULL,
	subject_kind TEXT NOT NULL,
	subject TEXT NOT NULL,
	action TEXT NOT NULL,
	expires_at DATETIME NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS door_sessions (
	id TEXT PRIMARY KEY,
	door_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	user_name TEXT NOT NULL DEFAULT '',
	user_level INTEGER NOT NULL DEFAULT 0,
	node INTEGER NOT NULL DEFAULT 1,
	state TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME NULL,
	last_activity DATETIME NOT NULL,
	pid INTEGER NOT NULL DEFAULT 0,
	exit_code INTEGER NOT NULL DEFAULT 0,
	drop_file TEXT NOT NULL DEFAULT '',
	config_path TEXT NOT NULL DEFAULT '',
	work_dir TEXT NOT NULL DEFAULT '',
	fail_reason TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS door_statistics (
	door_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	total_sessions INTEGER NOT NULL DEFAULT 0,
	total_seconds INTEGER NOT NULL DEFAULT 0,
	last_played DATETIME NOT NULL,
	high_score INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (door_id, user_id)
);
CREATE TABLE IF NOT EXISTS door_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	door_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_permissions_door ON door_permissions(door_id, subject_kind, subject);
CREATE INDEX IF NOT EXISTS idx_sessions_door_user ON door_sessions(door_id, user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON door_sessions(state);
CREATE INDEX IF NOT EXISTS idx_logs_door_created ON door_logs(door_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_logs_level ON door_logs(level, created_at DESC);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
