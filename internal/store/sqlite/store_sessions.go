package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

const sessionColumns = `id, door_id, user_id, user_name, user_level, node, state,
started_at, ended_at, last_activity, pid, exit_code,
drop_file, config_path, work_dir, fail_reason`

// CreateSession persists a freshly authorized session row.
func (s *Store) CreateSession(ctx context.Context, sess domain.DoorSession) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO door_sessions(`+sessionColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.DoorID, sess.UserID, sess.UserName, sess.UserLevel, sess.Node, string(sess.State),
		sess.StartedAt.UTC(), nullableTime(sess.EndedAt), sess.LastActivity.UTC(), sess.PID, sess.ExitCode,
		sess.DropFilePath, sess.ConfigPath, sess.WorkDir, sess.FailReason)
	return err
}

// SessionExists reports whether a session row with the given id exists.
// Used for collision checks during id allocation.
func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM door_sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateSessionState records a non-terminal state change plus the fields
// Launch fills in (pid, artifact paths).
func (s *Store) UpdateSessionState(ctx context.Context, sess domain.DoorSession) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE door_sessions
SET state = ?, last_activity = ?, pid = ?, drop_file = ?, config_path = ?, work_dir = ?
WHERE id = ?`,
		string(sess.State), sess.LastActivity.UTC(), sess.PID,
		sess.DropFilePath, sess.ConfigPath, sess.WorkDir, sess.ID)
	return err
}

// TouchSession refreshes a session's last-activity timestamp.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE door_sessions SET last_activity = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// FinishSession writes the terminal state, exit code, and end timestamp.
func (s *Store) FinishSession(ctx context.Context, sess domain.DoorSession) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE door_sessions
SET state = ?, ended_at = ?, exit_code = ?, fail_reason = ?
WHERE id = ?`,
		string(sess.State), nullableTime(sess.EndedAt), sess.ExitCode, sess.FailReason, sess.ID)
	return err
}

// DailySessionCount counts the user's sessions on the door started at or
// after dayStart. Failed launches do not consume a daily play.
func (s *Store) DailySessionCount(ctx context.Context, doorID, userID string, dayStart time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM door_sessions
WHERE door_id = ? AND user_id = ? AND started_at >= ? AND state != ?`,
		doorID, userID, dayStart.UTC(), string(domain.StateFailed)).Scan(&count)
	return count, err
}

// ListActiveSessions returns session rows in a non-terminal state, optionally
// filtered by door.
func (s *Store) ListActiveSessions(ctx context.Context, doorID string) ([]domain.DoorSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM door_sessions WHERE state IN (?, ?)`
	args := []any{string(domain.StateStarting), string(domain.StateRunning)}
	if doorID != "" {
		query += ` AND door_id = ?`
		args = append(args, doorID)
	}
	query += ` ORDER BY started_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.DoorSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ReapOrphanSessions marks non-terminal session rows whose ids are absent
// from live as failed. Used for crash recovery; returns how many rows were
// reclaimed.
func (s *Store) ReapOrphanSessions(ctx context.Context, live map[string]bool, now time.Time) (int, error) {
	stale, err := s.ListActiveSessions(ctx, "")
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, sess := range stale {
		if live[sess.ID] {
			continue
		}
		sess.State = domain.StateFailed
		sess.EndedAt = now
		sess.FailReason = "orphaned session reclaimed"
		if err := s.FinishSession(ctx, sess); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

func scanSession(r rowScanner) (domain.DoorSession, error) {
	var sess domain.DoorSession
	var state string
	var ended sql.NullTime
	err := r.Scan(
		&sess.ID, &sess.DoorID, &sess.UserID, &sess.UserName, &sess.UserLevel, &sess.Node, &state,
		&sess.StartedAt, &ended, &sess.LastActivity, &sess.PID, &sess.ExitCode,
		&sess.DropFilePath, &sess.ConfigPath, &sess.WorkDir, &sess.FailReason)
	if err != nil {
		return domain.DoorSession{}, err
	}
	sess.State = domain.SessionState(state)
	if ended.Valid {
		sess.EndedAt = ended.Time
	}
	return sess, nil
}
