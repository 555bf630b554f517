package sqlite

import (
	"context"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

// AppendLog records one door event. Write-only from the core; the list
// queries serve external admin tooling.
func (s *Store) AppendLog(ctx context.Context, entry domain.DoorLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO door_logs(door_id, session_id, level, message, detail, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		entry.DoorID, entry.SessionID, entry.Level, entry.Message, entry.Detail, entry.CreatedAt.UTC())
	return err
}

// ListLogs returns the most recent door events, newest first, optionally
// filtered by door and by level. limit <= 0 defaults to 100.
func (s *Store) ListLogs(ctx context.Context, doorID, level string, limit int) ([]domain.DoorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, door_id, session_id, level, message, detail, created_at
FROM door_logs
WHERE 1=1`
	var args []any
	if doorID != "" {
		query += ` AND door_id = ?`
		args = append(args, doorID)
	}
	if level != "" {
		query += ` AND level = ?`
		args = append(args, level)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.DoorLog
	for rows.Next() {
		var l domain.DoorLog
		if err := rows.Scan(&l.ID, &l.DoorID, &l.SessionID, &l.Level, &l.Message, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
