package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

// UpsertStatistics applies one completed session to the (door, user)
// aggregate as a single read-modify-write transaction: +1 session, +seconds
// of play, last-played refresh, and a high-score merge (kept when higher).
// highScore may be nil when the door reported no score.
func (s *Store) UpsertStatistics(ctx context.Context, doorID, userID string, seconds int64, playedAt time.Time, highScore *int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur domain.DoorStatistics
	err = tx.QueryRowContext(ctx, `
SELECT total_sessions, total_seconds, high_score
FROM door_statistics
WHERE door_id = ? AND user_id = ?`, doorID, userID).
		Scan(&cur.TotalSessions, &cur.TotalSeconds, &cur.HighScore)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		score := int64(0)
		if highScore != nil {
			score = *highScore
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO door_statistics(door_id, user_id, total_sessions, total_seconds, last_played, high_score)
VALUES(?, ?, 1, ?, ?, ?)`, doorID, userID, seconds, playedAt.UTC(), score); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		score := cur.HighScore
		if highScore != nil && *highScore > score {
			score = *highScore
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE door_statistics
SET total_sessions = ?, total_seconds = ?, last_played = ?, high_score = ?
WHERE door_id = ? AND user_id = ?`,
			cur.TotalSessions+1, cur.TotalSeconds+seconds, playedAt.UTC(), score, doorID, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetStatistics loads the aggregate for one (door, user) pair. A pair with
// no history returns a zero-valued record, not an error.
func (s *Store) GetStatistics(ctx context.Context, doorID, userID string) (domain.DoorStatistics, error) {
	st := domain.DoorStatistics{DoorID: doorID, UserID: userID}
	err := s.db.QueryRowContext(ctx, `
SELECT total_sessions, total_seconds, last_played, high_score
FROM door_statistics
WHERE door_id = ? AND user_id = ?`, doorID, userID).
		Scan(&st.TotalSessions, &st.TotalSeconds, &st.LastPlayed, &st.HighScore)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	return st, err
}

// ListStatisticsByDoor returns all user aggregates for a door, best score
// first.
func (s *Store) ListStatisticsByDoor(ctx context.Context, doorID string) ([]domain.DoorStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT door_id, user_id, total_sessions, total_seconds, last_played, high_score
FROM door_statistics
WHERE door_id = ?
ORDER BY high_score DESC, total_seconds DESC`, doorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.DoorStatistics
	for rows.Next() {
		var st domain.DoorStatistics
		if err := rows.Scan(&st.DoorID, &st.UserID, &st.TotalSessions, &st.TotalSeconds, &st.LastPlayed, &st.HighScore); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
