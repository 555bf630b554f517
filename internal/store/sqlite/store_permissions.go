package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

// SetPermission records an explicit allow/deny grant for a user or group on
// a door. expiresAt may be nil for a grant that never lapses.
func (s *Store) SetPermission(ctx context.Context, doorID, subjectKind, subject, action string, expiresAt *time.Time) (domain.DoorPermission, error) {
	id, err := newID("perm")
	if err != nil {
		return domain.DoorPermission{}, err
	}
	p := domain.DoorPermission{
		ID:          id,
		DoorID:      doorID,
		SubjectKind: subjectKind,
		Subject:     subject,
		Action:      action,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	var exp any
	if expiresAt != nil {
		exp = expiresAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO door_permissions(id, door_id, subject_kind, subject, action, expires_at, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DoorID, p.SubjectKind, p.Subject, p.Action, exp, p.CreatedAt)
	return p, err
}

// EffectivePermission resolves the grant that applies to userID (member of
// groups) on doorID at time now. A non-expired deny for the user or any
// group wins over every allow; with no matching grant the result is unset.
func (s *Store) EffectivePermission(ctx context.Context, doorID, userID string, groups []string, now time.Time) (string, error) {
	args := []any{doorID, domain.SubjectUser, userID}
	var groupClause string
	if len(groups) > 0 {
		groupClause = ` OR (subject_kind = ? AND subject IN (?` + strings.Repeat(", ?", len(groups)-1) + `))`
		args = append(args, domain.SubjectGroup)
		for _, g := range groups {
			args = append(args, g)
		}
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT action, expires_at
FROM door_permissions
WHERE door_id = ? AND ((subject_kind = ? AND subject = ?)`+groupClause+`)`, args...)
	if err != nil {
		return domain.EffectiveUnset, err
	}
	defer func() { _ = rows.Close() }()

	result := domain.EffectiveUnset
	for rows.Next() {
		var p domain.DoorPermission
		if err := rows.Scan(&p.Action, &p.ExpiresAt); err != nil {
			return domain.EffectiveUnset, err
		}
		if p.Expired(now) {
			continue
		}
		if p.Action == domain.PermissionDeny {
			return domain.EffectiveDeny, rows.Err()
		}
		if p.Action == domain.PermissionAllow {
			result = domain.EffectiveAllow
		}
	}
	return result, rows.Err()
}
