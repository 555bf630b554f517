// Package session implements the door session lifecycle: authorization of
// start requests against door policy, launch of the child process with its
// drop file and serial bridge, supervision until exit or expiry, and
// teardown with statistics and log records.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bbslab/doorhost/internal/config"
	"github.com/bbslab/doorhost/internal/domain"
	"github.com/bbslab/doorhost/internal/dropfile"
	"github.com/bbslab/doorhost/internal/fossil"
	"github.com/bbslab/doorhost/internal/launchcfg"
)

// Registry is the slice of the store the manager depends on.
type Registry interface {
	GetDoor(ctx context.Context, id string) (domain.Door, error)
	EffectivePermission(ctx context.Context, doorID, userID string, groups []string, now time.Time) (string, error)
	DailySessionCount(ctx context.Context, doorID, userID string, dayStart time.Time) (int, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	CreateSession(ctx context.Context, sess domain.DoorSession) error
	UpdateSessionState(ctx context.Context, sess domain.DoorSession) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	FinishSession(ctx context.Context, sess domain.DoorSession) error
	ListActiveSessions(ctx context.Context, doorID string) ([]domain.DoorSession, error)
	ReapOrphanSessions(ctx context.Context, live map[string]bool, now time.Time) (int, error)
	UpsertStatistics(ctx context.Context, doorID, userID string, seconds int64, playedAt time.Time, highScore *int64) error
	AppendLog(ctx context.Context, entry domain.DoorLog) error
}

// StartRequest identifies who wants to play which door. Group membership is
// supplied by the caller; the core has no account system of its own.
type StartRequest struct {
	DoorID    string
	UserID    string
	UserName  string
	RealName  string
	Location  string
	UserLevel int
	Groups    []string
}

// tracked is one live session under management. Its mutex serializes all
// lifecycle mutations for the session; the manager mutex only guards the
// session table itself.
type tracked struct {
	mu   sync.Mutex
	sess domain.DoorSession
	door domain.Door
	user dropfile.UserSnapshot
	proc Process
	pipe string
	done bool

	lastStoreTouch time.Time
}

// Manager owns the session table and drives every session through the
// requested -> starting -> running -> ended/failed lifecycle.
type Manager struct {
	cfg      config.Config
	registry Registry
	bridge   *fossil.Bridge
	launcher ProcessLauncher
	drop     dropfile.Generator
	conf     launchcfg.Builder
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*tracked

	// Clock hooks, swapped in tests.
	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

func NewManager(cfg config.Config, registry Registry, bridge *fossil.Bridge, launcher ProcessLauncher, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		registry: registry,
		bridge:   bridge,
		launcher: launcher,
		drop:     dropfile.Generator{BBSName: cfg.BBSName, SysopName: cfg.SysopName},
		log:      logger,
		sessions: make(map[string]*tracked),
		now:      time.Now,
		after:    func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
	bridge.SetActivityFunc(m.onActivity)
	return m
}

// RequestStart authorizes a session against door policy and, on success,
// persists and tracks it in state starting. Policy failures come back as
// domain sentinel errors. Capacity and the one-active-per-user rule are
// checked atomically under the manager mutex; the daily-limit count is a
// read against the store and two racing requests may both pass it when
// exactly one play remains.
func (m *Manager) RequestStart(ctx context.Context, req StartRequest) (*domain.DoorSession, error) {
	door, err := m.registry.GetDoor(ctx, req.DoorID)
	if err != nil {
		return nil, err
	}
	now := m.now()

	if !door.Active {
		return nil, domain.ErrDoorInactive
	}
	if !door.ScheduleOpen(now) {
		return nil, domain.ErrScheduleClosed
	}

	perm, err := m.registry.EffectivePermission(ctx, door.ID, req.UserID, req.Groups, now)
	if err != nil {
		return nil, err
	}
	switch perm {
	case domain.EffectiveDeny:
		return nil, domain.ErrAccessDenied
	case domain.EffectiveAllow:
		// Explicit grant bypasses the level window.
	default:
		if req.UserLevel < door.MinimumLevel || (door.MaximumLevel > 0 && req.UserLevel > door.MaximumLevel) {
			return nil, domain.ErrAccessDenied
		}
	}

	if door.DailyLimit > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		count, err := m.registry.DailySessionCount(ctx, door.ID, req.UserID, dayStart)
		if err != nil {
			return nil, err
		}
		if count >= door.DailyLimit {
			return nil, domain.ErrDailyLimitReached
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	nodesInUse := make(map[int]bool)
	for _, t := range m.sessions {
		t.mu.Lock()
		sess := t.sess
		t.mu.Unlock()
		if sess.DoorID != door.ID || sess.State.Terminal() {
			continue
		}
		active++
		nodesInUse[sess.Node] = true
		if sess.UserID == req.UserID && !door.MultiNode {
			return nil, domain.ErrAlreadyActive
		}
	}
	if active >= door.Capacity() {
		return nil, domain.ErrCapacityExceeded
	}

	id, err := m.allocateID(ctx)
	if err != nil {
		return nil, err
	}
	node := 1
	for nodesInUse[node] {
		node++
	}

	sess := domain.DoorSession{
		ID:           id,
		DoorID:       door.ID,
		UserID:       req.UserID,
		UserName:     req.UserName,
		UserLevel:    req.UserLevel,
		Node:         node,
		State:        domain.StateStarting,
		StartedAt:    now,
		LastActivity: now,
	}
	if err := m.registry.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.sessions[id] = &tracked{
		sess: sess,
		door: door,
		user: dropfile.UserSnapshot{
			ID:       req.UserID,
			Handle:   req.UserName,
			RealName: req.RealName,
			Location: req.Location,
			Level:    req.UserLevel,
		},
	}
	m.log.Info("session authorized",
		"session_id", id, "door_id", door.ID, "user_id", req.UserID, "node", node)
	out := sess
	return &out, nil
}

// allocateID draws a uuid and re-draws on the unlikely collision with a
// persisted row.
func (m *Manager) allocateID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id := uuid.NewString()
		exists, err := m.registry.SessionExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("session id space exhausted")
}

func (m *Manager) lookup(id string) *tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// onActivity is the bridge's byte-flow callback. It refreshes the in-memory
// activity stamp on every call and the store row at most once per second.
func (m *Manager) onActivity(sessionID string) {
	t := m.lookup(sessionID)
	if t == nil {
		return
	}
	now := m.now()
	t.mu.Lock()
	t.sess.LastActivity = now
	writeThrough := now.Sub(t.lastStoreTouch) >= time.Second
	if writeThrough {
		t.lastStoreTouch = now
	}
	t.mu.Unlock()
	if writeThrough {
		if err := m.registry.TouchSession(context.Background(), sessionID, now); err != nil {
			m.log.Warn("activity write failed", "session_id", sessionID, "err", err)
		}
	}
}
