package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
	"github.com/bbslab/doorhost/internal/dropfile"
)

const killWait = 5 * time.Second

// Supervise blocks until the session's child exits, its time limit lapses,
// it goes idle past the configured timeout, or ctx is cancelled. Every exit
// path runs the full End teardown exactly once.
func (m *Manager) Supervise(ctx context.Context, sessionID string) error {
	t := m.lookup(sessionID)
	if t == nil {
		return &domain.SessionError{SessionID: sessionID, Op: "supervise", Err: domain.ErrSessionNotFound}
	}
	t.mu.Lock()
	proc := t.proc
	door := t.door
	startedAt := t.sess.StartedAt
	running := !t.done && t.sess.State == domain.StateRunning
	t.mu.Unlock()
	if proc == nil || !running {
		return &domain.SessionError{SessionID: sessionID, Op: "supervise", Err: domain.ErrSessionTerminal}
	}

	var limitCh <-chan time.Time
	if door.TimeLimit > 0 {
		wait := startedAt.Add(time.Duration(door.TimeLimit) * time.Minute).Sub(m.now())
		if wait < 0 {
			wait = 0
		}
		limitCh = m.after(wait)
	}

	for {
		t.mu.Lock()
		last := t.sess.LastActivity
		t.mu.Unlock()
		idleWait := m.cfg.IdleTimeout - m.now().Sub(last)
		if idleWait <= 0 {
			_ = proc.Kill()
			m.End(sessionID, 0, "idle timeout")
			return nil
		}

		select {
		case <-ctx.Done():
			_ = proc.Kill()
			m.End(sessionID, 0, "supervision cancelled")
			return ctx.Err()
		case <-proc.Done():
			m.End(sessionID, proc.ExitCode(), "")
			return nil
		case <-limitCh:
			_ = proc.Kill()
			m.End(sessionID, 0, "time limit reached")
			return nil
		case <-m.after(idleWait):
			// Loop re-reads LastActivity; bridge traffic since the timer
			// was armed pushes the deadline out.
		}
	}
}

// End tears a session down: kills a still-live child, closes the bridge and
// waits for its copy loops, removes the drop file and session directory,
// records statistics and a log entry, and writes the terminal store row.
// Idempotent; only the first call per session does work. A session ending
// with a manager-supplied reason counts as ended, not failed; an unexplained
// nonzero exit counts as failed.
func (m *Manager) End(sessionID string, exitCode int, reason string) bool {
	t := m.lookup(sessionID)
	if t == nil {
		return false
	}

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.done = true
	if t.proc != nil {
		select {
		case <-t.proc.Done():
		default:
			_ = t.proc.Kill()
			if !waitBounded(t.proc, killWait) {
				m.log.Warn("child did not exit after kill", "session_id", sessionID, "pid", t.sess.PID)
			}
		}
	}
	now := m.now()
	t.sess.EndedAt = now
	t.sess.ExitCode = exitCode
	if reason == "" && exitCode != 0 {
		t.sess.State = domain.StateFailed
		t.sess.FailReason = fmt.Sprintf("exit code %d", exitCode)
	} else {
		t.sess.State = domain.StateEnded
		t.sess.FailReason = reason
	}
	sess := t.sess
	door := t.door
	t.mu.Unlock()

	m.bridge.Close(sessionID)
	if sess.DropFilePath != "" {
		dropfile.Cleanup(sess.DropFilePath)
	}
	m.bridge.CleanupEnvironment(sessionID)

	ctx := context.Background()
	if sess.State == domain.StateEnded {
		seconds := int64(now.Sub(sess.StartedAt) / time.Second)
		if err := m.registry.UpsertStatistics(ctx, door.ID, sess.UserID, seconds, now, nil); err != nil {
			m.log.Warn("statistics write failed", "session_id", sessionID, "err", err)
		}
	}

	level := domain.LogInfo
	message := "session ended"
	if sess.State == domain.StateFailed {
		level = domain.LogError
		message = "session failed"
	}
	detail := sess.FailReason
	if detail == "" {
		detail = fmt.Sprintf("exit code %d", sess.ExitCode)
	}
	if err := m.registry.AppendLog(ctx, domain.DoorLog{
		DoorID:    door.ID,
		SessionID: sessionID,
		Level:     level,
		Message:   message,
		Detail:    detail,
		CreatedAt: now,
	}); err != nil {
		m.log.Warn("log append failed", "session_id", sessionID, "err", err)
	}

	if err := m.registry.FinishSession(ctx, sess); err != nil {
		m.log.Warn("terminal state write failed", "session_id", sessionID, "err", err)
	}

	m.untrack(sessionID)
	m.log.Info("session finished",
		"session_id", sessionID, "door_id", door.ID, "state", string(sess.State),
		"exit_code", exitCode, "reason", sess.FailReason)
	return true
}
