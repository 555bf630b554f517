package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/bbslab/doorhost/internal/domain"
)

// ListActive snapshots the tracked non-terminal sessions, oldest first.
// Empty doorID returns all doors.
func (m *Manager) ListActive(doorID string) []*domain.DoorSession {
	m.mu.Lock()
	snap := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		snap = append(snap, t)
	}
	m.mu.Unlock()

	var out []*domain.DoorSession
	for _, t := range snap {
		t.mu.Lock()
		sess := t.sess
		done := t.done
		t.mu.Unlock()
		if done || sess.State.Terminal() {
			continue
		}
		if doorID != "" && sess.DoorID != doorID {
			continue
		}
		s := sess
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CleanupExpired is the explicit maintenance sweep; there is no background
// loop. It finalizes tracked sessions whose child already exited, fails
// sessions that were authorized but never launched within the grace period,
// reclaims store rows stuck non-terminal with no live session, and removes
// session directories older than the grace period. Returns how many items
// were cleaned.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	cleaned := 0
	now := m.now()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		t := m.lookup(id)
		if t == nil {
			continue
		}
		t.mu.Lock()
		proc := t.proc
		done := t.done
		state := t.sess.State
		started := t.sess.StartedAt
		t.mu.Unlock()
		exited := false
		if proc != nil {
			select {
			case <-proc.Done():
				exited = true
			default:
			}
		}
		if !done && exited {
			if m.End(id, proc.ExitCode(), "") {
				cleaned++
			}
			continue
		}
		// A session authorized but never launched holds its node forever;
		// the caller crashed between RequestStart and Launch.
		if !done && proc == nil && state == domain.StateStarting && now.Sub(started) >= m.cfg.CleanupGrace {
			t.mu.Lock()
			if !t.done {
				_ = m.failLaunch(ctx, t, errors.New("authorized but never launched"))
				cleaned++
			}
			t.mu.Unlock()
			continue
		}
		if !done {
			live[id] = true
		}
	}

	reaped, err := m.registry.ReapOrphanSessions(ctx, live, now)
	if err != nil {
		m.log.Warn("orphan reap failed", "err", err)
	}
	cleaned += reaped

	entries, err := os.ReadDir(m.cfg.SessionsDir)
	if err != nil {
		return cleaned
	}
	for _, e := range entries {
		if !e.IsDir() || live[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < m.cfg.CleanupGrace {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.cfg.SessionsDir, e.Name())); err != nil {
			m.log.Warn("session dir removal failed", "dir", e.Name(), "err", err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		m.log.Info("maintenance sweep", "cleaned", cleaned)
	}
	return cleaned
}

// Problem is one configuration defect found by ValidateDoor.
type Problem struct {
	Field  string
	Detail string
}

func (p Problem) String() string { return p.Field + ": " + p.Detail }

// ValidateDoor checks a door's configuration without starting anything:
// executable and working directory presence, emulator availability, drop
// file kind, and serial parameters.
func (m *Manager) ValidateDoor(door domain.Door) []Problem {
	var problems []Problem

	if info, err := os.Stat(door.WorkingDir); err != nil || !info.IsDir() {
		problems = append(problems, Problem{"working_dir", fmt.Sprintf("%s not found", door.WorkingDir)})
	} else if err := resolveExecutable(door); err != nil {
		problems = append(problems, Problem{"executable", err.Error()})
	}
	if door.RequiresEmulator {
		if _, err := exec.LookPath(m.cfg.EmulatorPath); err != nil {
			problems = append(problems, Problem{"emulator", fmt.Sprintf("%s not available", m.cfg.EmulatorPath)})
		}
	}
	switch door.DropFileKind {
	case domain.DropFileDoorSys, domain.DropFileDorinfo:
	default:
		problems = append(problems, Problem{"drop_file", fmt.Sprintf("unknown kind %q", door.DropFileKind)})
	}
	if door.RequiresFossil {
		if door.ComPort < 1 || door.ComPort > 4 {
			problems = append(problems, Problem{"com_port", fmt.Sprintf("%d outside 1-4", door.ComPort)})
		}
		if door.BaudRate <= 0 {
			problems = append(problems, Problem{"baud_rate", fmt.Sprintf("%d invalid", door.BaudRate)})
		}
		if door.DataBits < 5 || door.DataBits > 8 {
			problems = append(problems, Problem{"data_bits", fmt.Sprintf("%d outside 5-8", door.DataBits)})
		}
		if door.StopBits < 1 || door.StopBits > 2 {
			problems = append(problems, Problem{"stop_bits", fmt.Sprintf("%d outside 1-2", door.StopBits)})
		}
		switch door.Parity {
		case domain.ParityNone, domain.ParityEven, domain.ParityOdd, domain.ParityMark, domain.ParitySpace:
		default:
			problems = append(problems, Problem{"parity", fmt.Sprintf("unknown parity %q", door.Parity)})
		}
	}
	if door.MultiNode && door.MaxNodes < 1 {
		problems = append(problems, Problem{"max_nodes", "multi-node door needs max_nodes >= 1"})
	}
	return problems
}
