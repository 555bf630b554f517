package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
	"github.com/bbslab/doorhost/internal/dropfile"
)

// Launch materializes an authorized session: configuration checks, drop
// file, launch config, FOSSIL bridge and pipe server when the door needs
// them, then the child process. peer is the user's byte stream. A failure at
// any step marks the session failed, records it, and is never retried.
func (m *Manager) Launch(ctx context.Context, sessionID string, peer io.ReadWriteCloser) error {
	t := m.lookup(sessionID)
	if t == nil {
		return &domain.SessionError{SessionID: sessionID, Op: "launch", Err: domain.ErrSessionNotFound}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.sess.State != domain.StateStarting {
		return &domain.SessionError{SessionID: sessionID, Op: "launch", Err: domain.ErrSessionTerminal}
	}
	door := t.door
	now := m.now()

	if err := m.checkRunnable(door); err != nil {
		return m.failLaunch(ctx, t, err)
	}

	dir, err := m.bridge.SetupEnvironment(sessionID)
	if err != nil {
		return m.failLaunch(ctx, t, err)
	}
	t.sess.WorkDir = dir

	timeLeft := t.sess.TimeLeft(door, now, m.cfg.DefaultTimeLeft)
	handoff, err := m.drop.Generate(door, t.user, t.sess, timeLeft, dir, now)
	if err != nil {
		return m.failLaunch(ctx, t, err)
	}
	t.sess.DropFilePath = handoff.Path

	pipePath := ""
	if door.RequiresFossil {
		if _, err := m.bridge.Open(sessionID, peer); err != nil {
			return m.failLaunch(ctx, t, err)
		}
		m.bridge.InitializeDriver(sessionID, door.ComPort, door.BaudRate)
		m.bridge.SetDataFormat(sessionID, door.DataBits, door.StopBits, door.Parity)
		pn, err := m.bridge.CreateNamedPipe(sessionID, fmt.Sprintf("COM%d", door.ComPort))
		if err != nil {
			return m.failLaunch(ctx, t, err)
		}
		t.pipe = pn
		pipePath = m.bridge.PipePath(pn)
		if !m.bridge.StartPipeServer(pn, sessionID) {
			return m.failLaunch(ctx, t, fmt.Errorf("pipe server failed to start"))
		}
	}

	spec, err := m.launchSpec(t, pipePath, dir, timeLeft, peer)
	if err != nil {
		return m.failLaunch(ctx, t, err)
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SpawnTimeout)
	defer cancel()
	proc, err := m.launcher.Start(sctx, spec)
	if err != nil {
		return m.failLaunch(ctx, t, fmt.Errorf("spawn: %w", err))
	}

	t.proc = proc
	t.sess.State = domain.StateRunning
	t.sess.PID = proc.PID()
	t.sess.LastActivity = now
	if err := m.registry.UpdateSessionState(ctx, t.sess); err != nil {
		m.log.Warn("running state write failed", "session_id", sessionID, "err", err)
	}
	m.log.Info("session launched",
		"session_id", sessionID, "door_id", door.ID, "pid", t.sess.PID, "node", t.sess.Node)
	return nil
}

// launchSpec builds the child invocation for the session's door flavor:
// emulator doors run the machine against the launch config; fossil doors
// without an emulator run their launcher script under a pty spliced to the
// session pipe; plain doors run directly against the peer.
func (m *Manager) launchSpec(t *tracked, pipePath, dir string, timeLeft int, peer io.ReadWriteCloser) (LaunchSpec, error) {
	door := t.door
	now := m.now()

	if door.RequiresEmulator {
		artifact, err := m.conf.Build(door, t.sess, pipePath, dir, m.templateVars(door, t.user, t.sess, timeLeft, now))
		if err != nil {
			return LaunchSpec{}, err
		}
		t.sess.ConfigPath = artifact.Path
		return LaunchSpec{
			Command: m.cfg.EmulatorPath,
			Args:    []string{"-conf", artifact.Path},
			Dir:     dir,
		}, nil
	}

	args, err := m.doorArgs(door, t.user, t.sess, timeLeft, now)
	if err != nil {
		return LaunchSpec{}, err
	}

	if door.RequiresFossil {
		script, err := m.bridge.GenerateBatchFile(t.sess.ID, fmt.Sprintf("COM%d", door.ComPort), door.Executable, args)
		if err != nil {
			return LaunchSpec{}, err
		}
		return LaunchSpec{
			Command:  script,
			Dir:      door.WorkingDir,
			UsePTY:   true,
			PipePath: pipePath,
		}, nil
	}

	return LaunchSpec{
		Command: door.Executable,
		Args:    args,
		Dir:     door.WorkingDir,
		Env: []string{
			"DOOR_DROP=" + t.sess.DropFilePath,
			fmt.Sprintf("DOOR_NODE=%d", t.sess.Node),
			"DOOR_SESSION=" + t.sess.ID,
		},
		UsePTY: true,
		Peer:   peer,
	}, nil
}

// templateVars is the substitution table shared by direct-door argument
// expansion and the emulator autoexec line.
func (m *Manager) templateVars(door domain.Door, user dropfile.UserSnapshot, sess domain.DoorSession, timeLeft int, now time.Time) map[string]string {
	vars := m.drop.Vars(door, user, sess, timeLeft, now)
	vars["DROPFILE"] = sess.DropFilePath
	return vars
}

// doorArgs expands the door's argument template against the session's
// substitution table.
func (m *Manager) doorArgs(door domain.Door, user dropfile.UserSnapshot, sess domain.DoorSession, timeLeft int, now time.Time) ([]string, error) {
	if door.ArgsTemplate == "" {
		return nil, nil
	}
	expanded, err := dropfile.Expand(strings.ReplaceAll(door.ArgsTemplate, "{dropfile}", "{DROPFILE}"), m.templateVars(door, user, sess, timeLeft, now))
	if err != nil {
		return nil, err
	}
	return strings.Fields(expanded), nil
}

// failLaunch records a launch-time configuration or runtime failure and
// tears down anything already materialized. Called with t.mu held.
func (m *Manager) failLaunch(ctx context.Context, t *tracked, cause error) error {
	t.done = true
	now := m.now()
	t.sess.State = domain.StateFailed
	t.sess.EndedAt = now
	t.sess.FailReason = cause.Error()
	sess := t.sess
	door := t.door

	m.bridge.Close(sess.ID)
	if sess.DropFilePath != "" {
		dropfile.Cleanup(sess.DropFilePath)
	}
	m.bridge.CleanupEnvironment(sess.ID)

	if err := m.registry.FinishSession(ctx, sess); err != nil {
		m.log.Warn("failed state write failed", "session_id", sess.ID, "err", err)
	}
	if err := m.registry.AppendLog(ctx, domain.DoorLog{
		DoorID:    door.ID,
		SessionID: sess.ID,
		Level:     domain.LogError,
		Message:   "launch failed",
		Detail:    cause.Error(),
		CreatedAt: now,
	}); err != nil {
		m.log.Warn("log append failed", "session_id", sess.ID, "err", err)
	}
	m.log.Error("launch failed", "session_id", sess.ID, "door_id", door.ID, "err", cause)

	go m.untrack(sess.ID)
	return &domain.SessionError{SessionID: sess.ID, Op: "launch", Err: cause}
}

// untrack drops a terminal session from the table. Never call it while
// holding a tracked session's lock.
func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// checkRunnable verifies the door's on-disk configuration before anything is
// spawned.
func (m *Manager) checkRunnable(door domain.Door) error {
	if info, err := os.Stat(door.WorkingDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", domain.ErrWorkingDirNotFound, door.WorkingDir)
	}
	if err := resolveExecutable(door); err != nil {
		return err
	}
	if door.RequiresEmulator {
		if _, err := exec.LookPath(m.cfg.EmulatorPath); err != nil {
			return fmt.Errorf("%w: %s", domain.ErrEmulatorUnavailable, m.cfg.EmulatorPath)
		}
	}
	switch door.DropFileKind {
	case domain.DropFileDoorSys, domain.DropFileDorinfo:
	default:
		return fmt.Errorf("%w: unknown drop file kind %q", domain.ErrDropFileInvalid, door.DropFileKind)
	}
	return nil
}

// resolveExecutable locates the door binary. Emulated doors name a file
// inside the working directory mount; direct doors name a host path or a
// binary on PATH.
func resolveExecutable(door domain.Door) error {
	if door.Executable == "" {
		return fmt.Errorf("%w: empty executable", domain.ErrExecutableNotFound)
	}
	if door.RequiresEmulator {
		p := door.Executable
		if !filepath.IsAbs(p) {
			p = filepath.Join(door.WorkingDir, p)
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, door.Executable)
		}
		return nil
	}
	if strings.ContainsRune(door.Executable, os.PathSeparator) {
		if _, err := os.Stat(door.Executable); err != nil {
			return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, door.Executable)
		}
		return nil
	}
	if _, err := exec.LookPath(door.Executable); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, door.Executable)
	}
	return nil
}
