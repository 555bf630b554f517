package fossil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bbslab/doorhost/internal/domain"
)

const copyBufferSize = 4096

// pipeServer is the named IPC channel backing one FOSSIL session: a
// unix-domain socket the emulated machine's serial redirection dials, plus
// the paired copy loops that splice it to the network peer.
type pipeServer struct {
	name      string
	path      string
	sessionID string

	ln     net.Listener
	peer   io.ReadWriteCloser
	active atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// CreateNamedPipe derives the session's deterministic pipe name
// (fossil_<sessionID>) and prepares its socket path inside the session's
// runtime directory. The launch config builder and the bridge agree on the
// name without an extra handshake.
func (b *Bridge) CreateNamedPipe(sessionID, comLabel string) (string, error) {
	s := b.lookup(sessionID)
	if s == nil {
		return "", &domain.SessionError{SessionID: sessionID, Op: "create pipe", Err: domain.ErrSessionNotFound}
	}
	dir, err := b.SetupEnvironment(sessionID)
	if err != nil {
		return "", err
	}
	name := pipeName(sessionID)
	srv := &pipeServer{
		name:      name,
		path:      filepath.Join(dir, name),
		sessionID: sessionID,
	}
	b.mu.Lock()
	b.pipes[name] = srv
	b.mu.Unlock()
	b.log.Debug("named pipe created", "session_id", sessionID, "pipe", name, "com", comLabel)
	return name, nil
}

// PipePath reports the filesystem path of a created pipe, or "" when the
// pipe does not exist.
func (b *Bridge) PipePath(pipeName string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if srv, ok := b.pipes[pipeName]; ok {
		return srv.path
	}
	return ""
}

// StartPipeServer begins listening on the pipe and, once the door side
// connects, runs the two copy loops against the session's network peer.
// Returns false for an unknown pipe or session, a session without a peer,
// or a pipe already started.
func (b *Bridge) StartPipeServer(pipeName, sessionID string) bool {
	b.mu.RLock()
	srv := b.pipes[pipeName]
	s := b.sessions[sessionID]
	b.mu.RUnlock()
	if srv == nil || s == nil || srv.sessionID != sessionID {
		return false
	}
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return false
	}
	if !srv.active.CompareAndSwap(false, true) {
		return false
	}

	// A stale socket from a crashed previous run would break Listen.
	_ = os.Remove(srv.path)
	ln, err := net.Listen("unix", srv.path)
	if err != nil {
		srv.active.Store(false)
		b.log.Error("pipe listen failed", "session_id", sessionID, "pipe", pipeName, "err", err)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.ln = ln
	srv.peer = peer
	srv.cancel = cancel

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		b.servePipe(ctx, srv, s)
	}()
	b.log.Info("pipe server started", "session_id", sessionID, "pipe", pipeName)
	return true
}

// servePipe accepts the single door-side connection and splices it to the
// network peer. Either copy loop ending (peer disconnect, door exit, error)
// stops the other, drops carrier, and marks the FOSSIL session inactive.
func (b *Bridge) servePipe(ctx context.Context, srv *pipeServer, s *Session) {
	defer func() {
		s.dropCarrier()
		_ = srv.ln.Close()
	}()

	conn, err := srv.ln.Accept()
	if err != nil {
		// Listener closed before the door side connected.
		return
	}
	defer func() { _ = conn.Close() }()

	// Unblock both loops when the context ends.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		_ = srv.peer.Close()
	}()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() { _ = conn.Close() }()
		return b.copyPeerToPipe(srv.peer, conn, s)
	})
	g.Go(func() error {
		defer func() { _ = srv.peer.Close() }()
		return b.copyPipeToPeer(conn, srv.peer, s)
	})
	if err := g.Wait(); err != nil && !ignorableCopyError(err) {
		b.log.Warn("pipe relay ended", "session_id", srv.sessionID, "err", err)
	} else {
		b.log.Debug("pipe relay ended", "session_id", srv.sessionID)
	}
}

// copyPeerToPipe relays user keystrokes to the emulated serial port,
// feeding the input counter and the activity callback.
func (b *Bridge) copyPeerToPipe(peer io.Reader, pipe io.Writer, s *Session) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, err := peer.Read(buf)
		if n > 0 {
			s.accountReceived(n)
			b.notifyActivity(s.id)
			if _, werr := pipe.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// copyPipeToPeer relays door output to the user, feeding the output counter
// and the activity callback.
func (b *Bridge) copyPipeToPeer(pipe io.Reader, peer io.Writer, s *Session) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			s.accountSent(n)
			b.notifyActivity(s.id)
			if _, werr := peer.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// StopPipeServer shuts the pipe down and synchronously waits for both copy
// loops, so callers may delete session files immediately after it returns.
func (b *Bridge) StopPipeServer(pipeName string) bool {
	b.mu.Lock()
	srv, ok := b.pipes[pipeName]
	if ok {
		delete(b.pipes, pipeName)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	srv.stop()
	return true
}

// IsPipeActive reports whether the pipe exists and its server is running.
func (b *Bridge) IsPipeActive(pipeName string) bool {
	b.mu.RLock()
	srv, ok := b.pipes[pipeName]
	b.mu.RUnlock()
	return ok && srv.active.Load()
}

func (srv *pipeServer) stop() {
	srv.stopOnce.Do(func() {
		if srv.cancel != nil {
			srv.cancel()
		}
		if srv.ln != nil {
			_ = srv.ln.Close()
		}
		if srv.peer != nil {
			_ = srv.peer.Close()
		}
		srv.wg.Wait()
		srv.active.Store(false)
		_ = os.Remove(srv.path)
	})
}

func ignorableCopyError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// SetupEnvironment creates (if needed) and returns the session's runtime
// directory, which holds the pipe socket, launcher script, and temp files.
func (b *Bridge) SetupEnvironment(sessionID string) (string, error) {
	dir := filepath.Join(b.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("session environment: %w", err)
	}
	return dir, nil
}

// CleanupEnvironment removes the session's runtime directory. Returns false
// when there was nothing to remove.
func (b *Bridge) CleanupEnvironment(sessionID string) bool {
	dir := filepath.Join(b.dir, sessionID)
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	return os.RemoveAll(dir) == nil
}
