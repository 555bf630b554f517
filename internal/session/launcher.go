package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sync/errgroup"
)

// LaunchSpec describes one child process to start for a door session.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	// UsePTY runs the child under a pseudo-terminal and splices its bytes
	// to the session. Doors running inside an emulator do their own serial
	// redirection and leave this unset.
	UsePTY bool

	// PipePath, when set, is the session's pipe socket; the pty is spliced
	// to it so the bridge accounts the traffic. When empty, Peer is spliced
	// directly.
	PipePath string
	Peer     io.ReadWriteCloser
}

// Process is a started door child observed by the supervisor.
type Process interface {
	PID() int
	Done() <-chan struct{}
	ExitCode() int
	Kill() error
}

// ProcessLauncher starts door children. The manager only ever observes
// processes through the Process interface, which keeps supervision testable
// without real children.
type ProcessLauncher interface {
	Start(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher starts real child processes with os/exec, optionally under a
// pty for doors that talk to their controlling terminal directly.
type ExecLauncher struct {
	Log *slog.Logger
}

func (l *ExecLauncher) Start(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}

	if !spec.UsePTY {
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		go p.wait(nil)
		return p, nil
	}

	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	stream, err := l.sessionStream(spec)
	if err != nil {
		_ = tty.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	g := &errgroup.Group{}
	g.Go(func() error {
		_, err := io.Copy(tty, stream)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stream, tty)
		return err
	})
	go p.wait(func() {
		_ = tty.Close()
		_ = stream.Close()
		_ = g.Wait()
	})
	return p, nil
}

// sessionStream resolves the byte stream a pty door is spliced to: the
// session's pipe socket when one exists, otherwise the raw peer.
func (l *ExecLauncher) sessionStream(spec LaunchSpec) (io.ReadWriteCloser, error) {
	if spec.PipePath != "" {
		conn, err := net.Dial("unix", spec.PipePath)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	if spec.Peer == nil {
		return nil, errors.New("pty launch needs a pipe path or a peer")
	}
	return spec.Peer, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) wait(cleanup func()) {
	err := p.cmd.Wait()
	p.mu.Lock()
	switch {
	case err == nil:
		p.exitCode = 0
	case p.cmd.ProcessState != nil:
		p.exitCode = p.cmd.ProcessState.ExitCode()
	default:
		p.exitCode = -1
	}
	p.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
	close(p.done)
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Kill force-terminates the child. The exit is still observed through Done,
// so supervision always runs its normal teardown path.
func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// waitBounded blocks until the process exits or the timeout lapses. Used by
// teardown to avoid hanging on a child that ignores SIGKILL.
func waitBounded(p Process, timeout time.Duration) bool {
	select {
	case <-p.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}
