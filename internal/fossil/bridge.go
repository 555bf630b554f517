// Package fossil emulates the FOSSIL serial driver interface door programs
// depend on: per-session virtual COM port state, buffered non-blocking I/O
// with accurate byte accounting, flow-control signals, interrupt
// notification, and a named-pipe server relaying bytes between the network
// peer and the emulated machine's serial redirection.
package fossil

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
)

// Bridge owns the synchronized table of FOSSIL sessions and their pipe
// servers. Unknown-session operations return failure values rather than
// errors: the bridge is polled by many independent callers and a stale id
// must never take one down.
type Bridge struct {
	dir        string
	bufferSize int
	log        *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	pipes    map[string]*pipeServer

	onActivity func(sessionID string)
	now        func() time.Time
}

// NewBridge creates a bridge keeping per-session runtime files under dir.
func NewBridge(dir string, bufferSize int, logger *slog.Logger) *Bridge {
	return &Bridge{
		dir:        dir,
		bufferSize: bufferSize,
		log:        logger,
		sessions:   make(map[string]*Session),
		pipes:      make(map[string]*pipeServer),
		now:        time.Now,
	}
}

// SetActivityFunc registers the callback fired whenever bytes move through a
// session. The session manager uses it to refresh last-activity timestamps.
func (b *Bridge) SetActivityFunc(fn func(sessionID string)) {
	b.mu.Lock()
	b.onActivity = fn
	b.mu.Unlock()
}

func (b *Bridge) notifyActivity(sessionID string) {
	b.mu.RLock()
	fn := b.onActivity
	b.mu.RUnlock()
	if fn != nil {
		fn(sessionID)
	}
}

// Open creates the FOSSIL session for sessionID with serial defaults. peer
// is the network byte stream the pipe server will splice; it may be nil for
// sessions driven purely through Send/Receive.
func (b *Bridge) Open(sessionID string, peer io.ReadWriteCloser) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.sessions[sessionID]; exists {
		return nil, &domain.SessionError{SessionID: sessionID, Op: "open", Err: domain.ErrDuplicateSession}
	}
	s := newSession(sessionID, b.bufferSize, peer, b.now())
	b.sessions[sessionID] = s
	b.log.Debug("fossil session opened", "session_id", sessionID)
	return s, nil
}

func (b *Bridge) lookup(sessionID string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[sessionID]
}

// InitializeDriver applies the door's COM port and baud settings. Zero
// values keep the defaults. A rejected call leaves the session untouched.
func (b *Bridge) InitializeDriver(sessionID string, comPort, baud int) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	if baud > 0 && !validBaudRates[baud] {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if comPort > 0 {
		s.comPort = comPort
	}
	if baud > 0 {
		s.baudRate = baud
	}
	s.active = true
	return true
}

// SetBaudRate changes the session's baud rate; unsupported rates are
// rejected.
func (b *Bridge) SetBaudRate(sessionID string, baud int) bool {
	s := b.lookup(sessionID)
	if s == nil || !validBaudRates[baud] {
		return false
	}
	s.mu.Lock()
	s.baudRate = baud
	s.mu.Unlock()
	return true
}

// SetDataFormat changes the line format. Valid: 5-8 data bits, 1-2 stop
// bits, parity none|even|odd|mark|space.
func (b *Bridge) SetDataFormat(sessionID string, dataBits, stopBits int, parity string) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	if dataBits < 5 || dataBits > 8 || stopBits < 1 || stopBits > 2 {
		return false
	}
	switch parity {
	case domain.ParityNone, domain.ParityEven, domain.ParityOdd, domain.ParityMark, domain.ParitySpace:
	default:
		return false
	}
	s.mu.Lock()
	s.dataBits = dataBits
	s.stopBits = stopBits
	s.parity = parity
	s.mu.Unlock()
	return true
}

// Deinitialize marks the driver down for the session without discarding it.
func (b *Bridge) Deinitialize(sessionID string) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	return true
}

// Send queues door output bytes and returns how many were accepted, bounded
// by the output buffer's free space. Partial acceptance is reported, never
// hidden.
func (b *Bridge) Send(sessionID string, data []byte) int {
	s := b.lookup(sessionID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	n := s.out.write(data)
	s.bytesSent += uint64(n)
	s.mu.Unlock()
	if n > 0 {
		b.notifyActivity(sessionID)
	}
	return n
}

// Receive returns up to maxBytes of buffered user input. Never blocks; an
// empty buffer yields an empty result immediately.
func (b *Bridge) Receive(sessionID string, maxBytes int) []byte {
	s := b.lookup(sessionID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	data := s.in.read(maxBytes)
	s.bytesReceived += uint64(len(data))
	s.mu.Unlock()
	if len(data) > 0 {
		b.notifyActivity(sessionID)
	}
	return data
}

// GetInputBufferCount reports how many user input bytes are buffered.
func (b *Bridge) GetInputBufferCount(sessionID string) int {
	s := b.lookup(sessionID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in.length()
}

// FlushInputBuffer discards buffered user input.
func (b *Bridge) FlushInputBuffer(sessionID string) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.in.reset()
	s.mu.Unlock()
	return true
}

// FlushOutputBuffer discards queued door output.
func (b *Bridge) FlushOutputBuffer(sessionID string) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.out.reset()
	s.mu.Unlock()
	return true
}

// pushInput queues user bytes for Receive; used by tests and local feeders.
// Returns bytes accepted.
func (b *Bridge) pushInput(sessionID string, data []byte) int {
	s := b.lookup(sessionID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	n := s.in.write(data)
	s.mu.Unlock()
	return n
}

// drainOutput removes up to max queued door-output bytes. The buffer rings
// back the polled Send/Receive surface only; the pipe server's copy loops
// relay between peer and pipe directly.
func (b *Bridge) drainOutput(sessionID string, max int) []byte {
	s := b.lookup(sessionID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.read(max)
}

// SetDtr records the DTR output signal driven by the emulated side.
func (b *Bridge) SetDtr(sessionID string, asserted bool) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.dtr = asserted
	s.mu.Unlock()
	return true
}

// SetRts records the RTS output signal driven by the emulated side.
func (b *Bridge) SetRts(sessionID string, asserted bool) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.rts = asserted
	s.mu.Unlock()
	return true
}

// GetCts reports the clear-to-send input signal. Unknown sessions read as
// deasserted.
func (b *Bridge) GetCts(sessionID string) bool { return b.inputSignal(sessionID, func(s *Session) bool { return s.cts }) }

// GetDsr reports the data-set-ready input signal.
func (b *Bridge) GetDsr(sessionID string) bool { return b.inputSignal(sessionID, func(s *Session) bool { return s.dsr }) }

// GetDcd reports data-carrier-detect: whether the network peer is still
// connected.
func (b *Bridge) GetDcd(sessionID string) bool { return b.inputSignal(sessionID, func(s *Session) bool { return s.dcd }) }

// GetRi reports the ring-indicator input signal.
func (b *Bridge) GetRi(sessionID string) bool { return b.inputSignal(sessionID, func(s *Session) bool { return s.ri }) }

func (b *Bridge) inputSignal(sessionID string, get func(*Session) bool) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return get(s)
}

// SetInterruptHandler registers the callback SimulateInterrupt fires.
func (b *Bridge) SetInterruptHandler(sessionID string, fn func(vector int)) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.onInterrupt = fn
	s.mu.Unlock()
	return true
}

// EnableInterrupts turns interrupt notification on for the session.
func (b *Bridge) EnableInterrupts(sessionID string) bool {
	return b.setInterrupts(sessionID, true)
}

// DisableInterrupts turns interrupt notification off.
func (b *Bridge) DisableInterrupts(sessionID string) bool {
	return b.setInterrupts(sessionID, false)
}

func (b *Bridge) setInterrupts(sessionID string, enabled bool) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.interruptsEnabled = enabled
	s.mu.Unlock()
	return true
}

// SimulateInterrupt fires the session's registered handler with vector.
// Notification semantics only; no real hardware interrupt exists.
func (b *Bridge) SimulateInterrupt(sessionID string, vector int) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	enabled := s.interruptsEnabled
	fn := s.onInterrupt
	s.mu.Unlock()
	if !enabled || fn == nil {
		return false
	}
	fn(vector)
	return true
}

// GetSessionStatistics reports the byte counters for a session.
func (b *Bridge) GetSessionStatistics(sessionID string) (sent, received uint64, ok bool) {
	s := b.lookup(sessionID)
	if s == nil {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent, s.bytesReceived, true
}

// GetSessionUpTime reports how long the session has existed.
func (b *Bridge) GetSessionUpTime(sessionID string) (time.Duration, bool) {
	s := b.lookup(sessionID)
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	created := s.createdAt
	s.mu.Unlock()
	return b.now().Sub(created), true
}

// IsSessionActive reports whether the session exists and its driver is up.
func (b *Bridge) IsSessionActive(sessionID string) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SessionInfo returns a snapshot of the session's serial state.
func (b *Bridge) SessionInfo(sessionID string) (Info, bool) {
	s := b.lookup(sessionID)
	if s == nil {
		return Info{}, false
	}
	return s.info(), true
}

// Close tears down the session: stops its pipe server, waits for both copy
// loops, releases buffers, and removes the session. Idempotent; returns
// false when the session did not exist.
func (b *Bridge) Close(sessionID string) bool {
	b.mu.Lock()
	s, exists := b.sessions[sessionID]
	if !exists {
		b.mu.Unlock()
		return false
	}
	delete(b.sessions, sessionID)
	var srv *pipeServer
	pn := pipeName(sessionID)
	if p, ok := b.pipes[pn]; ok {
		srv = p
		delete(b.pipes, pn)
	}
	b.mu.Unlock()

	if srv != nil {
		srv.stop()
	}
	s.mu.Lock()
	s.active = false
	s.dcd = false
	s.in.reset()
	s.out.reset()
	peer := s.peer
	s.peer = nil
	s.mu.Unlock()
	if peer != nil {
		_ = peer.Close()
	}
	b.log.Debug("fossil session closed", "session_id", sessionID)
	return true
}

func pipeName(sessionID string) string {
	return fmt.Sprintf("fossil_%s", sessionID)
}
