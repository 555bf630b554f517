package fossil

import (
	"io"
	"sync"
	"time"
)

// Serial defaults a freshly opened session reports: COM1, 38400 8-N-1, both
// output signals asserted, carrier present, no ring.
const (
	defaultComPort  = 1
	defaultBaudRate = 38400
	defaultDataBits = 8
	defaultStopBits = 1
)

var validBaudRates = map[int]bool{
	300: true, 600: true, 1200: true, 2400: true, 4800: true,
	9600: true, 19200: true, 38400: true, 57600: true, 115200: true,
}

// Session is the virtual serial port state for one door session. All fields
// are guarded by mu; the bridge is the only mutator.
type Session struct {
	mu sync.Mutex

	id        string
	active    bool
	createdAt time.Time

	comPort  int
	baudRate int
	dataBits int
	stopBits int
	parity   string

	// Output signals driven by the emulated side.
	dtr bool
	rts bool

	// Input signals the bridge reports to the emulated side. DCD tracks
	// whether the network peer is still connected.
	cts bool
	dsr bool
	dcd bool
	ri  bool

	bytesSent     uint64
	bytesReceived uint64

	in  *ring
	out *ring

	interruptsEnabled bool
	onInterrupt       func(vector int)

	peer io.ReadWriteCloser
}

func newSession(id string, bufferSize int, peer io.ReadWriteCloser, now time.Time) *Session {
	return &Session{
		id:        id,
		active:    true,
		createdAt: now,
		comPort:   defaultComPort,
		baudRate:  defaultBaudRate,
		dataBits:  defaultDataBits,
		stopBits:  defaultStopBits,
		parity:    "none",
		dtr:       true,
		rts:       true,
		cts:       true,
		dsr:       true,
		dcd:       true,
		in:        newRing(bufferSize),
		out:       newRing(bufferSize),
		peer:      peer,
	}
}

// Info is a read-only snapshot of a session's serial state, used by
// introspection queries and the CLI.
type Info struct {
	SessionID     string
	Active        bool
	ComPort       int
	BaudRate      int
	DataBits      int
	StopBits      int
	Parity        string
	DTR, RTS      bool
	CTS, DSR      bool
	DCD, RI       bool
	BytesSent     uint64
	BytesReceived uint64
	CreatedAt     time.Time
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:     s.id,
		Active:        s.active,
		ComPort:       s.comPort,
		BaudRate:      s.baudRate,
		DataBits:      s.dataBits,
		StopBits:      s.stopBits,
		Parity:        s.parity,
		DTR:           s.dtr,
		RTS:           s.rts,
		CTS:           s.cts,
		DSR:           s.dsr,
		DCD:           s.dcd,
		RI:            s.ri,
		BytesSent:     s.bytesSent,
		BytesReceived: s.bytesReceived,
		CreatedAt:     s.createdAt,
	}
}

// accountSent adds door-to-user traffic relayed by the pipe server.
func (s *Session) accountSent(n int) {
	s.mu.Lock()
	s.bytesSent += uint64(n)
	s.mu.Unlock()
}

// accountReceived adds user-to-door traffic relayed by the pipe server.
func (s *Session) accountReceived(n int) {
	s.mu.Lock()
	s.bytesReceived += uint64(n)
	s.mu.Unlock()
}

// dropCarrier marks the session inactive and deasserts DCD; called when
// either pipe copy loop ends.
func (s *Session) dropCarrier() {
	s.mu.Lock()
	s.active = false
	s.dcd = false
	s.mu.Unlock()
}
