package fossil

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bbslab/doorhost/internal/domain"
	ilog "github.com/bbslab/doorhost/internal/log"
)

func testBridge(t *testing.T) *Bridge {
	t.Helper()
	return NewBridge(t.TempDir(), 1024, ilog.NewAt(io.Discard, slog.LevelError))
}

func TestOpenDefaults(t *testing.T) {
	t.Parallel()
	b := testBridge(t)

	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}
	info, ok := b.SessionInfo("s-1")
	if !ok {
		t.Fatal("session should exist")
	}
	if info.ComPort != 1 || info.BaudRate != 38400 || info.DataBits != 8 || info.StopBits != 1 || info.Parity != "none" {
		t.Fatalf("unexpected serial defaults: %+v", info)
	}
	if !info.DTR || !info.RTS {
		t.Fatalf("output signals should default asserted: %+v", info)
	}
	if !info.CTS || !info.DSR || !info.DCD {
		t.Fatalf("CTS/DSR/DCD should default asserted: %+v", info)
	}
	if info.RI {
		t.Fatalf("RI should default deasserted: %+v", info)
	}
	if !b.IsSessionActive("s-1") {
		t.Fatal("fresh session should be active")
	}
}

func TestOpenDuplicate(t *testing.T) {
	t.Parallel()
	b := testBridge(t)

	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open("s-1", nil); !errors.Is(err, domain.ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestSendAccountsAcceptedBytes(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	n := b.Send("s-1", []byte("Hello, World!"))
	if n != 13 {
		t.Fatalf("Send accepted %d bytes, want 13", n)
	}
	sent, received, ok := b.GetSessionStatistics("s-1")
	if !ok {
		t.Fatal("statistics should exist")
	}
	if sent != 13 {
		t.Fatalf("bytesSent = %d, want 13", sent)
	}
	if received != 0 {
		t.Fatalf("bytesReceived = %d, want 0", received)
	}
}

func TestSendPartialAcceptance(t *testing.T) {
	t.Parallel()
	b := NewBridge(t.TempDir(), 8, ilog.NewAt(io.Discard, slog.LevelError))
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	n := b.Send("s-1", []byte("0123456789"))
	if n != 8 {
		t.Fatalf("accepted %d bytes into an 8-byte buffer, want 8", n)
	}
	if m := b.Send("s-1", []byte("x")); m != 0 {
		t.Fatalf("full buffer accepted %d bytes, want 0", m)
	}
	sent, _, _ := b.GetSessionStatistics("s-1")
	if sent != 8 {
		t.Fatalf("bytesSent = %d, want 8 (only accepted bytes counted)", sent)
	}
}

func TestReceiveNeverBlocks(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	done := make(chan []byte, 1)
	go func() { done <- b.Receive("s-1", 64) }()
	select {
	case data := <-done:
		if len(data) != 0 {
			t.Fatalf("empty buffer returned %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive blocked on an empty buffer")
	}
}

func TestReceiveDrainsInput(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	if n := b.pushInput("s-1", []byte("abcdef")); n != 6 {
		t.Fatalf("pushInput accepted %d, want 6", n)
	}
	if got := b.GetInputBufferCount("s-1"); got != 6 {
		t.Fatalf("input count = %d, want 6", got)
	}
	if got := b.Receive("s-1", 4); !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("Receive = %q, want abcd", got)
	}
	if got := b.Receive("s-1", 4); !bytes.Equal(got, []byte("ef")) {
		t.Fatalf("Receive = %q, want ef", got)
	}
	if got := b.GetInputBufferCount("s-1"); got != 0 {
		t.Fatalf("input count after drain = %d, want 0", got)
	}
}

func TestFlushBuffers(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	b.pushInput("s-1", []byte("input"))
	b.Send("s-1", []byte("output"))
	if !b.FlushInputBuffer("s-1") || !b.FlushOutputBuffer("s-1") {
		t.Fatal("flush should succeed for a known session")
	}
	if got := b.GetInputBufferCount("s-1"); got != 0 {
		t.Fatalf("input count after flush = %d", got)
	}
	if data := b.drainOutput("s-1", 64); len(data) != 0 {
		t.Fatalf("output after flush = %q", data)
	}
}

func TestDriverConfiguration(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	if !b.InitializeDriver("s-1", 2, 19200) {
		t.Fatal("InitializeDriver should succeed")
	}
	if !b.SetDataFormat("s-1", 7, 2, domain.ParityEven) {
		t.Fatal("SetDataFormat should accept 7E2")
	}
	info, _ := b.SessionInfo("s-1")
	if info.ComPort != 2 || info.BaudRate != 19200 || info.DataBits != 7 || info.StopBits != 2 || info.Parity != domain.ParityEven {
		t.Fatalf("configuration not applied: %+v", info)
	}

	if b.SetBaudRate("s-1", 12345) {
		t.Fatal("unsupported baud rate should be rejected")
	}
	if b.InitializeDriver("s-1", 4, 12345) {
		t.Fatal("unsupported baud rate should reject the whole call")
	}
	info, _ = b.SessionInfo("s-1")
	if info.ComPort != 2 || info.BaudRate != 19200 {
		t.Fatalf("rejected call must not mutate the session: %+v", info)
	}
	if b.SetDataFormat("s-1", 9, 1, domain.ParityNone) {
		t.Fatal("9 data bits should be rejected")
	}
	if b.SetDataFormat("s-1", 8, 1, "weird") {
		t.Fatal("unknown parity should be rejected")
	}

	if !b.Deinitialize("s-1") {
		t.Fatal("Deinitialize should succeed")
	}
	if b.IsSessionActive("s-1") {
		t.Fatal("deinitialized session should be inactive")
	}
}

func TestFlowControlSignals(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	if !b.SetDtr("s-1", false) || !b.SetRts("s-1", false) {
		t.Fatal("signal writes should succeed")
	}
	info, _ := b.SessionInfo("s-1")
	if info.DTR || info.RTS {
		t.Fatalf("DTR/RTS should be deasserted: %+v", info)
	}
	if !b.GetCts("s-1") || !b.GetDsr("s-1") || !b.GetDcd("s-1") {
		t.Fatal("input signals should stay asserted")
	}
	if b.GetRi("s-1") {
		t.Fatal("RI should stay deasserted")
	}
}

func TestUnknownSessionOperations(t *testing.T) {
	t.Parallel()
	b := testBridge(t)

	if b.InitializeDriver("ghost", 1, 38400) {
		t.Fatal("InitializeDriver on unknown session should fail")
	}
	if n := b.Send("ghost", []byte("x")); n != 0 {
		t.Fatalf("Send on unknown session accepted %d", n)
	}
	if data := b.Receive("ghost", 10); data != nil {
		t.Fatalf("Receive on unknown session = %q", data)
	}
	if b.SetDtr("ghost", true) || b.GetCts("ghost") || b.GetDcd("ghost") {
		t.Fatal("signal ops on unknown session should fail")
	}
	if b.EnableInterrupts("ghost") || b.SimulateInterrupt("ghost", 14) {
		t.Fatal("interrupt ops on unknown session should fail")
	}
	if _, _, ok := b.GetSessionStatistics("ghost"); ok {
		t.Fatal("statistics on unknown session should fail")
	}
	if _, ok := b.GetSessionUpTime("ghost"); ok {
		t.Fatal("uptime on unknown session should fail")
	}
	if b.IsSessionActive("ghost") {
		t.Fatal("unknown session should not be active")
	}
}

func TestInterruptNotification(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	var fired []int
	if !b.SetInterruptHandler("s-1", func(vector int) { fired = append(fired, vector) }) {
		t.Fatal("handler registration should succeed")
	}
	if b.SimulateInterrupt("s-1", 14) {
		t.Fatal("interrupt should not fire before EnableInterrupts")
	}
	if !b.EnableInterrupts("s-1") {
		t.Fatal("EnableInterrupts should succeed")
	}
	if !b.SimulateInterrupt("s-1", 14) {
		t.Fatal("interrupt should fire when enabled")
	}
	if !b.DisableInterrupts("s-1") {
		t.Fatal("DisableInterrupts should succeed")
	}
	if b.SimulateInterrupt("s-1", 11) {
		t.Fatal("interrupt should not fire after DisableInterrupts")
	}
	if len(fired) != 1 || fired[0] != 14 {
		t.Fatalf("fired = %v, want [14]", fired)
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	if !b.Close("s-1") {
		t.Fatal("first close should succeed")
	}
	if b.Close("s-1") {
		t.Fatal("second close should report failure")
	}
	if b.IsSessionActive("s-1") {
		t.Fatal("closed session should not be active")
	}
	// A new session can reuse the id after close.
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}
}

func TestActivityCallback(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}

	var got []string
	b.SetActivityFunc(func(id string) { got = append(got, id) })
	b.Send("s-1", []byte("hi"))
	b.pushInput("s-1", []byte("yo"))
	b.Receive("s-1", 2)
	if len(got) != 2 {
		t.Fatalf("activity callback fired %d times, want 2", len(got))
	}
}

func TestUpTime(t *testing.T) {
	t.Parallel()
	b := testBridge(t)
	base := time.Now()
	b.now = func() time.Time { return base }
	if _, err := b.Open("s-1", nil); err != nil {
		t.Fatal(err)
	}
	b.now = func() time.Time { return base.Add(90 * time.Second) }

	up, ok := b.GetSessionUpTime("s-1")
	if !ok {
		t.Fatal("uptime should exist")
	}
	if up != 90*time.Second {
		t.Fatalf("uptime = %v, want 90s", up)
	}
}
