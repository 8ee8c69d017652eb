package link

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// mockController accepts TCP connections the way a controller box would.
type mockController struct {
	ln    net.Listener
	conns chan net.Conn
}

func newMockController(t *testing.T) *mockController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mc := &mockController{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mc.conns <- c
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-mc.conns:
				c.Close()
			default:
				return
			}
		}
	})
	return mc
}

func (mc *mockController) address() string {
	return "tcp://" + mc.ln.Addr().String()
}

func (mc *mockController) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-mc.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func testConfig(addr string) Config {
	return Config{
		Address:           addr,
		ConnectTimeout:    time.Second,
		WriteTimeout:      time.Second,
		HeartbeatInterval: -1,
		ReconnectDelay:    10 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, <-chan events.Event) {
	t.Helper()
	bus := events.NewBus(0)
	ch, _ := bus.Channel(256)
	m, err := New(cfg, bus)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		m.Close()
		bus.Close()
	})
	return m, ch
}

// waitFor returns the next event of type typ, skipping others.
func waitFor(t *testing.T, ch <-chan events.Event, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return events.Event{}
		}
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    Endpoint
		wantErr bool
	}{
		{"tcp url", "tcp://192.168.200.31:6001", Endpoint{Network: NetworkTCP, Address: "192.168.200.31:6001"}, false},
		{"bare host port", "10.0.0.5:6001", Endpoint{Network: NetworkTCP, Address: "10.0.0.5:6001"}, false},
		{"serial with baud", "serial:///dev/ttyUSB0?baud=19200", Endpoint{Network: NetworkSerial, Address: "/dev/ttyUSB0", BaudRate: 19200}, false},
		{"serial default baud", "serial:///dev/ttyS1", Endpoint{Network: NetworkSerial, Address: "/dev/ttyS1", BaudRate: 9600}, false},
		{"empty", "", Endpoint{}, true},
		{"tcp without port", "tcp://controller", Endpoint{}, true},
		{"bare host without port", "controller", Endpoint{}, true},
		{"serial without path", "serial://", Endpoint{}, true},
		{"bad baud", "serial:///dev/ttyS1?baud=fast", Endpoint{}, true},
		{"unsupported scheme", "udp://10.0.0.5:6001", Endpoint{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.addr)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.addr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.addr, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.Address != "tcp://192.168.200.31:6001" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.MaxReconnectAttempts)
	}
	if string(cfg.HeartbeatPayload) != "PING" {
		t.Errorf("HeartbeatPayload = %q, want PING", cfg.HeartbeatPayload)
	}
}

func TestConnectSendReceive(t *testing.T) {
	mc := newMockController(t)
	m, ch := newTestManager(t, testConfig("tcp://127.0.0.1:1"))

	host, portStr, _ := net.SplitHostPort(mc.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	if err := m.Connect(host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	e := waitFor(t, ch, events.LinkConnected)
	if sc, ok := e.Data.(StateChange); !ok || sc.State != StateConnected {
		t.Errorf("connected payload = %+v", e.Data)
	}
	server := mc.accept(t)

	frame := []byte{0xAA, 0x00, 0x01, 0x01, 0x64, 0x55, 0x78}
	if err := m.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := make([]byte, len(frame))
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(got) != string(frame) {
		t.Errorf("server got %X, want %X", got, frame)
	}

	if _, err := server.Write([]byte("OK")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	e = waitFor(t, ch, events.DataReceived)
	if data, _ := e.Data.([]byte); string(data) != "OK" {
		t.Errorf("data received = %q, want OK", data)
	}

	stats := m.Stats()
	if stats.FramesTx != 1 || stats.BytesTx != uint64(len(frame)) {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BytesRx != 2 {
		t.Errorf("BytesRx = %d, want 2", stats.BytesRx)
	}
}

func TestSendHex(t *testing.T) {
	mc := newMockController(t)
	m, ch := newTestManager(t, testConfig("tcp://127.0.0.1:1"))

	host, portStr, _ := net.SplitHostPort(mc.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	if err := m.Connect(host, port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	server := mc.accept(t)

	if err := m.SendHex(context.Background(), "XYZ"); !errors.Is(err, protocol.ErrInvalidHex) {
		t.Errorf("SendHex(XYZ) error = %v, want ErrInvalidHex", err)
	}
	if err := m.SendHex(context.Background(), "aa 00 01 01 64 55 78"); err != nil {
		t.Fatalf("SendHex() error = %v", err)
	}

	want := []byte{0xAA, 0x00, 0x01, 0x01, 0x64, 0x55, 0x78}
	got := make([]byte, len(want))
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("server got %X, want %X", got, want)
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	m, _ := newTestManager(t, testConfig("tcp://127.0.0.1:1"))

	err := m.Send(context.Background(), []byte("PING"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if !IsLinkError(err) {
		t.Error("IsLinkError() = false for ErrNotConnected")
	}
	if _, err := m.Enqueue(nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Enqueue(nil) error = %v, want ErrEmptyPayload", err)
	}
}

func TestConnectIsNoopWhenConnected(t *testing.T) {
	mc := newMockController(t)
	m, ch := newTestManager(t, testConfig(mc.address()))

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	mc.accept(t)

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := m.Stats().DialsTotal; got != 1 {
		t.Errorf("DialsTotal = %d, want 1", got)
	}
	select {
	case c := <-mc.conns:
		c.Close()
		t.Error("second connection opened")
	default:
	}
}

func TestHeartbeat(t *testing.T) {
	mc := newMockController(t)
	cfg := testConfig(mc.address())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	m, ch := newTestManager(t, cfg)

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	server := mc.accept(t)

	got := make([]byte, 4)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(got) != "PING" {
		t.Errorf("heartbeat = %q, want PING", got)
	}
	if m.Stats().HeartbeatsTx == 0 {
		t.Error("HeartbeatsTx = 0")
	}
}

func TestDisconnectCancelsEverything(t *testing.T) {
	mc := newMockController(t)
	m, ch := newTestManager(t, testConfig(mc.address()))

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	server := mc.accept(t)

	m.Disconnect()

	e := waitFor(t, ch, events.LinkDisconnected)
	if e.Err != nil {
		t.Errorf("manual disconnect carried error %v", e.Err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", m.State())
	}

	// The server side sees EOF once the socket is closed.
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Read(make([]byte, 1)); err == nil {
		t.Error("server read succeeded after Disconnect")
	}

	time.Sleep(100 * time.Millisecond)
	if got := m.Stats().DialsTotal; got != 1 {
		t.Errorf("DialsTotal = %d after Disconnect, want 1 (no reconnect)", got)
	}
	for {
		select {
		case e := <-ch:
			if e.Type == events.DataReceived || e.Type == events.LinkConnected {
				t.Errorf("event %s after Disconnect", e.Type)
			}
			continue
		default:
		}
		break
	}
}

func TestReconnectAfterRemoteClose(t *testing.T) {
	mc := newMockController(t)
	m, ch := newTestManager(t, testConfig(mc.address()))

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	mc.accept(t).Close()

	e := waitFor(t, ch, events.LinkDisconnected)
	if !errors.Is(e.Err, ErrLinkLost) {
		t.Errorf("disconnect error = %v, want ErrLinkLost", e.Err)
	}

	waitFor(t, ch, events.LinkConnected)
	mc.accept(t)

	stats := m.Stats()
	if stats.ReconnectsTotal != 1 {
		t.Errorf("ReconnectsTotal = %d, want 1", stats.ReconnectsTotal)
	}
	if m.Status().Attempt != 0 {
		t.Errorf("Attempt = %d after successful reconnect, want 0", m.Status().Attempt)
	}
}

// pipeDialer hands out net.Pipe ends while allowed and fails otherwise.
type pipeDialer struct {
	calls atomic.Int32
	allow atomic.Bool
	peers chan net.Conn
}

func newPipeDialer() *pipeDialer {
	d := &pipeDialer{peers: make(chan net.Conn, 8)}
	d.allow.Store(true)
	return d
}

func (d *pipeDialer) dial(ctx context.Context, _ Endpoint) (io.ReadWriteCloser, error) {
	d.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.allow.Load() {
		return nil, errors.New("controller unreachable")
	}
	local, remote := net.Pipe()
	d.peers <- remote
	return local, nil
}

func TestReconnectStopsAtMaxAttempts(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig("tcp://127.0.0.1:6001")
	cfg.Dial = d.dial
	m, ch := newTestManager(t, cfg)

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)

	d.allow.Store(false)
	(<-d.peers).Close()

	// First the loss, then the terminal event once five attempts failed.
	lost := waitFor(t, ch, events.LinkDisconnected)
	if !errors.Is(lost.Err, ErrLinkLost) {
		t.Fatalf("first disconnect error = %v, want ErrLinkLost", lost.Err)
	}
	terminal := waitFor(t, ch, events.LinkDisconnected)
	if !errors.Is(terminal.Err, ErrMaxReconnectAttempts) {
		t.Fatalf("terminal disconnect error = %v, want ErrMaxReconnectAttempts", terminal.Err)
	}

	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case e := <-ch:
			if e.Type == events.LinkDisconnected && errors.Is(e.Err, ErrMaxReconnectAttempts) {
				t.Error("terminal event published more than once")
			}
			continue
		default:
		}
		break
	}

	if got := d.calls.Load(); got != 6 {
		t.Errorf("dial calls = %d, want 6 (initial + 5 reconnects)", got)
	}
	if got := m.Stats().ReconnectAttempts; got != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", m.State())
	}
	if !errors.Is(m.LastError(), ErrMaxReconnectAttempts) {
		t.Errorf("LastError() = %v", m.LastError())
	}

	// A manual Connect restarts the cycle.
	d.allow.Store(true)
	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	if got := d.calls.Load(); got != 7 {
		t.Errorf("dial calls = %d after manual Connect, want 7", got)
	}
	if m.Status().Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", m.Status().Attempt)
	}
}

func TestWriteFailureIsLinkError(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig("tcp://127.0.0.1:6001")
	cfg.Dial = d.dial
	cfg.ReconnectDelay = time.Hour
	m, ch := newTestManager(t, cfg)

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	(<-d.peers).Close()

	err := m.Send(context.Background(), []byte{0x01})
	if err == nil {
		// The loss may not have been observed before the enqueue; a pipe
		// write to a closed peer still fails.
		t.Fatal("Send() succeeded on a closed pipe")
	}
	if !IsLinkError(err) {
		t.Errorf("Send() error = %v, want a link error", err)
	}

	waitFor(t, ch, events.LinkDisconnected)
	if s := m.State(); s != StateReconnecting {
		t.Errorf("State() = %s, want reconnecting", s)
	}
}

func TestForegroundSkipsReconnectDelay(t *testing.T) {
	d := newPipeDialer()
	d.allow.Store(false)
	cfg := testConfig("tcp://127.0.0.1:6001")
	cfg.Dial = d.dial
	cfg.ReconnectDelay = time.Hour
	m, ch := newTestManager(t, cfg)

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	for m.State() != StateReconnecting {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("State() = %s, want reconnecting", m.State())
		}
	}

	d.allow.Store(true)
	m.EnterForeground()
	waitFor(t, ch, events.LinkConnected)

	// Idempotent once connected: no further dial.
	m.EnterForeground()
	time.Sleep(20 * time.Millisecond)
	if got := d.calls.Load(); got != 2 {
		t.Errorf("dial calls = %d, want 2", got)
	}
}

func TestBackgroundPausesHeartbeat(t *testing.T) {
	mc := newMockController(t)
	cfg := testConfig(mc.address())
	cfg.HeartbeatInterval = 10 * time.Millisecond
	m, ch := newTestManager(t, cfg)

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	server := mc.accept(t)
	go io.Copy(io.Discard, server)

	m.EnterBackground()
	m.EnterBackground()
	m.mu.Lock()
	running := m.heartbeatStop != nil
	m.mu.Unlock()
	if running {
		t.Fatal("heartbeat still running in background")
	}

	time.Sleep(30 * time.Millisecond)
	before := m.Stats().HeartbeatsTx
	time.Sleep(60 * time.Millisecond)
	if after := m.Stats().HeartbeatsTx; after != before {
		t.Errorf("heartbeats sent in background: %d -> %d", before, after)
	}
	if !m.IsConnected() {
		t.Error("background dropped the link")
	}

	m.EnterForeground()
	m.EnterForeground()
	if got := m.Stats().HeartbeatsTx; got < before+1 {
		t.Errorf("foreground probe not sent: HeartbeatsTx = %d", got)
	}
	m.mu.Lock()
	running = m.heartbeatStop != nil
	m.mu.Unlock()
	if !running {
		t.Error("heartbeat not restarted in foreground")
	}
}

func TestConnectRejectsBadPort(t *testing.T) {
	m, _ := newTestManager(t, testConfig("tcp://127.0.0.1:6001"))
	if err := m.Connect("10.0.0.1", 70000); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Connect() error = %v, want ErrInvalidAddress", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", m.State())
	}
}

func TestCancelledSendIsNeverWritten(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig("tcp://127.0.0.1:6001")
	cfg.Dial = d.dial
	m, ch := newTestManager(t, cfg)

	if err := m.Connect("", 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, ch, events.LinkConnected)
	peer := <-d.peers

	// The peer is not reading yet, so the writer stalls on the first payload.
	first, err := m.Enqueue([]byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = m.Send(ctx, []byte{0xEE})
	if !errors.Is(err, ErrSendCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send() error = %v, want ErrSendCancelled wrapping DeadlineExceeded", err)
	}
	if IsLinkError(err) {
		t.Error("IsLinkError() = true for a cancelled send")
	}

	last, err := m.Enqueue([]byte{0x03})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := peer.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	var got []byte
	buf := make([]byte, 16)
	for len(got) < 3 {
		n, err := peer.Read(buf)
		if err != nil {
			t.Fatalf("peer read after %x: %v", got, err)
		}
		got = append(got, buf[:n]...)
	}
	if want := []byte{0x01, 0x02, 0x03}; string(got) != string(want) {
		t.Errorf("controller received %x, want %x", got, want)
	}

	for _, res := range []<-chan error{first, last} {
		select {
		case err := <-res:
			if err != nil {
				t.Errorf("write result = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for write result")
		}
	}
	if s := m.State(); s != StateConnected {
		t.Errorf("State() = %s, want connected", s)
	}
}
