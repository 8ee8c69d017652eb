package device

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

func hexEvent(t *testing.T, s string) events.Event {
	t.Helper()
	b, err := protocol.HexToBytes(s)
	if err != nil {
		t.Fatalf("HexToBytes(%q) error = %v", s, err)
	}
	return events.Event{Type: events.DataReceived, Data: b}
}

func TestDisconnectMarksEveryDeviceOffline(t *testing.T) {
	reg, _, bus := newTestRegistry(t, nil)
	ctx := context.Background()

	if _, err := reg.ControlDevice(ctx, "light_001", protocol.ActionTurnOn, nil); err != nil {
		t.Fatalf("ControlDevice() error = %v", err)
	}
	before := reg.GetAllDevices()
	updatesBefore := len(bus.ofType(events.DeviceUpdated))

	reg.HandleEvent(events.Event{Type: events.LinkDisconnected})

	after := reg.GetAllDevices()
	for i, d := range after {
		if d.Status != StatusOffline {
			t.Errorf("%s status = %s, want offline", d.ID, d.Status)
		}
		if d.PowerOn != before[i].PowerOn {
			t.Errorf("%s power changed %v -> %v", d.ID, before[i].PowerOn, d.PowerOn)
		}
	}
	if got := len(bus.ofType(events.DeviceUpdated)) - updatesBefore; got != len(after) {
		t.Errorf("device updated events = %d, want %d", got, len(after))
	}

	// A repeated disconnect (e.g. the terminal reconnect event) changes nothing.
	reg.HandleEvent(events.Event{Type: events.LinkDisconnected})
	if got := len(bus.ofType(events.DeviceUpdated)) - updatesBefore; got != len(after) {
		t.Errorf("repeat disconnect published %d extra events", got-len(after))
	}

	updates := bus.ofType(events.DeviceUpdated)
	if src := updates[len(updates)-1].Data.(Update).Source; src != SourceLink {
		t.Errorf("offline update source = %s, want link", src)
	}
}

func TestConnectIssuesStatusRefresh(t *testing.T) {
	reg, sender, bus := newTestRegistry(t, nil)

	reg.HandleEvent(events.Event{Type: events.LinkConnected})

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.frames()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if frames := sender.frames(); len(frames) != 1 || frames[0] != "CC000000000055D0" {
		t.Errorf("frames = %v, want one status query", frames)
	}
	// Connecting alone marks nothing online.
	if got := len(bus.ofType(events.DeviceUpdated)); got != 0 {
		t.Errorf("device updated events = %d, want 0", got)
	}
}

func TestHexReportUpdatesDevice(t *testing.T) {
	reg, _, bus := newTestRegistry(t, lightsOnly())

	frame := func(body string) string { return body + protocol.HexChecksum(body) }

	reg.HandleEvent(hexEvent(t, frame("AA0002016455")))
	d, _ := reg.GetDevice("light_002")
	if !d.PowerOn || d.Status != StatusOnline {
		t.Errorf("after on report = %s/%v, want online/on", d.Status, d.PowerOn)
	}
	updates := bus.ofType(events.DeviceUpdated)
	if len(updates) != 1 || updates[0].Data.(Update).Source != SourceController {
		t.Fatalf("updates = %+v", updates)
	}

	// An identical report is not an update.
	reg.HandleEvent(hexEvent(t, frame("AA0002016455")))
	if got := len(bus.ofType(events.DeviceUpdated)); got != 1 {
		t.Errorf("device updated events = %d, want 1", got)
	}

	reg.HandleEvent(hexEvent(t, frame("BB000100030555")))
	for _, id := range []string{"light_001", "light_003"} {
		d, _ := reg.GetDevice(id)
		if d.PowerOn || d.Status != StatusOnline {
			t.Errorf("%s after batch off report = %s/%v, want online/off", id, d.Status, d.PowerOn)
		}
	}
}

func TestHexReportUsesLastAddressedDevice(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	frame := func(body string) string { return body + protocol.HexChecksum(body) }

	// Number 2 is shared by four catalogue devices: without context the
	// report cannot be attributed.
	reg.HandleEvent(hexEvent(t, frame("AA0002020055")))
	for _, d := range reg.GetAllDevices() {
		if d.Status != StatusUnknown {
			t.Fatalf("%s changed by an ambiguous report", d.ID)
		}
	}

	if _, err := reg.ControlDevice(context.Background(), "projector_002", protocol.ActionTurnOn, nil); err != nil {
		t.Fatalf("ControlDevice() error = %v", err)
	}
	reg.HandleEvent(hexEvent(t, frame("AA0002020055")))

	d, _ := reg.GetDevice("projector_002")
	if d.PowerOn {
		t.Error("projector_002 still on after controller off report")
	}
	if other, _ := reg.GetDevice("light_002"); other.Status != StatusUnknown {
		t.Errorf("light_002 status = %s, want unknown", other.Status)
	}
}

func TestBinaryResponseUpdatesDevice(t *testing.T) {
	tests := []struct {
		name       string
		resp       protocol.Response
		wantStatus Status
		wantPower  bool
	}{
		{
			name:       "success with power",
			resp:       protocol.Response{DeviceNumber: 1, Status: protocol.StatusSuccess, Data: map[string]any{"power_on": true}},
			wantStatus: StatusOnline,
			wantPower:  true,
		},
		{
			name:       "success without data",
			resp:       protocol.Response{DeviceNumber: 1, Status: protocol.StatusSuccess},
			wantStatus: StatusOnline,
		},
		{
			name:       "device error",
			resp:       protocol.Response{DeviceNumber: 1, Status: protocol.StatusError, Message: "lamp fault"},
			wantStatus: StatusError,
		},
		{
			name:       "device timeout",
			resp:       protocol.Response{DeviceNumber: 1, Status: protocol.StatusTimeout},
			wantStatus: StatusOffline,
		},
		{
			name:       "invalid leaves state",
			resp:       protocol.Response{DeviceNumber: 1, Status: protocol.StatusInvalid},
			wantStatus: StatusUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, _ := newTestRegistry(t, lightsOnly())
			b, err := protocol.EncodeResponse(tt.resp)
			if err != nil {
				t.Fatalf("EncodeResponse() error = %v", err)
			}
			reg.HandleEvent(events.Event{Type: events.DataReceived, Data: b})

			d, _ := reg.GetDevice("light_001")
			if d.Status != tt.wantStatus || d.PowerOn != tt.wantPower {
				t.Errorf("light_001 = %s/%v, want %s/%v", d.Status, d.PowerOn, tt.wantStatus, tt.wantPower)
			}
		})
	}
}

func TestUnrecognisedDataIgnored(t *testing.T) {
	reg, _, bus := newTestRegistry(t, lightsOnly())

	for _, data := range [][]byte{
		[]byte("PONG"),
		{0xAA, 0x00, 0x01, 0x01, 0x64, 0x55, 0x79}, // bad checksum
		{},
	} {
		reg.HandleEvent(events.Event{Type: events.DataReceived, Data: data})
	}
	reg.HandleEvent(events.Event{Type: events.DataReceived, Data: "not bytes"})

	if got := len(bus.ofType(events.DeviceUpdated)); got != 0 {
		t.Errorf("device updated events = %d, want 0", got)
	}
}

func TestReportsReassembledAcrossReads(t *testing.T) {
	reg, _, bus := newTestRegistry(t, lightsOnly())

	report := func(id string) []byte {
		s, err := protocol.EncodeHex(protocol.NewCommand(id, protocol.DeviceTypeLighting, protocol.ActionTurnOn, nil))
		if err != nil {
			t.Fatalf("EncodeHex(%s) error = %v", id, err)
		}
		b, _ := protocol.HexToBytes(s)
		return b
	}
	data := func(b []byte) events.Event { return events.Event{Type: events.DataReceived, Data: b} }

	first := report("light_001")
	reg.HandleEvent(data(first[:4]))
	if d, _ := reg.GetDevice("light_001"); d.Status != StatusUnknown {
		t.Fatalf("half a report changed light_001 to %s", d.Status)
	}
	reg.HandleEvent(data(first[4:]))

	// Two reports in one read.
	reg.HandleEvent(data(append(report("light_002"), report("light_003")...)))

	for _, id := range []string{"light_001", "light_002", "light_003"} {
		d, _ := reg.GetDevice(id)
		if d.Status != StatusOnline || !d.PowerOn {
			t.Errorf("%s = %s/%v, want online/on", id, d.Status, d.PowerOn)
		}
	}
	if got := len(bus.ofType(events.DeviceUpdated)); got != 3 {
		t.Errorf("device updated events = %d, want 3", got)
	}
}

func TestDisconnectDropsPartialReport(t *testing.T) {
	reg, _, _ := newTestRegistry(t, lightsOnly())

	b, _ := protocol.HexToBytes("AA0001016455" + protocol.HexChecksum("AA0001016455"))
	reg.HandleEvent(events.Event{Type: events.DataReceived, Data: b[:3]})
	reg.HandleEvent(events.Event{Type: events.LinkDisconnected})
	reg.HandleEvent(events.Event{Type: events.DataReceived, Data: b[3:]})

	if d, _ := reg.GetDevice("light_001"); d.PowerOn {
		t.Error("report split across a disconnect was applied")
	}
}

func TestDisconnectSurvivesBusyBus(t *testing.T) {
	bus := events.NewBus(1)
	defer bus.Close()

	reg, err := NewRegistry(Config{Catalog: lightsOnly()}, newFakeSender(), bus)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer reg.Stop()
	if _, err := reg.ControlDevice(context.Background(), "light_001", protocol.ActionTurnOn, nil); err != nil {
		t.Fatalf("ControlDevice() error = %v", err)
	}
	defer reg.Attach(bus)()

	for s := bus.Stats(); s.Delivered != s.Published; s = bus.Stats() {
		time.Sleep(time.Millisecond)
	}

	// A slow consumer keeps the one-slot queue full.
	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	bus.Subscribe(events.DataReceived, func(events.Event) {
		if first {
			first = false
			close(started)
		}
		<-release
	})
	bus.Publish(events.DataReceived, []byte("x"), nil)
	<-started
	bus.Publish(events.DataReceived, []byte("y"), nil)
	bus.Publish(events.LinkDisconnected, nil, nil)
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, _ := reg.GetDevice("light_001")
		if d.Status == StatusOffline {
			if !d.PowerOn {
				t.Error("power flag lost going offline")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("light_001 status = %s, want offline", d.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
