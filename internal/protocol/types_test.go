package protocol

import (
	"errors"
	"testing"
)

func TestDeviceNumber(t *testing.T) {
	tests := []struct {
		id      string
		want    uint16
		wantErr bool
	}{
		{"light_001", 1, false},
		{"computer_004", 4, false},
		{"exhibit_1_2", 12, false},
		{"65535", 65535, false},
		{"p0", 0, false},
		{"lobby", 0, true},
		{"", 0, true},
		{"light_70000", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := DeviceNumber(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDeviceID) {
					t.Errorf("DeviceNumber(%q) error = %v, want ErrInvalidDeviceID", tt.id, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeviceNumber(%q) error = %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("DeviceNumber(%q) = %d, want %d", tt.id, got, tt.want)
			}
		})
	}
}

func TestCodesRoundTrip(t *testing.T) {
	for _, dt := range AllDeviceTypes() {
		code, err := dt.Code()
		if err != nil {
			t.Fatalf("%q.Code() error = %v", dt, err)
		}
		back, err := DeviceTypeFromCode(code)
		if err != nil || back != dt {
			t.Errorf("DeviceTypeFromCode(0x%02X) = %q, %v; want %q", code, back, err, dt)
		}
	}

	actions := []Action{ActionTurnOn, ActionTurnOff, ActionToggle, ActionAllOn, ActionAllOff, ActionStatusQuery}
	for i, a := range actions {
		code, err := a.Code()
		if err != nil {
			t.Fatalf("%q.Code() error = %v", a, err)
		}
		if code != byte(i+1) {
			t.Errorf("%q.Code() = 0x%02X, want 0x%02X", a, code, i+1)
		}
		back, err := ActionFromCode(code)
		if err != nil || back != a {
			t.Errorf("ActionFromCode(0x%02X) = %q, %v; want %q", code, back, err, a)
		}
	}

	if _, err := DeviceTypeFromCode(0x7F); !errors.Is(err, ErrUnknownDeviceType) {
		t.Errorf("DeviceTypeFromCode(0x7F) error = %v", err)
	}
}

func TestNewCommandCopiesParams(t *testing.T) {
	params := map[string]any{"brightness": 10}
	cmd := NewCommand("light_001", DeviceTypeLighting, ActionTurnOn, params)
	params["brightness"] = 90

	if cmd.Params["brightness"] != 10 {
		t.Errorf("Params mutated through caller map: %v", cmd.Params)
	}
	if cmd.ID == "" || cmd.CreatedAt.IsZero() {
		t.Errorf("NewCommand() missing id or timestamp: %+v", cmd)
	}

	other := NewCommand("light_001", DeviceTypeLighting, ActionTurnOn, nil)
	if other.ID == cmd.ID {
		t.Error("NewCommand() reused an id")
	}
}

func TestClampBrightness(t *testing.T) {
	for in, want := range map[int]int{-10: 0, 0: 0, 55: 55, 100: 100, 101: 100} {
		if got := ClampBrightness(in); got != want {
			t.Errorf("ClampBrightness(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestActionIsBatch(t *testing.T) {
	if !ActionAllOn.IsBatch() || !ActionAllOff.IsBatch() {
		t.Error("AllOn/AllOff should be batch actions")
	}
	if ActionToggle.IsBatch() || ActionTurnOn.IsBatch() {
		t.Error("single-device actions reported as batch")
	}
}
