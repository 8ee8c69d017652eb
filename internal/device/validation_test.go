package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// wantErrIs fails unless err matches want, where a nil want means success.
func wantErrIs(t *testing.T, err, want error) {
	t.Helper()
	if want == nil && err != nil {
		t.Errorf("error = %v, want nil", err)
	}
	if want != nil && !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestValidateName(t *testing.T) {
	tests := map[string]error{
		"Main Hall Lighting":                 nil,
		"Projector 2":                        nil,
		"Wave Tank (Left) Pump":              nil,
		"":                                   ErrInvalidName,
		"   ":                                ErrInvalidName,
		strings.Repeat("a", maxNameLength):   nil,
		strings.Repeat("a", maxNameLength+1): ErrInvalidName,
	}
	for input, want := range tests {
		wantErrIs(t, ValidateName(input), want)
	}
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "plain", input: "A1B2", want: []byte{0xA1, 0xB2}},
		{name: "lower case", input: "a1b2", want: []byte{0xA1, 0xB2}},
		{name: "spaced with prefix", input: "0xA1 0xB2", want: []byte{0xA1, 0xB2}},
		{name: "empty", input: "", wantErr: true},
		{name: "odd length", input: "ABC", wantErr: true},
		{name: "not hex", input: "ZZ", wantErr: true},
		{name: "too long", input: strings.Repeat("00", maxPayloadBytes+1), wantErr: true},
		{name: "max length", input: strings.Repeat("00", maxPayloadBytes), want: make([]byte, maxPayloadBytes)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePayload(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Errorf("ValidatePayload(%q) error = %v, want ErrInvalidPayload", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidatePayload(%q) error = %v", tt.input, err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("ValidatePayload(%q) = %X, want %X", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateCatalogEntry(t *testing.T) {
	light := protocol.DeviceTypeLighting
	tests := []struct {
		entry CatalogEntry
		want  error
	}{
		{CatalogEntry{ID: "projector_003", Name: "Theatre Projector", Type: protocol.DeviceTypeProjector}, nil},
		{CatalogEntry{Name: "Nameless", Type: light}, ErrInvalidDevice},
		{CatalogEntry{ID: "lobby", Name: "Lobby", Type: light}, ErrInvalidDevice},
		{CatalogEntry{ID: "light_70000", Name: "Huge", Type: light}, ErrInvalidDevice},
		{CatalogEntry{ID: "light_001", Type: light}, ErrInvalidName},
		{CatalogEntry{ID: "light_001", Name: "Main Hall", Type: "fog_machine"}, ErrInvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.entry.ID, func(t *testing.T) {
			wantErrIs(t, ValidateCatalogEntry(tt.entry), tt.want)
		})
	}
}

func TestValidateCustomDevice(t *testing.T) {
	valid := CustomDevice{Name: "Rain Curtain", OnHex: "A1B2", OffHex: "A1B3", Icon: "rain", Group: "water"}

	tests := []struct {
		name    string
		mutate  func(c *CustomDevice)
		wantErr error
	}{
		{name: "valid", mutate: func(*CustomDevice) {}},
		{name: "no name", mutate: func(c *CustomDevice) { c.Name = " " }, wantErr: ErrInvalidName},
		{name: "bad on payload", mutate: func(c *CustomDevice) { c.OnHex = "XYZ" }, wantErr: ErrInvalidPayload},
		{name: "missing off payload", mutate: func(c *CustomDevice) { c.OffHex = "" }, wantErr: ErrInvalidPayload},
		{name: "long icon", mutate: func(c *CustomDevice) { c.Icon = strings.Repeat("i", maxIconLength+1) }, wantErr: ErrInvalidDevice},
		{name: "long group", mutate: func(c *CustomDevice) { c.Group = strings.Repeat("g", maxGroupLength+1) }, wantErr: ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			wantErrIs(t, ValidateCustomDevice(c), tt.wantErr)
		})
	}
}

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := GenerateID()
		if len(id) != 36 {
			t.Fatalf("GenerateID() = %q, want UUID", id)
		}
		if seen[id] {
			t.Fatalf("GenerateID() repeated %q", id)
		}
		seen[id] = true
	}
}
