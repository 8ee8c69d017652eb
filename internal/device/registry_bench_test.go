package device

import (
	"context"
	"fmt"
	"testing"

	"github.com/nerrad567/exhibit-core/internal/protocol"
)

type discardSender struct{}

func (discardSender) Send(context.Context, []byte) error { return nil }
func (discardSender) IsConnected() bool                  { return true }

// benchRegistry fills a registry with n lights and n exhibits.
func benchRegistry(b *testing.B, n int) *Registry {
	b.Helper()
	var catalog []CatalogEntry
	for i := 1; i <= n; i++ {
		catalog = append(catalog,
			CatalogEntry{ID: fmt.Sprintf("light_%03d", i), Name: fmt.Sprintf("Light %d", i), Type: protocol.DeviceTypeLighting},
			CatalogEntry{ID: fmt.Sprintf("exhibit_%03d", i), Name: fmt.Sprintf("Exhibit %d", i), Type: protocol.DeviceTypeExhibitPower},
		)
	}
	reg, err := NewRegistry(Config{Catalog: catalog}, discardSender{}, nil)
	if err != nil {
		b.Fatalf("NewRegistry() error = %v", err)
	}
	b.Cleanup(reg.Stop)
	return reg
}

func BenchmarkGetDevice(b *testing.B) {
	reg := benchRegistry(b, 50)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			reg.GetDevice("exhibit_025") //nolint:errcheck // benchmark
		}
	})
}

func BenchmarkSnapshot(b *testing.B) {
	reg := benchRegistry(b, 50)
	for b.Loop() {
		_ = reg.GetAllDevices()
	}
}

func BenchmarkToggleLight(b *testing.B) {
	reg := benchRegistry(b, 50)
	ctx := context.Background()
	for b.Loop() {
		reg.ControlDevice(ctx, "light_025", protocol.ActionToggle, nil) //nolint:errcheck // benchmark
	}
}

func BenchmarkAllExhibitsOff(b *testing.B) {
	reg := benchRegistry(b, 50)
	ctx := context.Background()
	for b.Loop() {
		reg.ControlAllDevices(ctx, protocol.DeviceTypeExhibitPower, protocol.ActionAllOff) //nolint:errcheck // benchmark
	}
}
