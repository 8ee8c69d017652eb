package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/exhibit-core/internal/infrastructure/database"
	"github.com/nerrad567/exhibit-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreateFillsDefaults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	entry := &Entry{Action: "turn_on", TargetType: TargetDevice, TargetID: "light_001", Source: SourceAPI}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("ID not generated")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if entry.Outcome != OutcomeAccepted {
		t.Errorf("Outcome = %q, want %q", entry.Outcome, OutcomeAccepted)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() total = %d, entries = %d", res.Total, len(res.Entries))
	}
	got := res.Entries[0]
	if got.ID != entry.ID || got.TargetID != "light_001" || got.Source != SourceAPI {
		t.Errorf("List() entry = %+v", got)
	}
	if !got.CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, entry.CreatedAt)
	}
}

func TestCreateRejectsIncompleteEntry(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Create(context.Background(), &Entry{Action: "turn_on"}); err == nil {
		t.Fatal("Create() error = nil, want error")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Action: "turn_on", TargetType: TargetDevice, TargetID: "light_001", Source: SourceAPI},
		{Action: "turn_off", TargetType: TargetDevice, TargetID: "light_001", Source: SourceConsole,
			Outcome: OutcomeFailed, Error: "link not connected"},
		{Action: "turn_on", TargetType: TargetDeviceType, TargetID: "projector", Source: SourceAPI,
			Details: map[string]any{"devices": float64(3)}},
		{Action: "raw", TargetType: TargetLink, Source: SourceConsole},
	}
	for i := range seed {
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
	}{
		{"all newest first", Filter{}, []string{seed[3].ID, seed[2].ID, seed[1].ID, seed[0].ID}},
		{"by action", Filter{Action: "turn_on"}, []string{seed[2].ID, seed[0].ID}},
		{"by target", Filter{TargetType: TargetDevice, TargetID: "light_001"}, []string{seed[1].ID, seed[0].ID}},
		{"by source", Filter{Source: SourceConsole}, []string{seed[3].ID, seed[1].ID}},
		{"paged", Filter{Limit: 2, Offset: 1}, []string{seed[2].ID, seed[1].ID}},
		{"no match", Filter{Action: "dance"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(res.Entries) != len(tt.wantIDs) {
				t.Fatalf("entries = %d, want %d", len(res.Entries), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if res.Entries[i].ID != id {
					t.Errorf("entries[%d].ID = %s, want %s", i, res.Entries[i].ID, id)
				}
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: "turn_off"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := res.Entries[0]; got.Outcome != OutcomeFailed || got.Error != "link not connected" {
		t.Errorf("failed entry = %+v", got)
	}

	res, err = repo.List(ctx, Filter{TargetType: TargetDeviceType})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := res.Entries[0].Details["devices"]; got != float64(3) {
		t.Errorf("details.devices = %v, want 3", got)
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := newTestRepo(t)

	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{10, 10},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		res, err := repo.List(context.Background(), Filter{Limit: tt.in, Offset: -1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Limit != tt.want {
			t.Errorf("Limit(%d) = %d, want %d", tt.in, res.Limit, tt.want)
		}
		if res.Offset != 0 {
			t.Errorf("Offset = %d, want 0", res.Offset)
		}
		if res.Entries == nil {
			t.Error("Entries is nil, want empty slice")
		}
	}
}

func TestListCancelledContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.List(ctx, Filter{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("List() error = %v, want context.Canceled", err)
	}
}
