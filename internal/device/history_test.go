package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/exhibit-core/internal/infrastructure/database"
	"github.com/nerrad567/exhibit-core/migrations"
)

// setupTestDB opens an in-memory database migrated with the embedded schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

// clockedHistory returns a repository whose clock the test controls.
func clockedHistory(t *testing.T) (*SQLiteStateHistoryRepository, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	repo := NewSQLiteStateHistoryRepository(setupTestDB(t))
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestRecordStateChange(t *testing.T) {
	repo, now := clockedHistory(t)
	ctx := context.Background()

	want := StateSnapshot{Status: StatusOnline, PowerOn: true}
	if err := repo.RecordStateChange(ctx, "light_001", want, SourceLink); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	got, err := repo.GetHistory(ctx, "light_001", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	e := got[0]
	if e.DeviceID != "light_001" || e.Source != SourceLink || e.State != want {
		t.Errorf("entry = %+v", e)
	}
	if !e.CreatedAt.Equal(*now) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, *now)
	}
}

func TestRecordStateChangeDefaults(t *testing.T) {
	repo, _ := clockedHistory(t)
	ctx := context.Background()

	if err := repo.RecordStateChange(ctx, "", StateSnapshot{}, ""); !errors.Is(err, errNoDeviceID) {
		t.Errorf("empty id error = %v", err)
	}
	if _, err := repo.GetHistory(ctx, "", 1); !errors.Is(err, errNoDeviceID) {
		t.Errorf("GetHistory empty id error = %v", err)
	}
	if err := repo.RecordStateChange(ctx, "exhibit_001", StateSnapshot{}, ""); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	got, err := repo.GetHistory(ctx, "exhibit_001", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 1 || got[0].Source != SourceCommand || got[0].State.Status != StatusUnknown {
		t.Errorf("entries = %+v", got)
	}
}

func TestGetHistoryNewestFirst(t *testing.T) {
	repo, now := clockedHistory(t)
	ctx := context.Background()
	start := *now

	steps := []struct {
		id    string
		state StateSnapshot
	}{
		{"light_001", StateSnapshot{Status: StatusOnline}},
		{"light_001", StateSnapshot{Status: StatusOnline, PowerOn: true}},
		{"light_002", StateSnapshot{Status: StatusOnline, PowerOn: true}},
		{"light_001", StateSnapshot{Status: StatusOffline, PowerOn: true}},
	}
	for i, s := range steps {
		*now = start.Add(time.Duration(i) * time.Minute)
		if err := repo.RecordStateChange(ctx, s.id, s.state, SourceController); err != nil {
			t.Fatalf("RecordStateChange(%d) error = %v", i, err)
		}
	}

	got, err := repo.GetHistory(ctx, "light_001", 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].State.Status != StatusOffline || !got[0].CreatedAt.Equal(start.Add(3*time.Minute)) {
		t.Errorf("newest = %+v", got[0])
	}
	if !got[1].State.PowerOn || !got[1].CreatedAt.Equal(start.Add(time.Minute)) {
		t.Errorf("second = %+v", got[1])
	}

	none, err := repo.GetHistory(ctx, "projector_001", 5)
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("unknown device = %v, %v; want empty slice", none, err)
	}
}

func TestClampHistoryLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, DefaultHistoryLimit},
		{0, DefaultHistoryLimit},
		{1, 1},
		{MaxHistoryLimit, MaxHistoryLimit},
		{MaxHistoryLimit + 1, MaxHistoryLimit},
	}
	for _, tt := range tests {
		if got := ClampHistoryLimit(tt.in); got != tt.want {
			t.Errorf("ClampHistoryLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPruneHistory(t *testing.T) {
	repo, now := clockedHistory(t)
	ctx := context.Background()
	today := *now

	*now = today.Add(-40 * 24 * time.Hour)
	if err := repo.RecordStateChange(ctx, "light_001", StateSnapshot{Status: StatusOnline, PowerOn: true}, SourceCommand); err != nil {
		t.Fatal(err)
	}
	*now = today.Add(-12 * time.Hour)
	if err := repo.RecordStateChange(ctx, "light_001", StateSnapshot{Status: StatusOnline}, SourceCommand); err != nil {
		t.Fatal(err)
	}
	*now = today

	deleted, err := repo.PruneHistory(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	left, err := repo.GetHistory(ctx, "light_001", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(left) != 1 || !left[0].CreatedAt.Equal(today.Add(-12*time.Hour)) {
		t.Errorf("remaining = %+v", left)
	}

	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) succeeded")
	}
}

func TestRegistryHistory(t *testing.T) {
	repo := NewSQLiteStateHistoryRepository(setupTestDB(t))
	ctx := context.Background()

	reg, err := NewRegistry(Config{Catalog: lightsOnly(), History: repo}, newFakeSender(), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer reg.Stop()

	for i := range 3 {
		state := StateSnapshot{Status: StatusOnline, PowerOn: i%2 == 0}
		if err := repo.RecordStateChange(ctx, "light_001", state, SourceCommand); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}

	entries, err := reg.History(ctx, "light_001", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("History() = %d entries, want 2", len(entries))
	}

	empty, err := reg.History(ctx, "light_002", 0)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("History(light_002) = %v, %v; want empty slice", empty, err)
	}

	if _, err := reg.History(ctx, "nope", 10); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("History(nope) error = %v, want ErrDeviceNotFound", err)
	}

	noRepo, _, _ := newTestRegistry(t, lightsOnly())
	if got, err := noRepo.History(ctx, "light_001", 10); err != nil || len(got) != 0 {
		t.Errorf("History without repository = %v, %v", got, err)
	}
}
