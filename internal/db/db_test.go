package db

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// Test Fixtures and Helpers

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewTestDB creates a migrated SQLite database in a temporary directory
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "prewarm.db") + "?_busy_timeout=5000"
	db, err := Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := db.Migrate(discardLogger()); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MakeTestRequest creates a settled request with default test values
func MakeTestRequest(id, triggerID string, offset time.Duration) *PrefetchRequest {
	scheduled := baseTime.Add(offset)
	started := scheduled.Add(150 * time.Millisecond)
	settled := started.Add(40 * time.Millisecond)
	return &PrefetchRequest{
		ID:          id,
		TriggerID:   triggerID,
		Status:      "settled",
		DelayMs:     150,
		ScheduledAt: &scheduled,
		StartedAt:   &started,
		SettledAt:   &settled,
		Outcome:     "success",
		RecordedAt:  settled,
	}
}

// Connection Tests

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		wantErr bool
	}{
		{
			name:    "sqlite in-memory",
			driver:  "sqlite3",
			dsn:     ":memory:",
			wantErr: false,
		},
		{
			name:    "invalid driver",
			driver:  "invalid",
			dsn:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(tt.driver, tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer db.Close()

			if db.Driver() != tt.driver {
				t.Errorf("driver = %q, want %q", db.Driver(), tt.driver)
			}
		})
	}
}

func TestOpenWithConfig(t *testing.T) {
	config := DefaultConfig()
	config.DSN = filepath.Join(t.TempDir(), "pool.db")
	config.MaxOpenConns = 10

	db, err := OpenWithConfig(config)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	stats := db.Stats()
	if stats.MaxOpenConnections != 10 {
		t.Errorf("MaxOpenConnections = %d, want 10", stats.MaxOpenConnections)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	config := DefaultConfig()
	config.Driver = "postgres"
	if err := config.Validate(); err == nil {
		t.Error("expected error for unsupported driver")
	}

	config = DefaultConfig()
	config.DSN = ""
	if err := config.Validate(); err == nil {
		t.Error("expected error for empty DSN")
	}
}

// Migration Tests

func TestMigrate(t *testing.T) {
	db := NewTestDB(t)

	for _, table := range []string{"prefetch_requests", "prefetch_stats", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
	if dirty {
		t.Error("schema should not be dirty")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := NewTestDB(t)

	if err := db.Migrate(discardLogger()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	// Connection must survive migration
	if err := db.Ping(); err != nil {
		t.Errorf("Ping after Migrate failed: %v", err)
	}
}

func TestSchemaVersion_Fresh(t *testing.T) {
	db, err := Open("sqlite3", filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer db.Close()

	version, _, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

// Prefetch Request Tests

func TestCreatePrefetchRequest(t *testing.T) {
	db := NewTestDB(t)

	req := MakeTestRequest("req-1", "modal", 0)
	if err := db.CreatePrefetchRequest(req); err != nil {
		t.Fatalf("CreatePrefetchRequest failed: %v", err)
	}

	retrieved, err := db.GetPrefetchRequest("req-1")
	if err != nil {
		t.Fatalf("GetPrefetchRequest failed: %v", err)
	}

	if retrieved.TriggerID != "modal" {
		t.Errorf("TriggerID = %q, want modal", retrieved.TriggerID)
	}
	if retrieved.DelayMs != 150 {
		t.Errorf("DelayMs = %d, want 150", retrieved.DelayMs)
	}
	if retrieved.StartedAt == nil || !retrieved.StartedAt.Equal(*req.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", retrieved.StartedAt, req.StartedAt)
	}
	if retrieved.CancelledAt != nil {
		t.Errorf("CancelledAt = %v, want nil", retrieved.CancelledAt)
	}
	if retrieved.Error != nil {
		t.Errorf("Error = %v, want nil", *retrieved.Error)
	}
}

func TestCreatePrefetchRequest_Cancelled(t *testing.T) {
	db := NewTestDB(t)

	scheduled := baseTime
	cancelled := baseTime.Add(100 * time.Millisecond)
	msg := "prefetch: cancelled before settle"
	req := &PrefetchRequest{
		ID:          "req-cancel",
		TriggerID:   "modal",
		Status:      "cancelled",
		DelayMs:     300,
		ScheduledAt: &scheduled,
		CancelledAt: &cancelled,
		Outcome:     "none",
		Error:       &msg,
		RecordedAt:  cancelled,
	}
	if err := db.CreatePrefetchRequest(req); err != nil {
		t.Fatalf("CreatePrefetchRequest failed: %v", err)
	}

	retrieved, err := db.GetPrefetchRequest("req-cancel")
	if err != nil {
		t.Fatalf("GetPrefetchRequest failed: %v", err)
	}
	if retrieved.StartedAt != nil {
		t.Errorf("StartedAt = %v, want nil", retrieved.StartedAt)
	}
	if retrieved.Error == nil || *retrieved.Error != msg {
		t.Errorf("Error = %v, want %q", retrieved.Error, msg)
	}
}

func TestCreatePrefetchRequest_Duplicate(t *testing.T) {
	db := NewTestDB(t)

	req := MakeTestRequest("req-1", "modal", 0)
	if err := db.CreatePrefetchRequest(req); err != nil {
		t.Fatalf("first CreatePrefetchRequest failed: %v", err)
	}

	err := db.CreatePrefetchRequest(req)
	if !IsDuplicate(err) {
		t.Errorf("expected IsDuplicate = true, got %v", err)
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetPrefetchRequest_NotFound(t *testing.T) {
	db := NewTestDB(t)

	_, err := db.GetPrefetchRequest("nonexistent")
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound = true, got %v", err)
	}
}

func TestListPrefetchRequests(t *testing.T) {
	db := NewTestDB(t)

	for i := 0; i < 5; i++ {
		trigger := "modal"
		if i%2 == 1 {
			trigger = "chart"
		}
		req := MakeTestRequest(fmt.Sprintf("req-%d", i), trigger, time.Duration(i)*time.Second)
		if err := db.CreatePrefetchRequest(req); err != nil {
			t.Fatalf("CreatePrefetchRequest failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		trigger string
		limit   int
		wantIDs []string
	}{
		{"all", "", 0, []string{"req-4", "req-3", "req-2", "req-1", "req-0"}},
		{"limited", "", 2, []string{"req-4", "req-3"}},
		{"by trigger", "chart", 0, []string{"req-3", "req-1"}},
		{"by trigger limited", "modal", 1, []string{"req-4"}},
		{"unknown trigger", "missing", 10, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := db.ListPrefetchRequests(tt.trigger, tt.limit)
			if err != nil {
				t.Fatalf("ListPrefetchRequests failed: %v", err)
			}

			if len(reqs) != len(tt.wantIDs) {
				t.Fatalf("got %d requests, want %d", len(reqs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if reqs[i].ID != id {
					t.Errorf("reqs[%d].ID = %q, want %q", i, reqs[i].ID, id)
				}
			}
		})
	}
}

func TestCreatePrefetchRequests_Batch(t *testing.T) {
	db := NewTestDB(t)

	batch := []*PrefetchRequest{
		MakeTestRequest("req-a", "modal", 0),
		MakeTestRequest("req-b", "modal", time.Second),
	}
	if err := db.CreatePrefetchRequests(batch); err != nil {
		t.Fatalf("CreatePrefetchRequests failed: %v", err)
	}

	counts, err := db.CountPrefetchRequests("modal")
	if err != nil {
		t.Fatalf("CountPrefetchRequests failed: %v", err)
	}
	if counts["success"] != 2 {
		t.Errorf("success count = %d, want 2", counts["success"])
	}
}

func TestCreatePrefetchRequests_BatchRollsBack(t *testing.T) {
	db := NewTestDB(t)

	batch := []*PrefetchRequest{
		MakeTestRequest("req-a", "modal", 0),
		MakeTestRequest("req-a", "modal", time.Second),
	}
	if err := db.CreatePrefetchRequests(batch); err == nil {
		t.Fatal("expected duplicate error")
	}

	reqs, err := db.ListPrefetchRequests("", 0)
	if err != nil {
		t.Fatalf("ListPrefetchRequests failed: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("got %d requests after rollback, want 0", len(reqs))
	}
}

// Transaction Tests

func TestWithTransaction_Rollback(t *testing.T) {
	db := NewTestDB(t)

	testErr := errors.New("test error")

	err := db.WithTransaction(func(tx *Tx) error {
		_, err := tx.Exec(`INSERT INTO prefetch_stats (stats_period_id, start_time, end_time) VALUES (?, ?, ?)`,
			"period-x", baseTime, baseTime.Add(time.Minute))
		if err != nil {
			return err
		}

		// Trigger rollback by returning error
		return testErr
	})

	if err != testErr {
		t.Fatalf("expected testErr, got %v", err)
	}

	stats, err := db.GetPrefetchStats(baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetPrefetchStats failed: %v", err)
	}
	if len(stats) != 0 {
		t.Error("stats should not exist after rollback")
	}
}

// Statistics Tests

func TestGetPrefetchStats(t *testing.T) {
	db := NewTestDB(t)

	avg := 42.5
	maxLoad := 90
	stats1 := &PrefetchStats{
		StatsPeriodID: "period-1",
		StartTime:     baseTime.Add(-2 * time.Hour),
		EndTime:       baseTime.Add(-1 * time.Hour),
		Scheduled:     10,
		Succeeded:     6,
		Cancelled:     4,
		AvgLoadMs:     &avg,
		MaxLoadMs:     &maxLoad,
	}
	stats2 := &PrefetchStats{
		StatsPeriodID: "period-2",
		StartTime:     baseTime.Add(-1 * time.Hour),
		EndTime:       baseTime,
		Scheduled:     3,
	}

	if err := db.CreatePrefetchStats(stats1); err != nil {
		t.Fatalf("CreatePrefetchStats failed: %v", err)
	}
	if err := db.CreatePrefetchStats(stats2); err != nil {
		t.Fatalf("CreatePrefetchStats failed: %v", err)
	}

	retrieved, err := db.GetPrefetchStats(baseTime.Add(-90*time.Minute), baseTime)
	if err != nil {
		t.Fatalf("GetPrefetchStats failed: %v", err)
	}

	// Should get both stats that overlap the time range
	if len(retrieved) != 2 {
		t.Fatalf("got %d stats, want 2", len(retrieved))
	}
	if retrieved[0].StatsPeriodID != "period-1" {
		t.Errorf("first period = %q, want period-1", retrieved[0].StatsPeriodID)
	}
	if retrieved[0].AvgLoadMs == nil || *retrieved[0].AvgLoadMs != avg {
		t.Errorf("AvgLoadMs = %v, want %v", retrieved[0].AvgLoadMs, avg)
	}
	if retrieved[1].AvgLoadMs != nil {
		t.Errorf("AvgLoadMs = %v, want nil", *retrieved[1].AvgLoadMs)
	}
}
