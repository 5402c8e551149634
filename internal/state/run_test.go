package state

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRunCRUD(t *testing.T) {
	db := openTestDB(t)

	started := time.Now().UTC().Truncate(time.Second)
	run := &Run{
		ID:        "run-1",
		RootTask:  "build the report",
		Status:    RunActive,
		StartedAt: started,
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.RootTask != "build the report" || got.Status != RunActive {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("expected nil completed_at, got %v", got.CompletedAt)
	}

	completed := started.Add(5 * time.Minute)
	got.Status = RunCompleted
	got.CompletedAt = &completed
	got.LastCheckpoint = "run-1_20260830_120000_abcd1234"
	if err := db.UpdateRun(got); err != nil {
		t.Fatalf("update run: %v", err)
	}

	updated, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("get updated run: %v", err)
	}
	if updated.Status != RunCompleted {
		t.Errorf("expected completed status, got %s", updated.Status)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(completed) {
		t.Errorf("expected completed_at %v, got %v", completed, updated.CompletedAt)
	}
	if updated.LastCheckpoint != "run-1_20260830_120000_abcd1234" {
		t.Errorf("unexpected last checkpoint: %q", updated.LastCheckpoint)
	}

	if err := db.DeleteRun("run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	gone, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("get deleted run: %v", err)
	}
	if gone != nil {
		t.Errorf("expected nil after delete, got %+v", gone)
	}
}

func TestGetRunMissing(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetRun("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing run, got %+v", got)
	}
}

func TestListRunsFilterAndOrder(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().UTC().Truncate(time.Second)
	runs := []*Run{
		{ID: "a", RootTask: "one", Status: RunCompleted, StartedAt: base.Add(-2 * time.Hour)},
		{ID: "b", RootTask: "two", Status: RunActive, StartedAt: base.Add(-1 * time.Hour)},
		{ID: "c", RootTask: "three", Status: RunActive, StartedAt: base},
	}
	for _, r := range runs {
		if err := db.CreateRun(r); err != nil {
			t.Fatalf("create run %s: %v", r.ID, err)
		}
	}

	all, err := db.ListRuns(nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("expected newest first [c b a], got %+v", all)
	}

	status := RunActive
	active, err := db.ListRuns(&status)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active runs, got %d", len(active))
	}

	current, err := db.GetActiveRun()
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if current == nil || current.ID != "c" {
		t.Errorf("expected most recent active run c, got %+v", current)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := openTestDB(t)

	old := &Run{ID: "old", RootTask: "x", Status: RunCompleted, StartedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Run{ID: "fresh", RootTask: "y", Status: RunActive, StartedAt: time.Now()}
	if err := db.CreateRun(old); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateRun(fresh); err != nil {
		t.Fatal(err)
	}

	n, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged run, got %d", n)
	}
	if got, _ := db.GetRun("fresh"); got == nil {
		t.Error("fresh run should survive the purge")
	}
}
