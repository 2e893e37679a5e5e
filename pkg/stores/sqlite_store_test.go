package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
)

// setupTestStore creates a migrated SQLite store backed by a temp file.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "lifecycle.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// Migrations are idempotent.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty database path")
	}
}

func TestConfigValueRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetValue(ctx, "user", "Desktop/Theme", "Mode",
		catalog.NewTextValue("dark"), catalog.ValueKindString); err != nil {
		t.Fatal(err)
	}

	v, found, err := store.GetValue(ctx, "user", "desktop/theme", "mode")
	if err != nil || !found {
		t.Fatalf("found=%t err=%v", found, err)
	}
	if s, _ := v.AsText(); s != "dark" {
		t.Errorf("expected dark, got %q", s)
	}

	// Upsert replaces the payload.
	if err := store.SetValue(ctx, "user", "desktop/theme", "mode",
		catalog.NewTextValue("light"), catalog.ValueKindString); err != nil {
		t.Fatal(err)
	}
	v, _, _ = store.GetValue(ctx, "user", "desktop/theme", "mode")
	if s, _ := v.AsText(); s != "light" {
		t.Errorf("upsert should replace the value, got %q", s)
	}

	if _, found, _ := store.GetValue(ctx, "machine", "desktop/theme", "mode"); found {
		t.Error("hives are isolated")
	}
}

func TestConfigValueTypedPayloads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetValue(ctx, "machine", "policies/x", "level",
		catalog.NewIntValue(3), catalog.ValueKindDWord); err != nil {
		t.Fatal(err)
	}

	v, found, err := store.GetValue(ctx, "machine", "policies/x", "level")
	if err != nil || !found {
		t.Fatalf("found=%t err=%v", found, err)
	}
	if n, err := v.AsInt64(); err != nil || n != 3 {
		t.Errorf("integer payload should survive the round trip: n=%d err=%v", n, err)
	}
}

func TestSetValueCreatesAncestorKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetValue(ctx, "user", "a/b/c", "v",
		catalog.NewIntValue(1), catalog.ValueKindDWord); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"a", "a/b", "a/b/c"} {
		exists, err := store.KeyExists(ctx, "user", key)
		if err != nil || !exists {
			t.Errorf("ancestor %q should exist, exists=%t err=%v", key, exists, err)
		}
	}
}

func TestDeleteValueIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.SetValue(ctx, "user", "k", "v", catalog.NewIntValue(1), catalog.ValueKindDWord)
	if err := store.DeleteValue(ctx, "user", "k", "v"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := store.GetValue(ctx, "user", "k", "v"); found {
		t.Error("value should be gone")
	}
	if err := store.DeleteValue(ctx, "user", "k", "v"); err != nil {
		t.Errorf("deleting an absent value is not an error: %v", err)
	}
}

func TestDeleteKeyRemovesSubtree(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.SetValue(ctx, "machine", "root/child/leaf", "v", catalog.NewIntValue(1), catalog.ValueKindDWord)
	store.SetValue(ctx, "machine", "root/sibling", "v", catalog.NewIntValue(2), catalog.ValueKindDWord)
	store.SetValue(ctx, "machine", "rooted", "v", catalog.NewIntValue(3), catalog.ValueKindDWord)

	if err := store.DeleteKey(ctx, "machine", "root/child"); err != nil {
		t.Fatal(err)
	}

	if exists, _ := store.KeyExists(ctx, "machine", "root/child/leaf"); exists {
		t.Error("descendant keys are deleted with their parent")
	}
	if _, found, _ := store.GetValue(ctx, "machine", "root/child/leaf", "v"); found {
		t.Error("descendant values are deleted with their parent")
	}
	if exists, _ := store.KeyExists(ctx, "machine", "root/sibling"); !exists {
		t.Error("sibling keys survive")
	}
	if _, found, _ := store.GetValue(ctx, "machine", "rooted", "v"); !found {
		t.Error("a key sharing a name prefix is not a descendant")
	}
}

func TestCreateKeyIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateKey(ctx, "user", "fresh/key"); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateKey(ctx, "user", "fresh/key"); err != nil {
		t.Errorf("creating an existing key is not an error: %v", err)
	}
	if exists, _ := store.KeyExists(ctx, "user", "fresh/key"); !exists {
		t.Error("created key should exist")
	}
}

func sampleRun(id string, started time.Time) *engine.RunRecord {
	return &engine.RunRecord{
		ID:          id,
		Action:      engine.ActionApply,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Results: map[string]engine.TweakResult{
			"dark-mode": {
				Success:           true,
				AppliedOperations: []string{"set user:themes/personalize!apps_use_light_theme = 0"},
				ExecutionTime:     150 * time.Millisecond,
				Messages:          []string{"done"},
			},
			"disable-telemetry": {
				Success:          false,
				ErrorMessage:     "elevated privileges required",
				FailedOperations: []string{"stop service tracker: permission denied"},
				ExecutionTime:    20 * time.Millisecond,
			},
		},
	}
}

func TestRecordRunAndListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordRun(ctx, sampleRun("run-2", started.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// Most recent first.
	if runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Errorf("expected run-2 before run-1, got %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].TweakCount != 2 || runs[0].FailedCount != 1 {
		t.Errorf("expected 2 tweaks with 1 failure, got %+v", runs[0])
	}
	if runs[0].Action != string(engine.ActionApply) {
		t.Errorf("unexpected action %q", runs[0].Action)
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "run-1" {
		t.Errorf("pagination should skip to run-1, got %+v", page)
	}
}

func TestGetRunResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatal(err)
	}

	results, err := store.GetRunResults(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// Ordered by tweak id.
	first := results[0]
	if first.TweakID != "dark-mode" || !first.Success {
		t.Errorf("unexpected first result: %+v", first)
	}
	if first.AppliedOperations != 1 || first.ExecutionMillis != 150 {
		t.Errorf("operation counts and timing should persist: %+v", first)
	}
	if len(first.Messages) != 1 || first.Messages[0] != "done" {
		t.Errorf("messages should round-trip through JSON: %v", first.Messages)
	}

	second := results[1]
	if second.TweakID != "disable-telemetry" || second.Success {
		t.Errorf("unexpected second result: %+v", second)
	}
	if second.ErrorMessage != "elevated privileges required" || second.FailedOperations != 1 {
		t.Errorf("failure details should persist: %+v", second)
	}

	empty, err := store.GetRunResults(ctx, "no-such-run")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown run returns no rows, got %d", len(empty))
	}
}

func TestPruneRunsCascadesResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, sampleRun("old-run", old)); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordRun(ctx, sampleRun("recent-run", recent)); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneRuns(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned run, got %d", pruned)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "recent-run" {
		t.Errorf("only the recent run should remain, got %+v", runs)
	}

	results, err := store.GetRunResults(ctx, "old-run")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("pruned run's results should cascade, got %d rows", len(results))
	}
}
