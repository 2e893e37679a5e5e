package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

func TestProbeReadsConfigStore(t *testing.T) {
	store := NewMemoryConfigStore()
	ctx := context.Background()
	store.SetValue(ctx, "user", "desktop/theme", "mode", catalog.NewTextValue("dark"), catalog.ValueKindString)
	store.SetValue(ctx, "machine", "policies/x", "enabled", catalog.NewIntValue(1), catalog.ValueKindDWord)

	probe := NewProbe(store, nil, NewShellRunner(), telemetry.NewNopLogger())

	v, found, err := probe.GetConfigValue(ctx, catalog.ScopeUser, "desktop/theme", "mode")
	if err != nil || !found {
		t.Fatalf("found=%t err=%v", found, err)
	}
	if s, _ := v.AsText(); s != "dark" {
		t.Errorf("expected dark, got %q", s)
	}

	// Scopes map to distinct hives.
	if _, found, _ := probe.GetConfigValue(ctx, catalog.ScopeUser, "policies/x", "enabled"); found {
		t.Error("machine value must not be visible through the user scope")
	}
	if exists, _ := probe.ConfigKeyExists(ctx, catalog.ScopeMachine, "policies"); !exists {
		t.Error("ancestor key should exist in the machine hive")
	}
}

func TestProbeFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marker")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	probe := NewProbe(NewMemoryConfigStore(), nil, NewShellRunner(), telemetry.NewNopLogger())
	ctx := context.Background()

	if exists, err := probe.FileExists(ctx, path); err != nil || !exists {
		t.Errorf("existing file: exists=%t err=%v", exists, err)
	}
	if exists, err := probe.FileExists(ctx, filepath.Join(dir, "absent")); err != nil || exists {
		t.Errorf("missing file: exists=%t err=%v", exists, err)
	}
	if exists, err := probe.FileExists(ctx, dir); err != nil || !exists {
		t.Errorf("directories count as existing: exists=%t err=%v", exists, err)
	}
}

func TestMutatorConfigOperationsUseScopedHives(t *testing.T) {
	store := NewMemoryConfigStore()
	mutator := NewMutator(store, nil, NewShellRunner(), telemetry.NewNopLogger())
	ctx := context.Background()

	target := engine.ConfigTarget{Scope: catalog.ScopeUser, KeyPath: "desktop/theme", ValueName: "mode", User: "1000"}
	if err := mutator.SetConfigValue(ctx, target, catalog.NewTextValue("dark"), catalog.ValueKindString); err != nil {
		t.Fatal(err)
	}

	// Redirected write lands in the per-account hive, not the shared one.
	if _, found, _ := store.GetValue(ctx, "user", "desktop/theme", "mode"); found {
		t.Error("redirected write must not land in the shared user hive")
	}
	v, found, err := store.GetValue(ctx, "user:1000", "desktop/theme", "mode")
	if err != nil || !found {
		t.Fatalf("found=%t err=%v", found, err)
	}
	if s, _ := v.AsText(); s != "dark" {
		t.Errorf("expected dark, got %q", s)
	}

	if _, found, err := mutator.GetConfigValue(ctx, target); err != nil || !found {
		t.Errorf("mutator read-back: found=%t err=%v", found, err)
	}
	if err := mutator.DeleteConfigValue(ctx, target); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := mutator.GetConfigValue(ctx, target); found {
		t.Error("value should be deleted")
	}
}

func TestMutatorFileOperations(t *testing.T) {
	mutator := NewMutator(NewMemoryConfigStore(), nil, NewShellRunner(), telemetry.NewNopLogger())
	ctx := context.Background()
	dir := t.TempDir()

	nested := filepath.Join(dir, "a", "b", "file.txt")
	if err := mutator.CreateFile(ctx, nested, "content", true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(nested)
	if err != nil || string(data) != "content" {
		t.Fatalf("data=%q err=%v", data, err)
	}

	backup := filepath.Join(dir, "backup", "file.txt")
	if err := mutator.CopyFile(ctx, nested, backup); err != nil {
		t.Fatal(err)
	}
	copied, err := os.ReadFile(backup)
	if err != nil || string(copied) != "content" {
		t.Fatalf("copied=%q err=%v", copied, err)
	}

	if err := mutator.DeleteFile(ctx, filepath.Join(dir, "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(nested); !os.IsNotExist(err) {
		t.Error("directory tree should be removed recursively")
	}
	if err := mutator.DeleteFile(ctx, filepath.Join(dir, "a")); err != nil {
		t.Errorf("deleting an absent path is not an error: %v", err)
	}

	if err := mutator.CreateFile(ctx, filepath.Join(dir, "missing", "f.txt"), "x", false); err == nil {
		t.Error("missing parents without create_directories should fail")
	}
}

func TestMutatorRunScript(t *testing.T) {
	mutator := NewMutator(NewMemoryConfigStore(), nil, NewShellRunner(), telemetry.NewNopLogger())

	out, err := mutator.RunScript(context.Background(), "echo done", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", out.ExitCode)
	}
}
