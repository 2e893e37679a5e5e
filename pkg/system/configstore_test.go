package system

import (
	"context"
	"testing"

	"github.com/opentweak/opentweak/pkg/catalog"
)

func TestMemoryStoreValueRoundTrip(t *testing.T) {
	store := NewMemoryConfigStore()
	ctx := context.Background()

	if err := store.SetValue(ctx, "user", "Desktop/Theme", "Mode", catalog.NewTextValue("dark"), catalog.ValueKindString); err != nil {
		t.Fatal(err)
	}

	// Lookup is case-insensitive on key path and value name.
	v, found, err := store.GetValue(ctx, "user", "desktop/theme", "mode")
	if err != nil || !found {
		t.Fatalf("found=%t err=%v", found, err)
	}
	if s, _ := v.AsText(); s != "dark" {
		t.Errorf("expected dark, got %q", s)
	}

	if _, found, _ := store.GetValue(ctx, "machine", "desktop/theme", "mode"); found {
		t.Error("hives are isolated")
	}
}

func TestMemoryStoreSetValueCreatesAncestorKeys(t *testing.T) {
	store := NewMemoryConfigStore()
	ctx := context.Background()

	store.SetValue(ctx, "user", "a/b/c", "v", catalog.NewIntValue(1), catalog.ValueKindDWord)

	for _, key := range []string{"a", "a/b", "a/b/c"} {
		exists, err := store.KeyExists(ctx, "user", key)
		if err != nil || !exists {
			t.Errorf("ancestor %q should exist, exists=%t err=%v", key, exists, err)
		}
	}
}

func TestMemoryStoreDeleteValueIsIdempotent(t *testing.T) {
	store := NewMemoryConfigStore()
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
	// The key itself survives value deletion.
	if exists, _ := store.KeyExists(ctx, "user", "k"); !exists {
		t.Error("key should survive value deletion")
	}
}

func TestMemoryStoreDeleteKeyRemovesSubtree(t *testing.T) {
	store := NewMemoryConfigStore()
	ctx := context.Background()

	store.SetValue(ctx, "machine", "root/child/leaf", "v", catalog.NewIntValue(1), catalog.ValueKindDWord)
	store.SetValue(ctx, "machine", "root/sibling", "v", catalog.NewIntValue(2), catalog.ValueKindDWord)
	store.SetValue(ctx, "machine", "rooted", "v", catalog.NewIntValue(3), catalog.ValueKindDWord)

	if err := store.DeleteKey(ctx, "machine", "root/child"); err != nil {
		t.Fatal(err)
	}

	if exists, _ := store.KeyExists(ctx, "machine", "root/child"); exists {
		t.Error("deleted key should not exist")
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
	// Prefix match is per path segment, not per character.
	if _, found, _ := store.GetValue(ctx, "machine", "rooted", "v"); !found {
		t.Error("a key sharing a name prefix is not a descendant")
	}
}

func TestMemoryStoreCreateKeyIsIdempotent(t *testing.T) {
	store := NewMemoryConfigStore()
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

func TestNormalizeKeyPath(t *testing.T) {
	cases := map[string]string{
		`Software\Policies\Thing`: "software/policies/thing",
		"/leading/and/trailing/": "leading/and/trailing",
		"Already/Normal":         "already/normal",
	}
	for in, want := range cases {
		if got := NormalizeKeyPath(in); got != want {
			t.Errorf("NormalizeKeyPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHiveFor(t *testing.T) {
	if got := HiveFor(catalog.ScopeMachine, "1000"); got != "machine" {
		t.Errorf("machine scope ignores the user, got %q", got)
	}
	if got := HiveFor(catalog.ScopeUser, ""); got != "user" {
		t.Errorf("empty user targets the shared user hive, got %q", got)
	}
	if got := HiveFor(catalog.ScopeUser, "1000"); got != "user:1000" {
		t.Errorf("user redirection builds a per-account hive, got %q", got)
	}
}
