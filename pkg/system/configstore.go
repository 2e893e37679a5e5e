// Package system provides the local SystemProbe and SystemMutator
// implementations: a pluggable hive-based config store, systemd service
// control, a shell script runner with timeout kill, and file operations.
package system

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/opentweak/opentweak/pkg/catalog"
)

// ConfigStore is the registry-like key/value surface probes and mutators
// operate on. Keys live under a hive ("machine", "user", or "user:<id>"
// for per-account redirection) and hold named, typed values. Reads report
// absence as found=false with a nil error; errors mean the store itself is
// unavailable.
type ConfigStore interface {
	// GetValue reads one named value under a key.
	GetValue(ctx context.Context, hive, keyPath, valueName string) (catalog.Value, bool, error)

	// SetValue writes one named value, creating the key if needed.
	SetValue(ctx context.Context, hive, keyPath, valueName string, value catalog.Value, kind catalog.ValueKind) error

	// DeleteValue removes one named value. Deleting an absent value is not
	// an error.
	DeleteValue(ctx context.Context, hive, keyPath, valueName string) error

	// KeyExists checks that a key exists.
	KeyExists(ctx context.Context, hive, keyPath string) (bool, error)

	// CreateKey creates an empty key. Creating an existing key is not an
	// error.
	CreateKey(ctx context.Context, hive, keyPath string) error

	// DeleteKey removes a key, its values, and every key beneath it.
	DeleteKey(ctx context.Context, hive, keyPath string) error
}

// HiveFor maps a config scope and optional account identifier to the store
// hive name. User redirection only applies to the user scope.
func HiveFor(scope catalog.ConfigScope, user string) string {
	if scope == catalog.ScopeUser && user != "" {
		return "user:" + user
	}
	return string(scope)
}

// NormalizeKeyPath canonicalizes a key path: forward slashes, no leading
// or trailing separator, lower-cased for case-insensitive lookup.
func NormalizeKeyPath(keyPath string) string {
	p := strings.ReplaceAll(keyPath, "\\", "/")
	p = strings.Trim(p, "/")
	return strings.ToLower(p)
}

// storedValue is one typed payload in the in-memory store.
type storedValue struct {
	value catalog.Value
	kind  catalog.ValueKind
}

// MemoryConfigStore is an in-memory ConfigStore. It backs tests and
// ephemeral runs; the SQLite store is the durable implementation.
type MemoryConfigStore struct {
	mu sync.RWMutex
	// keys tracks existing keys per hive, including empty ones.
	keys map[string]map[string]struct{}
	// values maps hive -> keyPath -> valueName -> payload.
	values map[string]map[string]map[string]storedValue
}

// NewMemoryConfigStore creates an empty in-memory store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{
		keys:   make(map[string]map[string]struct{}),
		values: make(map[string]map[string]map[string]storedValue),
	}
}

// GetValue reads one named value under a key.
func (s *MemoryConfigStore) GetValue(_ context.Context, hive, keyPath, valueName string) (catalog.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := NormalizeKeyPath(keyPath)
	hiveValues, ok := s.values[hive]
	if !ok {
		return catalog.Value{}, false, nil
	}
	keyValues, ok := hiveValues[key]
	if !ok {
		return catalog.Value{}, false, nil
	}
	stored, ok := keyValues[strings.ToLower(valueName)]
	if !ok {
		return catalog.Value{}, false, nil
	}
	return stored.value, true, nil
}

// SetValue writes one named value, creating the key if needed.
func (s *MemoryConfigStore) SetValue(_ context.Context, hive, keyPath, valueName string, value catalog.Value, kind catalog.ValueKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeKeyPath(keyPath)
	s.ensureKeyLocked(hive, key)
	if s.values[hive] == nil {
		s.values[hive] = make(map[string]map[string]storedValue)
	}
	if s.values[hive][key] == nil {
		s.values[hive][key] = make(map[string]storedValue)
	}
	s.values[hive][key][strings.ToLower(valueName)] = storedValue{value: value, kind: kind}
	return nil
}

// DeleteValue removes one named value.
func (s *MemoryConfigStore) DeleteValue(_ context.Context, hive, keyPath, valueName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeKeyPath(keyPath)
	if hiveValues, ok := s.values[hive]; ok {
		delete(hiveValues[key], strings.ToLower(valueName))
	}
	return nil
}

// KeyExists checks that a key exists.
func (s *MemoryConfigStore) KeyExists(_ context.Context, hive, keyPath string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := NormalizeKeyPath(keyPath)
	if hiveKeys, ok := s.keys[hive]; ok {
		if _, exists := hiveKeys[key]; exists {
			return true, nil
		}
	}
	return false, nil
}

// CreateKey creates an empty key.
func (s *MemoryConfigStore) CreateKey(_ context.Context, hive, keyPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureKeyLocked(hive, NormalizeKeyPath(keyPath))
	return nil
}

// DeleteKey removes a key, its values, and every key beneath it.
func (s *MemoryConfigStore) DeleteKey(_ context.Context, hive, keyPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeKeyPath(keyPath)
	prefix := key + "/"
	if hiveKeys, ok := s.keys[hive]; ok {
		for k := range hiveKeys {
			if k == key || strings.HasPrefix(k, prefix) {
				delete(hiveKeys, k)
			}
		}
	}
	if hiveValues, ok := s.values[hive]; ok {
		for k := range hiveValues {
			if k == key || strings.HasPrefix(k, prefix) {
				delete(hiveValues, k)
			}
		}
	}
	return nil
}

// Keys returns the sorted key paths in a hive. Intended for tests and
// debugging output.
func (s *MemoryConfigStore) Keys(hive string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keys[hive]))
	for k := range s.keys[hive] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ensureKeyLocked records the key and all its ancestors as existing.
func (s *MemoryConfigStore) ensureKeyLocked(hive, key string) {
	if s.keys[hive] == nil {
		s.keys[hive] = make(map[string]struct{})
	}
	for key != "" {
		s.keys[hive][key] = struct{}{}
		idx := strings.LastIndexByte(key, '/')
		if idx < 0 {
			break
		}
		key = key[:idx]
	}
}
