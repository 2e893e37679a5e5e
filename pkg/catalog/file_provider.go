package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"

	"github.com/opentweak/opentweak/pkg/telemetry"
)

// FileProvider loads tweak definitions from *.json files in a directory.
// Each file holds either a single tweak document or an array of them.
// Loaded definitions are cached; a filesystem watcher invalidates the cache
// when the directory changes, so the next read reloads from disk.
type FileProvider struct {
	dir      string
	validate *validator.Validate
	logger   *telemetry.Logger

	mu     sync.RWMutex
	loaded bool
	tweaks []Tweak
	byID   map[string]*Tweak

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileProvider creates a provider over the given directory and starts
// watching it for changes. Close must be called to release the watcher.
func NewFileProvider(dir string, logger *telemetry.Logger) (*FileProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog path is not a directory: %s", dir)
	}

	p := &FileProvider{
		dir:      dir,
		validate: validator.New(),
		logger:   logger.NewComponentLogger("catalog"),
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	p.watcher = watcher
	go p.watch()

	return p, nil
}

// Close stops the directory watcher.
func (p *FileProvider) Close() error {
	close(p.done)
	return p.watcher.Close()
}

// watch invalidates the cache whenever a JSON file in the directory changes.
func (p *FileProvider) watch() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			p.logger.WithField("file", event.Name).Debug("catalog changed, invalidating cache")
			p.mu.Lock()
			p.loaded = false
			p.mu.Unlock()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.WithError(err).Warn("catalog watcher error")
		}
	}
}

// ensureLoaded loads the catalog from disk if the cache is invalid.
func (p *FileProvider) ensureLoaded() error {
	p.mu.RLock()
	loaded := p.loaded
	p.mu.RUnlock()
	if loaded {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("failed to read catalog directory: %w", err)
	}

	var tweaks []Tweak
	byID := make(map[string]*Tweak)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		loaded, err := p.loadFile(path)
		if err != nil {
			// One malformed file must not hide the rest of the catalog.
			p.logger.WithError(err).WithField("file", path).Warn("skipping catalog file")
			continue
		}
		for _, t := range loaded {
			key := NormalizeID(t.ID)
			if _, exists := byID[key]; exists {
				p.logger.WithField("id", t.ID).WithField("file", path).Warn("duplicate tweak id, keeping first definition")
				continue
			}
			tweaks = append(tweaks, t)
			byID[key] = &tweaks[len(tweaks)-1]
		}
	}

	// Rebuild pointers: appends above may have relocated the backing array.
	byID = make(map[string]*Tweak, len(tweaks))
	for i := range tweaks {
		byID[NormalizeID(tweaks[i].ID)] = &tweaks[i]
	}

	p.tweaks = tweaks
	p.byID = byID
	p.loaded = true
	p.logger.WithField("count", len(tweaks)).Debug("catalog loaded")
	return nil
}

// loadFile parses and validates one catalog file.
func (p *FileProvider) loadFile(path string) ([]Tweak, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var tweaks []Tweak
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &tweaks); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		var single Tweak
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		tweaks = []Tweak{single}
	}

	for i := range tweaks {
		if err := p.validate.Struct(&tweaks[i]); err != nil {
			return nil, fmt.Errorf("invalid tweak %q in %s: %w", tweaks[i].ID, path, err)
		}
		if err := tweaks[i].Severity.Validate(); err != nil {
			return nil, fmt.Errorf("invalid tweak %q in %s: %w", tweaks[i].ID, path, err)
		}
	}
	return tweaks, nil
}

// GetAll returns every tweak in the catalog.
func (p *FileProvider) GetAll(_ context.Context) ([]Tweak, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Tweak, len(p.tweaks))
	copy(out, p.tweaks)
	return out, nil
}

// GetByID returns the tweak with the given id, or nil if unknown.
func (p *FileProvider) GetByID(_ context.Context, id string) (*Tweak, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.byID[NormalizeID(id)]
	if !ok {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}

// GetByCategory returns the tweaks in the given category.
func (p *FileProvider) GetByCategory(_ context.Context, category string) ([]Tweak, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Tweak
	for _, t := range p.tweaks {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Search returns tweaks whose id, name, description, category, or tags
// contain the term, case-insensitively.
func (p *FileProvider) Search(_ context.Context, term string) ([]Tweak, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	p.mu.RLock()
	defer p.mu.RUnlock()
	if needle == "" {
		out := make([]Tweak, len(p.tweaks))
		copy(out, p.tweaks)
		return out, nil
	}
	var out []Tweak
	for _, t := range p.tweaks {
		if matchesTerm(&t, needle) {
			out = append(out, t)
		}
	}
	return out, nil
}

func matchesTerm(t *Tweak, needle string) bool {
	for _, field := range []string{t.ID, t.Name, t.Description, t.Category, t.SubCategory} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Categories returns the distinct category names in the catalog, sorted.
func (p *FileProvider) Categories(_ context.Context) ([]string, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]string)
	for _, t := range p.tweaks {
		if t.Category == "" {
			continue
		}
		key := strings.ToLower(t.Category)
		if _, ok := seen[key]; !ok {
			seen[key] = t.Category
		}
	}
	out := make([]string, 0, len(seen))
	for _, name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
