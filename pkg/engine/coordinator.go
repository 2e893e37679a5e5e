package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

// DefaultCacheTTL bounds how long a full-catalog scan result stays fresh.
const DefaultCacheTTL = 5 * time.Minute

// TweakView pairs a tweak with its detection status and any pending
// user-requested action.
type TweakView struct {
	Tweak   catalog.Tweak  `json:"tweak"`
	Status  TweakStatus    `json:"status"`
	Pending *PendingChange `json:"pending,omitempty"`
}

// Coordinator orchestrates the catalog and detector into a per-tweak view,
// caches full-scan results with a bounded TTL, and tracks pending
// apply/revert intents keyed by tweak id. The status cache and pending
// list are guarded by one mutex per instance; pending changes are pure
// in-memory session state and do not survive a restart.
type Coordinator struct {
	provider catalog.Provider
	detector Detector
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	clock    Clock
	ttl      time.Duration

	mu       sync.Mutex
	cache    map[string]TweakStatus
	cachedAt time.Time
	pending  map[string]PendingChange
}

// NewCoordinator creates a coordinator with the default clock and TTL.
func NewCoordinator(provider catalog.Provider, detector Detector, logger *telemetry.Logger, metrics *telemetry.Metrics) *Coordinator {
	return &Coordinator{
		provider: provider,
		detector: detector,
		logger:   logger.NewComponentLogger("coordinator"),
		metrics:  metrics,
		clock:    SystemClock(),
		ttl:      DefaultCacheTTL,
		cache:    make(map[string]TweakStatus),
		pending:  make(map[string]PendingChange),
	}
}

// WithClock replaces the coordinator's clock. Intended for tests.
func (c *Coordinator) WithClock(clock Clock) *Coordinator {
	c.clock = clock
	return c
}

// WithTTL replaces the cache TTL.
func (c *Coordinator) WithTTL(ttl time.Duration) *Coordinator {
	c.ttl = ttl
	return c
}

// cacheFresh reports whether the full-scan cache is usable. Caller must
// hold the mutex.
func (c *Coordinator) cacheFresh() bool {
	return !c.cachedAt.IsZero() && c.clock.Now().Sub(c.cachedAt) < c.ttl
}

// RefreshAll rescans the whole catalog and replaces the status cache.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	tweaks, err := c.provider.GetAll(ctx)
	if err != nil {
		return err
	}
	statuses := c.detector.ScanAll(ctx, tweaks)

	cache := make(map[string]TweakStatus, len(statuses))
	for _, status := range statuses {
		cache[catalog.NormalizeID(status.TweakID)] = status
	}

	c.mu.Lock()
	c.cache = cache
	c.cachedAt = c.clock.Now()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCacheRefresh()
	}
	c.logger.WithField("count", len(cache)).Debug("status cache refreshed")
	return nil
}

// ListWithStatus returns every tweak with its cached status and pending
// action, refreshing the cache first if it is empty or stale.
func (c *Coordinator) ListWithStatus(ctx context.Context) ([]TweakView, error) {
	c.mu.Lock()
	fresh := c.cacheFresh()
	c.mu.Unlock()
	if !fresh {
		if err := c.RefreshAll(ctx); err != nil {
			return nil, err
		}
	}

	tweaks, err := c.provider.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	views := make([]TweakView, 0, len(tweaks))
	for _, tweak := range tweaks {
		key := catalog.NormalizeID(tweak.ID)
		view := TweakView{
			Tweak:  tweak,
			Status: c.cache[key],
		}
		if pending, ok := c.pending[key]; ok {
			p := pending
			view.Pending = &p
		}
		views = append(views, view)
	}
	return views, nil
}

// StatusFor returns the status of one tweak: from the cache when fresh,
// otherwise from a single fresh detection that upserts the cache entry
// without forcing a full rescan.
func (c *Coordinator) StatusFor(ctx context.Context, tweakID string) (TweakStatus, error) {
	key := catalog.NormalizeID(tweakID)

	c.mu.Lock()
	if c.cacheFresh() {
		if status, ok := c.cache[key]; ok {
			c.mu.Unlock()
			return status, nil
		}
	}
	c.mu.Unlock()

	tweak, err := c.provider.GetByID(ctx, tweakID)
	if err != nil {
		return TweakStatus{}, err
	}
	if tweak == nil {
		return TweakStatus{}, NewConfigurationError("unknown tweak id", nil).
			WithTweak(tweakID).WithCode(ErrCodeNotFound)
	}

	status := c.detector.Evaluate(ctx, tweak)
	c.mu.Lock()
	c.cache[key] = status
	c.mu.Unlock()
	return status, nil
}

// SetPendingChange records an apply or revert intent for a tweak,
// replacing any prior intent for the same id. It returns false when the
// tweak id is unknown to the catalog.
func (c *Coordinator) SetPendingChange(ctx context.Context, tweakID string, action PendingAction) (bool, error) {
	if err := action.Validate(); err != nil {
		return false, err
	}
	tweak, err := c.provider.GetByID(ctx, tweakID)
	if err != nil {
		return false, err
	}
	if tweak == nil {
		return false, nil
	}

	c.mu.Lock()
	c.pending[catalog.NormalizeID(tweakID)] = PendingChange{
		TweakID:   tweak.ID,
		TweakName: tweak.Name,
		Action:    action,
		AddedAt:   c.clock.Now().UTC(),
	}
	count := len(c.pending)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetPendingChanges(float64(count))
	}
	return true, nil
}

// ClearPendingChange removes the pending intent for a tweak, reporting
// whether one existed.
func (c *Coordinator) ClearPendingChange(tweakID string) bool {
	key := catalog.NormalizeID(tweakID)

	c.mu.Lock()
	_, existed := c.pending[key]
	delete(c.pending, key)
	count := len(c.pending)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetPendingChanges(float64(count))
	}
	return existed
}

// ClearAllPendingChanges removes every pending intent.
func (c *Coordinator) ClearAllPendingChanges() {
	c.mu.Lock()
	c.pending = make(map[string]PendingChange)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetPendingChanges(0)
	}
}

// ListPendingChanges returns the pending intents ordered by when they were
// added.
func (c *Coordinator) ListPendingChanges() []PendingChange {
	c.mu.Lock()
	out := make([]PendingChange, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].TweakID < out[j].TweakID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

// ConsumePendingChanges removes and returns every pending intent, ordered
// by when they were added. Used when a batch execution takes them over.
func (c *Coordinator) ConsumePendingChanges() []PendingChange {
	out := c.ListPendingChanges()
	c.ClearAllPendingChanges()
	return out
}

// InvalidateCache discards the full-scan cache so the next read rescans.
func (c *Coordinator) InvalidateCache() {
	c.mu.Lock()
	c.cache = make(map[string]TweakStatus)
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
