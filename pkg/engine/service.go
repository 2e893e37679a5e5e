package engine

import (
	"context"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

// PolicyGate approves or rejects a batch before execution. Implementations
// return a classified error describing the violation when the batch is not
// allowed.
type PolicyGate interface {
	CheckBatch(ctx context.Context, tweaks []catalog.Tweak, action PendingAction) error
}

// maxRecommended caps how many tweaks Recommended returns.
const maxRecommended = 10

// Service bundles the provider, detector, executor, coordinator, and
// policy gate behind one facade, which is what callers such as the CLI
// use. The gate is optional; a nil gate allows everything.
type Service struct {
	provider    catalog.Provider
	detector    Detector
	executor    Executor
	coordinator *Coordinator
	gate        PolicyGate
	logger      *telemetry.Logger
}

// NewService creates the facade.
func NewService(provider catalog.Provider, detector Detector, executor Executor, coordinator *Coordinator, gate PolicyGate, logger *telemetry.Logger) *Service {
	return &Service{
		provider:    provider,
		detector:    detector,
		executor:    executor,
		coordinator: coordinator,
		gate:        gate,
		logger:      logger.NewComponentLogger("service"),
	}
}

// Coordinator exposes the underlying coordinator for pending-change and
// cache management.
func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

// ListWithStatus returns every tweak with detection status and pending action.
func (s *Service) ListWithStatus(ctx context.Context) ([]TweakView, error) {
	return s.coordinator.ListWithStatus(ctx)
}

// StatusFor returns the detection status for one tweak.
func (s *Service) StatusFor(ctx context.Context, tweakID string) (TweakStatus, error) {
	return s.coordinator.StatusFor(ctx, tweakID)
}

// Recommended returns up to ten low-risk tweaks worth suggesting: privacy
// and performance tweaks, plus anything at medium severity or below.
func (s *Service) Recommended(ctx context.Context) ([]catalog.Tweak, error) {
	tweaks, err := s.provider.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []catalog.Tweak
	for _, t := range tweaks {
		if !isRecommendable(&t) {
			continue
		}
		out = append(out, t)
		if len(out) == maxRecommended {
			break
		}
	}
	return out, nil
}

func isRecommendable(t *catalog.Tweak) bool {
	switch catalog.NormalizeID(t.Category) {
	case "privacy", "performance":
		return true
	}
	return t.Severity.Rank() <= catalog.SeverityMedium.Rank()
}

// MarkForApply records an apply intent for the tweak. Returns false when
// the tweak id is unknown.
func (s *Service) MarkForApply(ctx context.Context, tweakID string) (bool, error) {
	return s.coordinator.SetPendingChange(ctx, tweakID, ActionApply)
}

// MarkForRevert records a revert intent for the tweak.
func (s *Service) MarkForRevert(ctx context.Context, tweakID string) (bool, error) {
	return s.coordinator.SetPendingChange(ctx, tweakID, ActionRevert)
}

// Apply applies one tweak immediately, bypassing the pending list but not
// the policy gate.
func (s *Service) Apply(ctx context.Context, tweakID string) (TweakResult, error) {
	return s.executeOne(ctx, tweakID, ActionApply)
}

// Revert reverts one tweak immediately, bypassing the pending list but not
// the policy gate.
func (s *Service) Revert(ctx context.Context, tweakID string) (TweakResult, error) {
	return s.executeOne(ctx, tweakID, ActionRevert)
}

func (s *Service) executeOne(ctx context.Context, tweakID string, action PendingAction) (TweakResult, error) {
	tweak, err := s.provider.GetByID(ctx, tweakID)
	if err != nil {
		return TweakResult{}, err
	}
	if tweak == nil {
		return TweakResult{}, NewConfigurationError("unknown tweak id", nil).
			WithTweak(tweakID).WithCode(ErrCodeNotFound)
	}
	if err := s.checkPolicy(ctx, []catalog.Tweak{*tweak}, action); err != nil {
		return TweakResult{}, err
	}

	var result TweakResult
	if action == ActionApply {
		result = s.executor.Apply(ctx, tweak)
	} else {
		result = s.executor.Revert(ctx, tweak)
	}
	s.coordinator.InvalidateCache()
	return result, nil
}

// ExecutePending consumes the pending-change list, policy-checks the apply
// and revert batches, executes them, and refreshes the status cache.
// Results are keyed by normalized tweak id. Pending entries whose tweak
// has disappeared from the catalog are dropped with a warning.
func (s *Service) ExecutePending(ctx context.Context, progress ProgressFunc) (map[string]TweakResult, error) {
	pending := s.coordinator.ConsumePendingChanges()
	if len(pending) == 0 {
		return map[string]TweakResult{}, nil
	}

	var applyList, revertList []catalog.Tweak
	for _, p := range pending {
		tweak, err := s.provider.GetByID(ctx, p.TweakID)
		if err != nil {
			return nil, err
		}
		if tweak == nil {
			s.logger.WithTweakID(p.TweakID).Warn("pending change references unknown tweak, dropping")
			continue
		}
		if p.Action == ActionApply {
			applyList = append(applyList, *tweak)
		} else {
			revertList = append(revertList, *tweak)
		}
	}

	if err := s.checkPolicy(ctx, applyList, ActionApply); err != nil {
		return nil, err
	}
	if err := s.checkPolicy(ctx, revertList, ActionRevert); err != nil {
		return nil, err
	}

	results := make(map[string]TweakResult, len(applyList)+len(revertList))
	if len(applyList) > 0 {
		for id, r := range s.executor.ApplyBatch(ctx, applyList, progress) {
			results[id] = r
		}
	}
	if len(revertList) > 0 && ctx.Err() == nil {
		for id, r := range s.executor.RevertBatch(ctx, revertList, progress) {
			results[id] = r
		}
	}

	if err := s.coordinator.RefreshAll(ctx); err != nil {
		s.logger.WithError(err).Warn("post-execution rescan failed")
	}
	return results, nil
}

func (s *Service) checkPolicy(ctx context.Context, tweaks []catalog.Tweak, action PendingAction) error {
	if s.gate == nil || len(tweaks) == 0 {
		return nil
	}
	return s.gate.CheckBatch(ctx, tweaks, action)
}
