package engine

import (
	"context"
	"testing"

	"github.com/opentweak/opentweak/pkg/catalog"
)

type fakeGate struct {
	denied  map[string]bool
	batches []int
}

func (g *fakeGate) CheckBatch(_ context.Context, tweaks []catalog.Tweak, _ PendingAction) error {
	g.batches = append(g.batches, len(tweaks))
	for _, t := range tweaks {
		if g.denied[catalog.NormalizeID(t.ID)] {
			return NewPermissionError("blocked by policy", nil).WithTweak(t.ID).WithCode(ErrCodePolicyDenied)
		}
	}
	return nil
}

func serviceFixture(gate PolicyGate) (*Service, *fakeExecutor, *fakeDetector) {
	provider := &fakeProvider{tweaks: []catalog.Tweak{
		{ID: "dark-mode", Name: "Dark Mode", Category: "appearance", Severity: catalog.SeverityLow},
		{ID: "disable-telemetry", Name: "Disable Telemetry", Category: "privacy", Severity: catalog.SeverityMedium},
		{ID: "risky", Name: "Risky", Category: "system", Severity: catalog.SeverityCritical},
	}}
	detector := newFakeDetector()
	executor := newFakeExecutor()
	coordinator := NewCoordinator(provider, detector, testLogger(), nil)
	return NewService(provider, detector, executor, coordinator, gate, testLogger()), executor, detector
}

func TestServiceApplyExecutesKnownTweak(t *testing.T) {
	svc, executor, _ := serviceFixture(nil)

	result, err := svc.Apply(context.Background(), "Dark-Mode")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(executor.applied) != 1 || executor.applied[0] != "dark-mode" {
		t.Errorf("expected dark-mode applied, got %v", executor.applied)
	}
}

func TestServiceApplyUnknownTweak(t *testing.T) {
	svc, executor, _ := serviceFixture(nil)

	if _, err := svc.Apply(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown tweak id")
	}
	if len(executor.applied) != 0 {
		t.Error("nothing should execute for an unknown id")
	}
}

func TestServiceApplyBlockedByPolicy(t *testing.T) {
	gate := &fakeGate{denied: map[string]bool{"risky": true}}
	svc, executor, _ := serviceFixture(gate)

	_, err := svc.Apply(context.Background(), "risky")
	if err == nil {
		t.Fatal("expected policy rejection")
	}
	if !IsPermission(err) {
		t.Errorf("expected permission-class error, got %v", err)
	}
	if len(executor.applied) != 0 {
		t.Error("blocked tweak must not execute")
	}
}

func TestServiceRevertExecutes(t *testing.T) {
	svc, executor, _ := serviceFixture(nil)

	if _, err := svc.Revert(context.Background(), "dark-mode"); err != nil {
		t.Fatal(err)
	}
	if len(executor.revoked) != 1 || executor.revoked[0] != "dark-mode" {
		t.Errorf("expected dark-mode reverted, got %v", executor.revoked)
	}
}

func TestExecutePendingRunsAppliesThenReverts(t *testing.T) {
	svc, executor, _ := serviceFixture(nil)
	ctx := context.Background()

	for _, id := range []string{"dark-mode", "disable-telemetry"} {
		if known, err := svc.MarkForApply(ctx, id); err != nil || !known {
			t.Fatalf("mark %s: known=%t err=%v", id, known, err)
		}
	}
	if known, err := svc.MarkForRevert(ctx, "risky"); err != nil || !known {
		t.Fatalf("mark revert: known=%t err=%v", known, err)
	}

	var updates []Progress
	results, err := svc.ExecutePending(ctx, func(p Progress) { updates = append(updates, p) })
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if len(executor.applied) != 2 || len(executor.revoked) != 1 {
		t.Fatalf("expected 2 applies and 1 revert, got %v / %v", executor.applied, executor.revoked)
	}
	if len(updates) != 3 {
		t.Errorf("expected 3 progress updates, got %d", len(updates))
	}
	if remaining := svc.Coordinator().ListPendingChanges(); len(remaining) != 0 {
		t.Errorf("pending set should be consumed, %d left", len(remaining))
	}
}

func TestExecutePendingEmptySet(t *testing.T) {
	svc, executor, _ := serviceFixture(nil)

	results, err := svc.ExecutePending(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %v", results)
	}
	if len(executor.applied)+len(executor.revoked) != 0 {
		t.Error("nothing should execute for an empty pending set")
	}
}

func TestExecutePendingBlockedBatchExecutesNothing(t *testing.T) {
	gate := &fakeGate{denied: map[string]bool{"risky": true}}
	svc, executor, _ := serviceFixture(gate)
	ctx := context.Background()

	svc.MarkForApply(ctx, "dark-mode")
	svc.MarkForApply(ctx, "risky")

	if _, err := svc.ExecutePending(ctx, nil); err == nil {
		t.Fatal("expected the whole batch to be rejected")
	}
	if len(executor.applied) != 0 {
		t.Errorf("rejected batch must not execute anything, got %v", executor.applied)
	}
}

func TestRecommendedFiltersAndCaps(t *testing.T) {
	var tweaks []catalog.Tweak
	for i := 0; i < 15; i++ {
		tweaks = append(tweaks, catalog.Tweak{
			ID:       "privacy-" + string(rune('a'+i)),
			Name:     "Privacy Tweak",
			Category: "privacy",
			Severity: catalog.SeverityHigh,
		})
	}
	tweaks = append(tweaks, catalog.Tweak{
		ID: "dangerous", Name: "Dangerous", Category: "system", Severity: catalog.SeverityCritical,
	})

	provider := &fakeProvider{tweaks: tweaks}
	detector := newFakeDetector()
	coordinator := NewCoordinator(provider, detector, testLogger(), nil)
	svc := NewService(provider, detector, newFakeExecutor(), coordinator, nil, testLogger())

	out, err := svc.Recommended(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 10 {
		t.Fatalf("expected the recommendation cap of 10, got %d", len(out))
	}
	for _, tweak := range out {
		if tweak.ID == "dangerous" {
			t.Error("critical non-privacy tweak must not be recommended")
		}
	}
}

func TestRecommendedIncludesLowSeverityOutsidePreferredCategories(t *testing.T) {
	provider := &fakeProvider{tweaks: []catalog.Tweak{
		{ID: "cosmetic", Name: "Cosmetic", Category: "appearance", Severity: catalog.SeverityLow},
		{ID: "invasive", Name: "Invasive", Category: "appearance", Severity: catalog.SeverityHigh},
	}}
	detector := newFakeDetector()
	coordinator := NewCoordinator(provider, detector, testLogger(), nil)
	svc := NewService(provider, detector, newFakeExecutor(), coordinator, nil, testLogger())

	out, err := svc.Recommended(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "cosmetic" {
		t.Fatalf("expected only the low-severity tweak, got %+v", out)
	}
}
