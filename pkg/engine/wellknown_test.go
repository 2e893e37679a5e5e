package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opentweak/opentweak/pkg/catalog"
)

func checklistChecks() []WellKnownCheck {
	return []WellKnownCheck{
		{Scope: catalog.ScopeMachine, KeyPath: "a", ValueName: "v", Expected: "0", Kind: catalog.ValueKindDWord, Critical: true},
		{Scope: catalog.ScopeMachine, KeyPath: "b", ValueName: "v", Expected: "0", Kind: catalog.ValueKindDWord, Critical: true},
		{Scope: catalog.ScopeUser, KeyPath: "c", ValueName: "v", Expected: "0", Kind: catalog.ValueKindDWord},
		{Scope: catalog.ScopeUser, KeyPath: "d", ValueName: "v", Expected: "0", Kind: catalog.ValueKindDWord},
	}
}

func setCheck(probe *fakeProbe, scope catalog.ConfigScope, keyPath string, v int64) {
	probe.setValue(scope, keyPath, "v", catalog.NewIntValue(v))
}

func TestChecklistAllMatchedIsApplied(t *testing.T) {
	probe := newFakeProbe()
	setCheck(probe, catalog.ScopeMachine, "a", 0)
	setCheck(probe, catalog.ScopeMachine, "b", 0)
	setCheck(probe, catalog.ScopeUser, "c", 0)
	setCheck(probe, catalog.ScopeUser, "d", 0)

	detect := NewChecklistDetector(checklistChecks())
	status, err := detect(context.Background(), probe, &catalog.Tweak{ID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !status.IsApplied || !status.CanDetect {
		t.Fatalf("expected applied, got %+v", status)
	}
	if status.DetectionConfidence != 0.95 {
		t.Errorf("full match confidence caps at 0.95, got %f", status.DetectionConfidence)
	}
	if !strings.HasPrefix(status.StatusMessage, "4 of 4 checks matched") {
		t.Errorf("unexpected message %q", status.StatusMessage)
	}
}

func TestChecklistToleratesOneMissingCritical(t *testing.T) {
	probe := newFakeProbe()
	// One of two critical locations set, both optional set: 3/4 = 75%.
	setCheck(probe, catalog.ScopeMachine, "a", 0)
	setCheck(probe, catalog.ScopeUser, "c", 0)
	setCheck(probe, catalog.ScopeUser, "d", 0)

	detect := NewChecklistDetector(checklistChecks())
	status, err := detect(context.Background(), probe, &catalog.Tweak{ID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !status.IsApplied {
		t.Fatalf("criticalMatched 1 >= criticalTotal-1 with 75%% fraction should apply, got %+v", status)
	}
	if !strings.Contains(status.StatusMessage, "unmatched: machine:b!v=<absent>") {
		t.Errorf("message should name the unmatched location, got %q", status.StatusMessage)
	}
}

func TestChecklistFractionBelowThresholdIsNotApplied(t *testing.T) {
	probe := newFakeProbe()
	// Both critical matched but only 2/4 overall.
	setCheck(probe, catalog.ScopeMachine, "a", 0)
	setCheck(probe, catalog.ScopeMachine, "b", 0)

	detect := NewChecklistDetector(checklistChecks())
	status, err := detect(context.Background(), probe, &catalog.Tweak{ID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if status.IsApplied {
		t.Fatalf("50%% matched fraction is below the 75%% threshold, got %+v", status)
	}
	if status.DetectionConfidence != 0.6+0.5*0.35 {
		t.Errorf("confidence should scale with the fraction, got %f", status.DetectionConfidence)
	}
}

func TestChecklistSingleCriticalRequiresIt(t *testing.T) {
	probe := newFakeProbe()

	checks := []WellKnownCheck{
		{Scope: catalog.ScopeUser, KeyPath: "only", ValueName: "v", Expected: "1", Kind: catalog.ValueKindDWord, Critical: true},
	}
	detect := NewChecklistDetector(checks)

	status, err := detect(context.Background(), probe, &catalog.Tweak{ID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if status.IsApplied {
		t.Fatal("single unmatched critical check must not apply")
	}

	setCheck(probe, catalog.ScopeUser, "only", 1)
	status, err = detect(context.Background(), probe, &catalog.Tweak{ID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !status.IsApplied {
		t.Fatal("single matched critical check should apply")
	}
}

func TestChecklistProbeErrorPropagates(t *testing.T) {
	probe := newFakeProbe()
	probe.err = errors.New("store offline")

	detect := NewChecklistDetector(checklistChecks())
	if _, err := detect(context.Background(), probe, &catalog.Tweak{ID: "x"}); err == nil {
		t.Fatal("probe failure must propagate so the generic evaluator takes over")
	}
}

func TestChecklistWithoutChecksIsConfigurationError(t *testing.T) {
	detect := NewChecklistDetector(nil)
	_, err := detect(context.Background(), newFakeProbe(), &catalog.Tweak{ID: "x"})
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRegisterBuiltinDetectorsWiresDarkMode(t *testing.T) {
	probe := newFakeProbe()
	probe.setValue(catalog.ScopeUser, "themes/personalize", "apps_use_light_theme", catalog.NewIntValue(0))
	probe.setValue(catalog.ScopeUser, "themes/personalize", "system_uses_light_theme", catalog.NewIntValue(0))

	d := NewRuleDetector(probe, testLogger(), nil)
	RegisterBuiltinDetectors(d)

	tweak := &catalog.Tweak{ID: "dark-mode", Name: "Dark Mode", Severity: catalog.SeverityLow}
	status := d.Evaluate(context.Background(), tweak)

	if !status.IsApplied {
		t.Fatalf("both theme values at 0 means dark mode is on, got %+v", status)
	}
	if status.DetectionConfidence != 0.95 {
		t.Errorf("expected capped confidence, got %f", status.DetectionConfidence)
	}
}

func TestRegisterBuiltinDetectorsDarkModeHalfSet(t *testing.T) {
	probe := newFakeProbe()
	probe.setValue(catalog.ScopeUser, "themes/personalize", "apps_use_light_theme", catalog.NewIntValue(0))
	probe.setValue(catalog.ScopeUser, "themes/personalize", "system_uses_light_theme", catalog.NewIntValue(1))

	d := NewRuleDetector(probe, testLogger(), nil)
	RegisterBuiltinDetectors(d)

	tweak := &catalog.Tweak{ID: "dark-mode", Name: "Dark Mode", Severity: catalog.SeverityLow}
	status := d.Evaluate(context.Background(), tweak)

	if status.IsApplied {
		t.Fatalf("one light-theme value still set means dark mode is partial, got %+v", status)
	}
}
