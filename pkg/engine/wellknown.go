package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentweak/opentweak/pkg/catalog"
)

// WellKnownCheck is one config-store probe inside a bespoke multi-location
// detector. Critical checks carry the verdict; optional checks only add
// partial credit to the confidence.
type WellKnownCheck struct {
	// Scope, KeyPath, ValueName locate the value to probe.
	Scope     catalog.ConfigScope
	KeyPath   string
	ValueName string

	// Expected is the value that indicates the tweak is applied.
	Expected string

	// Kind tags how Expected compares.
	Kind catalog.ValueKind

	// Critical marks the check as load-bearing for the verdict.
	Critical bool
}

// NewChecklistDetector builds a SpecialDetector that scores a list of
// config-store checks with a majority-of-critical rule: applied when the
// matched critical count reaches max(1, criticalTotal-1) and at least 75%
// of all checks match. Confidence scales with the matched fraction and is
// capped at 0.95 because multi-location detection is never certain.
func NewChecklistDetector(checks []WellKnownCheck) SpecialDetector {
	return func(ctx context.Context, probe SystemProbe, tweak *catalog.Tweak) (TweakStatus, error) {
		if len(checks) == 0 {
			return TweakStatus{}, NewConfigurationError("checklist detector has no checks", nil)
		}

		var matched, criticalMatched, criticalTotal int
		var failures []string
		for _, check := range checks {
			if check.Critical {
				criticalTotal++
			}
			value, found, err := probe.GetConfigValue(ctx, check.Scope, check.KeyPath, check.ValueName)
			if err != nil {
				return TweakStatus{}, err
			}
			if found && valuesEqual(value, check.Expected, check.Kind) {
				matched++
				if check.Critical {
					criticalMatched++
				}
				continue
			}
			actual := "<absent>"
			if found {
				actual = value.String()
			}
			failures = append(failures, fmt.Sprintf("%s:%s!%s=%s", check.Scope, check.KeyPath, check.ValueName, actual))
		}

		fraction := float64(matched) / float64(len(checks))
		requiredCritical := criticalTotal - 1
		if requiredCritical < 1 {
			requiredCritical = 1
		}
		applied := criticalMatched >= requiredCritical && fraction >= 0.75

		confidence := 0.6 + fraction*0.35
		if confidence > 0.95 {
			confidence = 0.95
		}

		message := fmt.Sprintf("%d of %d checks matched", matched, len(checks))
		if len(failures) > 0 {
			message += "; unmatched: " + strings.Join(failures, ", ")
		}

		return TweakStatus{
			IsApplied:           applied,
			CanDetect:           true,
			DetectionConfidence: confidence,
			StatusMessage:       message,
		}, nil
	}
}

// RegisterBuiltinDetectors installs the bespoke detectors for the tweak
// ids whose real-world detection spans several config locations.
func RegisterBuiltinDetectors(d *RuleDetector) {
	d.RegisterSpecialDetector("dark-mode", NewChecklistDetector([]WellKnownCheck{
		{
			Scope:     catalog.ScopeUser,
			KeyPath:   "themes/personalize",
			ValueName: "apps_use_light_theme",
			Expected:  "0",
			Kind:      catalog.ValueKindDWord,
			Critical:  true,
		},
		{
			Scope:     catalog.ScopeUser,
			KeyPath:   "themes/personalize",
			ValueName: "system_uses_light_theme",
			Expected:  "0",
			Kind:      catalog.ValueKindDWord,
			Critical:  true,
		},
	}))

	d.RegisterSpecialDetector("disable-telemetry", NewChecklistDetector([]WellKnownCheck{
		{
			Scope:     catalog.ScopeMachine,
			KeyPath:   "policies/data-collection",
			ValueName: "allow_telemetry",
			Expected:  "0",
			Kind:      catalog.ValueKindDWord,
			Critical:  true,
		},
		{
			Scope:     catalog.ScopeMachine,
			KeyPath:   "data-collection",
			ValueName: "allow_telemetry",
			Expected:  "0",
			Kind:      catalog.ValueKindDWord,
			Critical:  true,
		},
		{
			Scope:     catalog.ScopeMachine,
			KeyPath:   "policies/app-compat",
			ValueName: "ait_enable",
			Expected:  "0",
			Kind:      catalog.ValueKindDWord,
			Critical:  false,
		},
		{
			Scope:     catalog.ScopeUser,
			KeyPath:   "privacy/tailored-experiences",
			ValueName: "tailored_experiences_with_diagnostic_data",
			Expected:  "0",
			Kind:      catalog.ValueKindDWord,
			Critical:  false,
		},
	}))

	d.RegisterSpecialDetector("end-task-on-taskbar", NewChecklistDetector([]WellKnownCheck{
		{
			Scope:     catalog.ScopeUser,
			KeyPath:   "taskbar/developer-settings",
			ValueName: "taskbar_end_task",
			Expected:  "1",
			Kind:      catalog.ValueKindDWord,
			Critical:  true,
		},
	}))
}
