// Package catalog defines the declarative shape of a tweak: identity,
// metadata, operation sets, and detection rules. Catalog entries are
// constructed once by a Provider at load time and are immutable from the
// engine's perspective, except for the original-state capture fields that
// the execution engine populates before the first mutation.
package catalog

import (
	"fmt"
	"strings"
)

// Severity ranks how disruptive a tweak is if misapplied.
type Severity string

const (
	// SeverityLow marks cosmetic or trivially reversible tweaks.
	SeverityLow Severity = "low"

	// SeverityMedium marks tweaks that change user-visible behavior.
	SeverityMedium Severity = "medium"

	// SeverityHigh marks tweaks that affect system services or security posture.
	SeverityHigh Severity = "high"

	// SeverityCritical marks tweaks that can render the system unusable if wrong.
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity, lowest first.
// Unknown severities rank above critical so they are never under-counted.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 4
	}
}

// Validate checks that the severity is a known value.
func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", string(s))
	}
}

// ParseSeverity parses a severity tag case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if err := sev.Validate(); err != nil {
		return "", err
	}
	return sev, nil
}

// OperationSet holds the four ordered operation sequences that realize a
// tweak's effect. Each sequence is independently optional. Order within and
// across sequences is significant: apply runs config, service, script, file;
// revert runs the exact reverse.
type OperationSet struct {
	// Config are the config-store operations, executed first on apply.
	Config []ConfigOperation `json:"config_operations,omitempty"`

	// Service are the service-control operations.
	Service []ServiceOperation `json:"service_operations,omitempty"`

	// Script are the script executions.
	Script []ScriptOperation `json:"script_operations,omitempty"`

	// File are the filesystem operations, executed last on apply.
	File []FileOperation `json:"file_operations,omitempty"`
}

// IsEmpty reports whether the set contains no operations at all.
func (s *OperationSet) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.Config) == 0 && len(s.Service) == 0 && len(s.Script) == 0 && len(s.File) == 0
}

// Count returns the total number of operations across all sequences.
func (s *OperationSet) Count() int {
	if s == nil {
		return 0
	}
	return len(s.Config) + len(s.Service) + len(s.Script) + len(s.File)
}

// Tweak is a named, versioned, declarative unit describing a reversible
// system configuration change.
type Tweak struct {
	// ID uniquely identifies the tweak. Comparison is case-insensitive.
	ID string `json:"id" validate:"required"`

	// Name is the human-readable display name.
	Name string `json:"name" validate:"required"`

	// Description explains what the tweak changes and why.
	Description string `json:"description,omitempty"`

	// Category is the top-level grouping (e.g. "privacy", "performance").
	Category string `json:"category,omitempty"`

	// SubCategory is an optional finer grouping within the category.
	SubCategory string `json:"sub_category,omitempty"`

	// Severity ranks how disruptive the tweak is.
	Severity Severity `json:"severity" validate:"required"`

	// RequiresRestart indicates a restart is needed for full effect.
	RequiresRestart bool `json:"requires_restart,omitempty"`

	// IsReversible indicates the tweak can be reverted. A reversible tweak
	// should carry an Undo set; absence degrades revert per operation type.
	IsReversible bool `json:"is_reversible"`

	// Tags are free-form labels for filtering.
	Tags []string `json:"tags,omitempty"`

	// Source identifies where the tweak definition came from.
	Source string `json:"source,omitempty"`

	// Version is the definition version string.
	Version string `json:"version,omitempty"`

	// Apply is the operation set that puts the tweak into effect.
	Apply OperationSet `json:"apply"`

	// Undo is the optional operation set that reverses the tweak.
	Undo *OperationSet `json:"undo,omitempty"`

	// Detection is the optional rule set used to decide whether the tweak
	// is currently in effect.
	Detection *DetectionRuleSet `json:"detection,omitempty"`
}

// HasTag reports whether the tweak carries the given tag, case-insensitively.
func (t *Tweak) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if strings.EqualFold(have, tag) {
			return true
		}
	}
	return false
}

// NormalizeID returns the canonical form of a tweak identifier used for
// map keys and equality checks.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
