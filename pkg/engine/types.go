// Package engine implements the tweak detection and execution engines:
// rule evaluation producing applied/not-applied verdicts with confidence,
// ordered operation execution with capture-based revert, and the state
// coordinator that caches scan results and tracks pending changes.
package engine

import (
	"time"
)

// TweakStatus is the detection verdict for a single tweak. Produced fresh
// on each detection call; the coordinator caches it with a bounded TTL.
type TweakStatus struct {
	// TweakID identifies the tweak this status belongs to.
	TweakID string `json:"tweak_id"`

	// IsApplied is the applied/not-applied verdict.
	IsApplied bool `json:"is_applied"`

	// CanDetect reports whether the verdict came from an actual probe of
	// system state. False means the verdict is assumed, not observed.
	CanDetect bool `json:"can_detect"`

	// DetectionConfidence is how trustworthy the verdict is, in [0,1].
	DetectionConfidence float64 `json:"detection_confidence"`

	// StatusMessage explains the verdict to the user.
	StatusMessage string `json:"status_message,omitempty"`

	// LastChecked is when the detection ran, in UTC.
	LastChecked time.Time `json:"last_checked"`
}

// TweakResult is the outcome of one apply or revert call. It is purely a
// return value and is never persisted by the engine itself; the optional
// history store records batch runs separately.
type TweakResult struct {
	// Success is false only when a call-aborting condition occurred
	// (permission, cancellation, non-reversible) or an unrecoverable
	// error was raised. Individual operation failures are recorded in
	// FailedOperations without flipping Success.
	Success bool `json:"success"`

	// ErrorMessage describes the failure when Success is false.
	ErrorMessage string `json:"error_message,omitempty"`

	// Err is the underlying classified error, if any.
	Err error `json:"-"`

	// AppliedOperations describes each operation that completed, in order.
	AppliedOperations []string `json:"applied_operations,omitempty"`

	// FailedOperations describes each operation that failed, in order.
	FailedOperations []string `json:"failed_operations,omitempty"`

	// RequiresRestart mirrors the tweak's restart requirement.
	RequiresRestart bool `json:"requires_restart,omitempty"`

	// ExecutionTime is the wall-clock duration of the whole call.
	ExecutionTime time.Duration `json:"execution_time"`

	// Messages carries additional human-readable notes.
	Messages []string `json:"messages,omitempty"`
}

// PendingAction is a user-declared intent for a tweak.
type PendingAction string

const (
	// ActionApply requests that the tweak be applied.
	ActionApply PendingAction = "apply"

	// ActionRevert requests that the tweak be reverted.
	ActionRevert PendingAction = "revert"
)

// Validate checks that the action is a known value.
func (a PendingAction) Validate() error {
	switch a {
	case ActionApply, ActionRevert:
		return nil
	default:
		return NewConfigurationError("invalid pending action: "+string(a), nil)
	}
}

// PendingChange is a not-yet-executed apply or revert intent for a tweak.
// At most one pending change exists per tweak id; setting a new one
// replaces the old. Pending changes are in-memory session state only.
type PendingChange struct {
	// TweakID identifies the target tweak.
	TweakID string `json:"tweak_id"`

	// TweakName is a denormalized display-name snapshot.
	TweakName string `json:"tweak_name"`

	// Action is the requested action.
	Action PendingAction `json:"action"`

	// AddedAt is when the intent was recorded.
	AddedAt time.Time `json:"added_at"`
}

// Progress reports batch execution progress to a sink after each item.
type Progress struct {
	// TotalCount is the number of tweaks in the batch.
	TotalCount int `json:"total_count"`

	// CompletedCount is how many tweaks have finished.
	CompletedCount int `json:"completed_count"`

	// CurrentName is the display name of the tweak just processed.
	CurrentName string `json:"current_name"`

	// CurrentPhase is "apply" or "revert".
	CurrentPhase string `json:"current_phase"`
}

// ProgressFunc receives batch progress updates. Implementations must not
// block; the engine calls it inline between tweaks.
type ProgressFunc func(Progress)

// Options configures execution engine behavior.
type Options struct {
	// SkipAlreadyApplied short-circuits apply when detection reports the
	// tweak already applied with CanDetect true. Enabled by default.
	// Disabling forces re-application, which can repair partial state.
	SkipAlreadyApplied bool

	// ForUser redirects user-scope config operations to another account's
	// hive, keyed by that account's stable identifier. Only honored when
	// running elevated; empty targets the current user.
	ForUser string

	// DefaultScriptTimeout bounds script operations that declare no
	// timeout of their own.
	DefaultScriptTimeout time.Duration
}

// DefaultOptions returns the default execution options.
func DefaultOptions() Options {
	return Options{
		SkipAlreadyApplied:   true,
		DefaultScriptTimeout: 60 * time.Second,
	}
}

// Clock abstracts time for the coordinator so cache TTL behavior is
// testable with a fake clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return ClockFunc(time.Now)
}
