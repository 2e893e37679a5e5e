package policy

import "time"

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block execution.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be bypassed.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// TweakID is the tweak that violated the policy.
	TweakID string `json:"tweak_id,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Blocking reports whether the violation should stop execution.
func (v *Violation) Blocking() bool {
	return v.Severity == SeverityError || v.Severity == SeverityCritical
}

// Result represents the result of evaluating a batch against all loaded
// policies.
type Result struct {
	// Allowed indicates if the batch may execute.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies whose evaluation itself failed.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// TweakInput is the per-tweak view handed to Rego policies.
type TweakInput struct {
	// ID is the tweak identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Category is the catalog category, lower-cased.
	Category string `json:"category"`

	// Severity is the tweak's risk level.
	Severity string `json:"severity"`

	// Tags are the tweak's labels.
	Tags []string `json:"tags,omitempty"`

	// OperationCount is the total number of apply operations.
	OperationCount int `json:"operation_count"`

	// HasElevatedScript reports whether any script runs elevated.
	HasElevatedScript bool `json:"has_elevated_script"`

	// Reversible reports whether the tweak can be undone.
	Reversible bool `json:"reversible"`
}

// Input is the evaluation input for one tweak within a batch.
type Input struct {
	// Action is "apply" or "revert".
	Action string `json:"action"`

	// Tweak is the tweak under evaluation.
	Tweak *TweakInput `json:"tweak"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// BatchSize is how many tweaks are in the batch.
	BatchSize int `json:"batch_size"`
}
