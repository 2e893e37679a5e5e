package engine

import (
	"context"
	"time"

	"github.com/opentweak/opentweak/pkg/catalog"
)

// Detector evaluates whether tweaks are currently in effect.
// Evaluation never returns an error: failures are absorbed into the
// returned status via the rule set's fallback behavior.
type Detector interface {
	// Evaluate produces the detection verdict for one tweak.
	Evaluate(ctx context.Context, tweak *catalog.Tweak) TweakStatus

	// EvaluateBatch evaluates several tweaks, keyed by normalized id.
	EvaluateBatch(ctx context.Context, tweaks []catalog.Tweak) map[string]TweakStatus

	// ScanAll evaluates several tweaks, preserving input order.
	ScanAll(ctx context.Context, tweaks []catalog.Tweak) []TweakStatus
}

// Executor applies and reverts tweaks against the system.
// Calls return a structured TweakResult for steady-state failure modes
// rather than an error; the result's Err field carries the classified
// error when Success is false.
type Executor interface {
	// Apply puts the tweak into effect.
	Apply(ctx context.Context, tweak *catalog.Tweak) TweakResult

	// Revert undoes the tweak using its undo set, or the reversed apply
	// sequence with captured original state.
	Revert(ctx context.Context, tweak *catalog.Tweak) TweakResult

	// ApplyBatch applies tweaks sequentially in the given order, reporting
	// progress after each item. Cancellation stops the batch; results for
	// completed tweaks are returned, keyed by normalized id.
	ApplyBatch(ctx context.Context, tweaks []catalog.Tweak, progress ProgressFunc) map[string]TweakResult

	// RevertBatch is the revert counterpart of ApplyBatch.
	RevertBatch(ctx context.Context, tweaks []catalog.Tweak, progress ProgressFunc) map[string]TweakResult
}

// ServiceInfo is the observed state of a system service.
type ServiceInfo struct {
	// Running reports whether the service is currently active.
	Running bool `json:"running"`

	// StartupType is the service's startup configuration.
	StartupType catalog.ServiceStartupType `json:"startup_type"`
}

// ScriptOutput is the captured result of a script execution.
type ScriptOutput struct {
	// ExitCode is the process exit code.
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output. Empty for elevated runs,
	// which cannot redirect output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// TimedOut reports whether the process was killed on timeout.
	TimedOut bool `json:"timed_out,omitempty"`
}

// SystemProbe reads system state for the detection engine. All reads are
// allowed to report "not found" as a non-match (found=false, nil error);
// a non-nil error is reserved for probe infrastructure failures and
// triggers the rule set's fallback behavior.
type SystemProbe interface {
	// GetConfigValue reads a config-store value.
	GetConfigValue(ctx context.Context, scope catalog.ConfigScope, keyPath, valueName string) (catalog.Value, bool, error)

	// ConfigKeyExists checks that a config-store key exists.
	ConfigKeyExists(ctx context.Context, scope catalog.ConfigScope, keyPath string) (bool, error)

	// ServiceStatus reads a service's run state and startup type.
	ServiceStatus(ctx context.Context, name string) (ServiceInfo, bool, error)

	// FileExists checks that a file or directory exists.
	FileExists(ctx context.Context, path string) (bool, error)

	// RunDiagnosticScript runs a read-only script and captures its output.
	RunDiagnosticScript(ctx context.Context, script string, timeout time.Duration) (ScriptOutput, error)
}

// ConfigTarget locates a config-store key or value for mutation. User
// carries the stable identifier of the account to act on behalf of; empty
// means the current user.
type ConfigTarget struct {
	Scope     catalog.ConfigScope `json:"scope"`
	KeyPath   string              `json:"key_path"`
	ValueName string              `json:"value_name,omitempty"`
	User      string              `json:"user,omitempty"`
}

// SystemMutator performs the actual system effects for the execution
// engine. Reads are included so the engine can capture original state
// before mutating, which is what makes revert possible.
type SystemMutator interface {
	// Elevated reports whether the process runs with elevated privileges.
	Elevated() bool

	// GetConfigValue reads a value for original-state capture.
	GetConfigValue(ctx context.Context, target ConfigTarget) (catalog.Value, bool, error)

	// ConfigKeyExists checks key existence for original-state capture.
	ConfigKeyExists(ctx context.Context, target ConfigTarget) (bool, error)

	// SetConfigValue writes a value, creating the key if needed.
	SetConfigValue(ctx context.Context, target ConfigTarget, value catalog.Value, kind catalog.ValueKind) error

	// DeleteConfigValue removes a single value.
	DeleteConfigValue(ctx context.Context, target ConfigTarget) error

	// DeleteConfigKey removes a key and everything under it.
	DeleteConfigKey(ctx context.Context, target ConfigTarget) error

	// CreateConfigKey creates an empty key.
	CreateConfigKey(ctx context.Context, target ConfigTarget) error

	// ServiceStartupType reads a service's startup type for capture.
	ServiceStartupType(ctx context.Context, name string) (catalog.ServiceStartupType, bool, error)

	// StartService starts a service.
	StartService(ctx context.Context, name string) error

	// StopService stops a service.
	StopService(ctx context.Context, name string) error

	// EnableService enables a service to start.
	EnableService(ctx context.Context, name string) error

	// DisableService stops and disables a service.
	DisableService(ctx context.Context, name string) error

	// SetServiceStartupType changes a service's startup configuration.
	SetServiceStartupType(ctx context.Context, name string, startupType catalog.ServiceStartupType) error

	// RunScript runs a script with a bounded timeout. On expiry the
	// process is killed and the output reports TimedOut.
	RunScript(ctx context.Context, script string, elevated bool, timeout time.Duration) (ScriptOutput, error)

	// DeleteFile removes a file, or a directory recursively.
	DeleteFile(ctx context.Context, path string) error

	// CreateFile writes a file, optionally creating parent directories.
	CreateFile(ctx context.Context, path, content string, createDirectories bool) error

	// CreateDirectory creates a directory including parents.
	CreateDirectory(ctx context.Context, path string) error

	// CopyFile copies a file, used for pre-mutation backups.
	CopyFile(ctx context.Context, src, dst string) error
}

// SpecialDetector is a bespoke detector for one well-known tweak id,
// consulted before generic rule evaluation. A non-nil error makes the
// engine fall through to the generic evaluator.
type SpecialDetector func(ctx context.Context, probe SystemProbe, tweak *catalog.Tweak) (TweakStatus, error)

// RunRecord summarizes one executed batch for the history store.
type RunRecord struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Action is apply or revert.
	Action PendingAction `json:"action"`

	// StartedAt and CompletedAt bound the batch, in UTC.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Results holds the per-tweak outcomes, keyed by normalized id.
	Results map[string]TweakResult `json:"results"`
}

// HistoryStore persists batch run records. Optional; a nil store disables
// history recording.
type HistoryStore interface {
	// RecordRun persists one batch run.
	RecordRun(ctx context.Context, run *RunRecord) error
}
