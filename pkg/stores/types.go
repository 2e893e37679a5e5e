package stores

import "time"

// RunSummary is one persisted batch run, without per-tweak results.
type RunSummary struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	TweakCount  int       `json:"tweak_count"`
	FailedCount int       `json:"failed_count"`
}

// RunResultRow is one persisted per-tweak outcome within a run.
type RunResultRow struct {
	RunID             string   `json:"run_id"`
	TweakID           string   `json:"tweak_id"`
	Success           bool     `json:"success"`
	ErrorMessage      string   `json:"error_message,omitempty"`
	AppliedOperations int      `json:"applied_operations"`
	FailedOperations  int      `json:"failed_operations"`
	RequiresRestart   bool     `json:"requires_restart"`
	ExecutionMillis   int64    `json:"execution_ms"`
	Messages          []string `json:"messages,omitempty"`
}
