package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

// TweakExecutor runs apply and revert operation batches against a
// SystemMutator. Individual operation failures are recorded and execution
// continues with the next operation; only permission, cancellation, and
// non-reversible conditions abort a call. Nothing is transactional: an
// aborted call leaves already-executed operations in place.
type TweakExecutor struct {
	mutator  SystemMutator
	detector Detector
	history  HistoryStore
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	options  Options
}

// NewTweakExecutor creates an executor. The detector enables the
// already-applied short-circuit and may be nil; the history store records
// batch runs and may be nil.
func NewTweakExecutor(mutator SystemMutator, detector Detector, history HistoryStore, logger *telemetry.Logger, metrics *telemetry.Metrics, options Options) *TweakExecutor {
	if options.DefaultScriptTimeout <= 0 {
		options.DefaultScriptTimeout = DefaultOptions().DefaultScriptTimeout
	}
	return &TweakExecutor{
		mutator:  mutator,
		detector: detector,
		history:  history,
		logger:   logger.NewComponentLogger("executor"),
		metrics:  metrics,
		options:  options,
	}
}

// runState accumulates per-operation outcomes for one apply or revert call.
type runState struct {
	applied  []string
	failed   []string
	messages []string
}

func (r *runState) ok(desc string) {
	r.applied = append(r.applied, desc)
}

func (r *runState) fail(desc string, err error) {
	r.failed = append(r.failed, fmt.Sprintf("%s: %v", desc, err))
}

func (r *runState) note(msg string) {
	r.messages = append(r.messages, msg)
}

// Apply puts the tweak into effect.
func (t *TweakExecutor) Apply(ctx context.Context, tweak *catalog.Tweak) TweakResult {
	start := time.Now()
	result := t.apply(ctx, tweak)
	result.ExecutionTime = time.Since(start)
	t.record("apply", tweak, &result)
	return result
}

func (t *TweakExecutor) apply(ctx context.Context, tweak *catalog.Tweak) TweakResult {
	log := t.logger.WithTweakID(tweak.ID).WithOperation("apply")

	if t.options.SkipAlreadyApplied && t.detector != nil {
		status := t.detector.Evaluate(ctx, tweak)
		if status.CanDetect && status.IsApplied {
			log.Debug("tweak already applied, skipping")
			return TweakResult{
				Success:  true,
				Messages: []string{"already applied, no operations executed"},
			}
		}
	}

	if err := t.checkPrivileges(tweak, &tweak.Apply); err != nil {
		log.WithError(err).Warn("apply refused")
		return failedResult(err)
	}

	state := &runState{}
	err := t.executeForward(ctx, &tweak.Apply, state)
	return t.finish(tweak, state, err)
}

// Revert undoes the tweak. With an explicit undo set the undo operations
// run through the forward path in their own declared order; without one
// the apply sequences run fully reversed, restoring captured original
// state where it exists.
func (t *TweakExecutor) Revert(ctx context.Context, tweak *catalog.Tweak) TweakResult {
	start := time.Now()
	result := t.revert(ctx, tweak)
	result.ExecutionTime = time.Since(start)
	t.record("revert", tweak, &result)
	return result
}

func (t *TweakExecutor) revert(ctx context.Context, tweak *catalog.Tweak) TweakResult {
	log := t.logger.WithTweakID(tweak.ID).WithOperation("revert")

	if !tweak.IsReversible {
		err := NewNotReversibleError("tweak is marked non-reversible").WithTweak(tweak.ID).WithCode(ErrCodeNotReversible)
		log.WithError(err).Warn("revert refused")
		return failedResult(err)
	}

	state := &runState{}
	if !tweak.Undo.IsEmpty() {
		if err := t.checkPrivileges(tweak, tweak.Undo); err != nil {
			log.WithError(err).Warn("revert refused")
			return failedResult(err)
		}
		err := t.executeForward(ctx, tweak.Undo, state)
		return t.finish(tweak, state, err)
	}

	if err := t.checkPrivileges(tweak, &tweak.Apply); err != nil {
		log.WithError(err).Warn("revert refused")
		return failedResult(err)
	}
	err := t.executeReverse(ctx, &tweak.Apply, state)
	return t.finish(tweak, state, err)
}

// ApplyBatch applies tweaks sequentially, reporting progress after each
// item. Cancellation between tweaks stops the batch; results for tweaks
// already processed are returned unchanged.
func (t *TweakExecutor) ApplyBatch(ctx context.Context, tweaks []catalog.Tweak, progress ProgressFunc) map[string]TweakResult {
	return t.runBatch(ctx, tweaks, progress, "apply", t.Apply)
}

// RevertBatch is the revert counterpart of ApplyBatch.
func (t *TweakExecutor) RevertBatch(ctx context.Context, tweaks []catalog.Tweak, progress ProgressFunc) map[string]TweakResult {
	return t.runBatch(ctx, tweaks, progress, "revert", t.Revert)
}

func (t *TweakExecutor) runBatch(ctx context.Context, tweaks []catalog.Tweak, progress ProgressFunc, phase string, run func(context.Context, *catalog.Tweak) TweakResult) map[string]TweakResult {
	if t.metrics != nil {
		t.metrics.RecordBatchStarted(phase)
	}
	started := time.Now().UTC()
	results := make(map[string]TweakResult, len(tweaks))
	batchStatus := "completed"

	for i := range tweaks {
		if ctx.Err() != nil {
			t.logger.WithOperation(phase).Info("batch cancelled")
			batchStatus = "cancelled"
			break
		}
		tweak := &tweaks[i]
		results[catalog.NormalizeID(tweak.ID)] = run(ctx, tweak)
		if progress != nil {
			progress(Progress{
				TotalCount:     len(tweaks),
				CompletedCount: len(results),
				CurrentName:    tweak.Name,
				CurrentPhase:   phase,
			})
		}
	}

	if t.metrics != nil {
		t.metrics.RecordBatchCompleted(phase, batchStatus)
	}
	t.recordRun(ctx, phase, started, results)
	return results
}

// recordRun persists the batch outcome when a history store is attached.
func (t *TweakExecutor) recordRun(ctx context.Context, phase string, started time.Time, results map[string]TweakResult) {
	if t.history == nil || len(results) == 0 {
		return
	}
	action := ActionApply
	if phase == "revert" {
		action = ActionRevert
	}
	run := &RunRecord{
		ID:          uuid.NewString(),
		Action:      action,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
		Results:     results,
	}
	// History is best effort; the batch outcome stands regardless.
	if err := t.history.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		t.logger.WithError(err).Warn("failed to record run history")
	}
}

// checkPrivileges fails fast when the operation set needs elevation the
// process does not have. Machine-scope config writes, service control, and
// script execution all require elevation.
func (t *TweakExecutor) checkPrivileges(tweak *catalog.Tweak, set *catalog.OperationSet) error {
	if t.mutator.Elevated() {
		return nil
	}
	needed := len(set.Service) > 0 || len(set.Script) > 0
	if !needed {
		for i := range set.Config {
			if set.Config[i].Scope == catalog.ScopeMachine {
				needed = true
				break
			}
		}
	}
	if needed {
		return NewPermissionError("elevated privileges required", nil).
			WithTweak(tweak.ID).
			WithCode(ErrCodePermissionDenied)
	}
	return nil
}

// finish folds the accumulated state and terminal error into a result.
func (t *TweakExecutor) finish(tweak *catalog.Tweak, state *runState, err error) TweakResult {
	result := TweakResult{
		Success:           err == nil,
		AppliedOperations: state.applied,
		FailedOperations:  state.failed,
		RequiresRestart:   tweak.RequiresRestart,
		Messages:          state.messages,
	}
	if err != nil {
		result.Err = err
		result.ErrorMessage = err.Error()
	}
	if len(state.failed) > 0 {
		result.Messages = append(result.Messages,
			fmt.Sprintf("%d of %d operations failed", len(state.failed), len(state.failed)+len(state.applied)))
	}
	return result
}

func failedResult(err error) TweakResult {
	return TweakResult{
		Success:      false,
		Err:          err,
		ErrorMessage: err.Error(),
	}
}

func (t *TweakExecutor) record(action string, tweak *catalog.Tweak, result *TweakResult) {
	status := "succeeded"
	if !result.Success {
		status = "failed"
		if result.Err != nil && t.metrics != nil {
			t.metrics.RecordError(string(ClassOf(result.Err)))
		}
	}
	if t.metrics != nil {
		t.metrics.RecordExecution(action, status, result.ExecutionTime)
	}
	t.logger.WithTweakID(tweak.ID).WithOperation(action).
		WithField("status", status).
		WithField("applied_ops", len(result.AppliedOperations)).
		WithField("failed_ops", len(result.FailedOperations)).
		Debug("execution finished")
}

// checkCancelled observes cooperative cancellation at operation boundaries.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewCancelledError("operation cancelled", err).WithCode(ErrCodeCancelled)
	}
	return nil
}

// executeForward runs an operation set in apply order: config, service,
// script, file, each sequence in declared order.
func (t *TweakExecutor) executeForward(ctx context.Context, set *catalog.OperationSet, state *runState) error {
	for i := range set.Config {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		t.applyConfigOp(ctx, &set.Config[i], state)
	}
	for i := range set.Service {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		t.applyServiceOp(ctx, &set.Service[i], state)
	}
	for i := range set.Script {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		t.runScriptOp(ctx, set.Script[i].Script, &set.Script[i], state)
	}
	for i := range set.File {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		t.applyFileOp(ctx, &set.File[i], state)
	}
	return nil
}

// executeReverse runs an operation set fully reversed: file, script,
// service, config, each sequence in reverse declared order, restoring
// captured original state where possible.
func (t *TweakExecutor) executeReverse(ctx context.Context, set *catalog.OperationSet, state *runState) error {
	for i := len(set.File) - 1; i >= 0; i-- {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		t.revertFileOp(ctx, &set.File[i], state)
	}
	for i := len(set.Script) - 1; i >= 0; i-- {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		op := &set.Script[i]
		if op.RevertScript == "" {
			state.note(fmt.Sprintf("no revert script for %s, skipping", op.Describe()))
			continue
		}
		t.runScriptOp(ctx, op.RevertScript, op, state)
	}
	for i := len(set.Service) - 1; i >= 0; i-- {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		t.revertServiceOp(ctx, &set.Service[i], state)
	}
	for i := len(set.Config) - 1; i >= 0; i-- {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		t.revertConfigOp(ctx, &set.Config[i], state)
	}
	return nil
}

// configTarget resolves the hive redirection: user-scope operations run
// against another account's hive when the caller is elevated and acting on
// its behalf.
func (t *TweakExecutor) configTarget(op *catalog.ConfigOperation) ConfigTarget {
	target := ConfigTarget{
		Scope:     op.Scope,
		KeyPath:   op.KeyPath,
		ValueName: op.ValueName,
	}
	if op.Scope == catalog.ScopeUser && t.options.ForUser != "" && t.mutator.Elevated() {
		target.User = t.options.ForUser
	}
	return target
}

// captureConfigOriginal records the pre-mutation state of a config target
// exactly once, so revert can restore it.
func (t *TweakExecutor) captureConfigOriginal(ctx context.Context, op *catalog.ConfigOperation, target ConfigTarget) error {
	if op.ExistedBefore != nil {
		return nil
	}
	switch op.Kind {
	case catalog.ConfigOpSetValue, catalog.ConfigOpDeleteValue:
		value, found, err := t.mutator.GetConfigValue(ctx, target)
		if err != nil {
			return err
		}
		op.ExistedBefore = &found
		if found {
			original := value
			op.OriginalValue = &original
		}
	case catalog.ConfigOpDeleteKey, catalog.ConfigOpCreateKey:
		exists, err := t.mutator.ConfigKeyExists(ctx, target)
		if err != nil {
			return err
		}
		op.ExistedBefore = &exists
	}
	return nil
}

func (t *TweakExecutor) applyConfigOp(ctx context.Context, op *catalog.ConfigOperation, state *runState) {
	desc := op.Describe()
	target := t.configTarget(op)

	if err := t.captureConfigOriginal(ctx, op, target); err != nil {
		t.opResult("config", desc, err, state)
		return
	}

	var err error
	switch op.Kind {
	case catalog.ConfigOpSetValue:
		err = t.mutator.SetConfigValue(ctx, target, op.Value, op.ValueKind)
	case catalog.ConfigOpDeleteValue:
		err = t.mutator.DeleteConfigValue(ctx, target)
	case catalog.ConfigOpDeleteKey:
		err = t.mutator.DeleteConfigKey(ctx, target)
	case catalog.ConfigOpCreateKey:
		err = t.mutator.CreateConfigKey(ctx, target)
	default:
		err = NewConfigurationError("unknown config operation kind", nil)
	}
	t.opResult("config", desc, err, state)
}

func (t *TweakExecutor) revertConfigOp(ctx context.Context, op *catalog.ConfigOperation, state *runState) {
	target := t.configTarget(op)

	switch op.Kind {
	case catalog.ConfigOpSetValue, catalog.ConfigOpDeleteValue:
		if op.OriginalValue != nil {
			desc := fmt.Sprintf("restore %s:%s!%s = %s", op.Scope, op.KeyPath, op.ValueName, op.OriginalValue.String())
			err := t.mutator.SetConfigValue(ctx, target, *op.OriginalValue, op.ValueKind)
			t.opResult("config", desc, err, state)
			return
		}
		if op.ExistedBefore != nil && !*op.ExistedBefore && op.Kind == catalog.ConfigOpSetValue {
			desc := fmt.Sprintf("delete value %s:%s!%s created by apply", op.Scope, op.KeyPath, op.ValueName)
			err := t.mutator.DeleteConfigValue(ctx, target)
			t.opResult("config", desc, err, state)
			return
		}
		state.note(fmt.Sprintf("no original state captured for %s, leaving as-is", op.Describe()))
	case catalog.ConfigOpCreateKey:
		if op.ExistedBefore != nil && !*op.ExistedBefore {
			desc := fmt.Sprintf("delete key %s:%s created by apply", op.Scope, op.KeyPath)
			err := t.mutator.DeleteConfigKey(ctx, target)
			t.opResult("config", desc, err, state)
			return
		}
		state.note(fmt.Sprintf("key %s:%s existed before apply, leaving as-is", op.Scope, op.KeyPath))
	case catalog.ConfigOpDeleteKey:
		// Deleted keys carry subkeys and values that were never captured.
		state.note(fmt.Sprintf("cannot restore deleted key %s:%s", op.Scope, op.KeyPath))
	}
}

func (t *TweakExecutor) applyServiceOp(ctx context.Context, op *catalog.ServiceOperation, state *runState) {
	desc := op.Describe()

	// Capture the startup type before anything that changes it.
	changesStartup := op.Kind == catalog.ServiceOpDisable || op.Kind == catalog.ServiceOpEnable || op.Kind == catalog.ServiceOpSetStartupType
	if changesStartup && op.OriginalStartupType == nil {
		if startup, found, err := t.mutator.ServiceStartupType(ctx, op.Name); err == nil && found {
			original := startup
			op.OriginalStartupType = &original
		}
	}

	var err error
	switch op.Kind {
	case catalog.ServiceOpStop:
		err = t.mutator.StopService(ctx, op.Name)
	case catalog.ServiceOpStart:
		err = t.mutator.StartService(ctx, op.Name)
	case catalog.ServiceOpDisable:
		err = t.mutator.DisableService(ctx, op.Name)
	case catalog.ServiceOpEnable:
		err = t.mutator.EnableService(ctx, op.Name)
	case catalog.ServiceOpSetStartupType:
		err = t.mutator.SetServiceStartupType(ctx, op.Name, op.StartupType)
	default:
		err = NewConfigurationError("unknown service operation kind", nil)
	}
	t.opResult("service", desc, err, state)
}

func (t *TweakExecutor) revertServiceOp(ctx context.Context, op *catalog.ServiceOperation, state *runState) {
	var (
		desc string
		err  error
	)
	switch op.Kind {
	case catalog.ServiceOpStop:
		desc = fmt.Sprintf("start service %s", op.Name)
		err = t.mutator.StartService(ctx, op.Name)
	case catalog.ServiceOpStart:
		desc = fmt.Sprintf("stop service %s", op.Name)
		err = t.mutator.StopService(ctx, op.Name)
	case catalog.ServiceOpDisable:
		desc = fmt.Sprintf("enable service %s", op.Name)
		err = t.mutator.EnableService(ctx, op.Name)
	case catalog.ServiceOpEnable:
		desc = fmt.Sprintf("disable service %s", op.Name)
		err = t.mutator.DisableService(ctx, op.Name)
	case catalog.ServiceOpSetStartupType:
		if op.OriginalStartupType == nil {
			state.note(fmt.Sprintf("no original startup type captured for service %s, leaving as-is", op.Name))
			return
		}
		desc = fmt.Sprintf("restore startup type of service %s to %s", op.Name, *op.OriginalStartupType)
		err = t.mutator.SetServiceStartupType(ctx, op.Name, *op.OriginalStartupType)
	default:
		state.note(fmt.Sprintf("unknown service operation kind for %s, skipping", op.Name))
		return
	}
	t.opResult("service", desc, err, state)
}

func (t *TweakExecutor) runScriptOp(ctx context.Context, script string, op *catalog.ScriptOperation, state *runState) {
	desc := op.Describe()
	timeout := t.options.DefaultScriptTimeout
	if op.TimeoutSeconds > 0 {
		timeout = time.Duration(op.TimeoutSeconds) * time.Second
	}

	out, err := t.mutator.RunScript(ctx, script, op.RunElevated, timeout)
	if err != nil {
		t.opResult("script", desc, err, state)
		return
	}
	if out.TimedOut {
		t.opResult("script", desc, NewTimeoutError(
			fmt.Sprintf("script exceeded %s and was terminated", timeout), nil).WithCode(ErrCodeTimeout), state)
		return
	}
	if out.ExitCode != 0 {
		t.opResult("script", desc, fmt.Errorf("exit code %d: %s", out.ExitCode, firstLine(out.Stderr)), state)
		return
	}
	t.opResult("script", desc, nil, state)
}

func (t *TweakExecutor) applyFileOp(ctx context.Context, op *catalog.FileOperation, state *runState) {
	desc := op.Describe()

	if op.BackupPath != "" && op.Kind == catalog.FileOpDelete {
		if err := t.mutator.CopyFile(ctx, op.Path, op.BackupPath); err != nil {
			state.note(fmt.Sprintf("backup of %s failed: %v", op.Path, err))
		}
	}

	var err error
	switch op.Kind {
	case catalog.FileOpDelete:
		err = t.mutator.DeleteFile(ctx, op.Path)
	case catalog.FileOpCreateFile:
		err = t.mutator.CreateFile(ctx, op.Path, op.Content, op.CreateDirectories)
	case catalog.FileOpCreateDirectory:
		err = t.mutator.CreateDirectory(ctx, op.Path)
	case catalog.FileOpRename, catalog.FileOpSetAttributes, catalog.FileOpTakeOwnership:
		state.failed = append(state.failed, fmt.Sprintf("%s: not implemented", desc))
		if t.metrics != nil {
			t.metrics.RecordOperation("file", "unsupported")
		}
		return
	default:
		err = NewConfigurationError("unknown file operation kind", nil)
	}
	t.opResult("file", desc, err, state)
}

func (t *TweakExecutor) revertFileOp(ctx context.Context, op *catalog.FileOperation, state *runState) {
	switch op.Kind {
	case catalog.FileOpDelete:
		if op.BackupPath == "" {
			state.note(fmt.Sprintf("no backup for deleted path %s, cannot restore", op.Path))
			return
		}
		desc := fmt.Sprintf("restore %s from backup %s", op.Path, op.BackupPath)
		err := t.mutator.CopyFile(ctx, op.BackupPath, op.Path)
		t.opResult("file", desc, err, state)
	case catalog.FileOpCreateFile, catalog.FileOpCreateDirectory:
		desc := fmt.Sprintf("delete %s created by apply", op.Path)
		err := t.mutator.DeleteFile(ctx, op.Path)
		t.opResult("file", desc, err, state)
	default:
		state.note(fmt.Sprintf("no revert action for %s, skipping", op.Describe()))
	}
}

// opResult records one operation outcome and its metric.
func (t *TweakExecutor) opResult(opType, desc string, err error, state *runState) {
	if err != nil {
		state.fail(desc, err)
		if t.metrics != nil {
			t.metrics.RecordOperation(opType, "failed")
		}
		return
	}
	state.ok(desc)
	if t.metrics != nil {
		t.metrics.RecordOperation(opType, "succeeded")
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
