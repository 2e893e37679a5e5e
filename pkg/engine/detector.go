package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/telemetry"
)

// defaultDiagnosticTimeout bounds script detection rules that declare no
// timeout of their own.
const defaultDiagnosticTimeout = 30 * time.Second

// RuleDetector evaluates detection rule sets against a SystemProbe.
// Registered special detectors are consulted first, keyed by tweak id, so
// well-known tweaks with bespoke multi-location detection bypass the
// generic evaluator without modifying it.
type RuleDetector struct {
	probe   SystemProbe
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	special map[string]SpecialDetector
	clock   Clock
}

// NewRuleDetector creates a detector over the given probe.
func NewRuleDetector(probe SystemProbe, logger *telemetry.Logger, metrics *telemetry.Metrics) *RuleDetector {
	return &RuleDetector{
		probe:   probe,
		logger:  logger.NewComponentLogger("detector"),
		metrics: metrics,
		special: make(map[string]SpecialDetector),
		clock:   SystemClock(),
	}
}

// WithClock replaces the detector's clock. Intended for tests.
func (d *RuleDetector) WithClock(clock Clock) *RuleDetector {
	d.clock = clock
	return d
}

// RegisterSpecialDetector registers a bespoke detector for one tweak id,
// replacing any existing registration for that id.
func (d *RuleDetector) RegisterSpecialDetector(tweakID string, detector SpecialDetector) {
	d.special[catalog.NormalizeID(tweakID)] = detector
}

// Evaluate produces the detection verdict for one tweak.
func (d *RuleDetector) Evaluate(ctx context.Context, tweak *catalog.Tweak) TweakStatus {
	start := time.Now()
	status := d.evaluate(ctx, tweak)
	if d.metrics != nil {
		d.metrics.RecordDetection(verdictLabel(status), time.Since(start))
	}
	return status
}

func (d *RuleDetector) evaluate(ctx context.Context, tweak *catalog.Tweak) TweakStatus {
	now := d.clock.Now().UTC()

	if special, ok := d.special[catalog.NormalizeID(tweak.ID)]; ok {
		status, err := special(ctx, d.probe, tweak)
		if err == nil {
			status.TweakID = tweak.ID
			status.LastChecked = now
			return status
		}
		d.logger.WithTweakID(tweak.ID).WithError(err).Warn("special detector failed, falling back to rule evaluation")
	}

	if !tweak.Detection.HasRules() {
		return d.evaluateWithoutRules(ctx, tweak, now)
	}

	ruleSet := tweak.Detection
	outcomes := make([]ruleOutcome, 0, len(ruleSet.Rules))
	for i := range ruleSet.Rules {
		outcome, err := d.evaluateRule(ctx, &ruleSet.Rules[i])
		if err != nil {
			if IsConfiguration(err) {
				// A malformed rule fails locally without aborting siblings.
				outcomes = append(outcomes, ruleOutcome{
					matched:    false,
					confidence: 0,
					message:    err.Error(),
				})
				continue
			}
			// Probe infrastructure failure: the whole rule set cannot be
			// evaluated, so report the declared fallback verdict.
			d.logger.WithTweakID(tweak.ID).WithError(err).Warn("rule evaluation failed, using fallback")
			return TweakStatus{
				TweakID:             tweak.ID,
				IsApplied:           ruleSet.Fallback.Applied,
				CanDetect:           false,
				DetectionConfidence: ruleSet.Fallback.Confidence,
				StatusMessage:       fallbackMessage(ruleSet.Fallback.Message, err),
				LastChecked:         now,
			}
		}
		outcomes = append(outcomes, outcome)
	}

	matched, confidence, message := combineOutcomes(ruleSet.Logic, ruleSet.CustomLogic, outcomes, d.logger.WithTweakID(tweak.ID))
	return TweakStatus{
		TweakID:             tweak.ID,
		IsApplied:           matched,
		CanDetect:           true,
		DetectionConfidence: confidence,
		StatusMessage:       message,
		LastChecked:         now,
	}
}

// evaluateWithoutRules is the operation-presence heuristic used when a
// tweak declares no detection rules. With config apply operations present
// it compares each declared value against the store; otherwise the tweak
// is undetectable.
func (d *RuleDetector) evaluateWithoutRules(ctx context.Context, tweak *catalog.Tweak, now time.Time) TweakStatus {
	if len(tweak.Apply.Config) == 0 {
		return TweakStatus{
			TweakID:             tweak.ID,
			IsApplied:           false,
			CanDetect:           false,
			DetectionConfidence: 0,
			StatusMessage:       "no detection rules defined",
			LastChecked:         now,
		}
	}

	applied := true
	for i := range tweak.Apply.Config {
		op := &tweak.Apply.Config[i]
		if op.Kind != catalog.ConfigOpSetValue {
			continue
		}
		value, found, err := d.probe.GetConfigValue(ctx, op.Scope, op.KeyPath, op.ValueName)
		if err != nil || !found {
			applied = false
			break
		}
		expected, _ := op.Value.AsText()
		if !valuesEqual(value, expected, op.ValueKind) {
			applied = false
			break
		}
	}

	return TweakStatus{
		TweakID:             tweak.ID,
		IsApplied:           applied,
		CanDetect:           true,
		DetectionConfidence: 0.7,
		StatusMessage:       "basic analysis of configured operations",
		LastChecked:         now,
	}
}

// EvaluateBatch evaluates several tweaks, keyed by normalized id.
func (d *RuleDetector) EvaluateBatch(ctx context.Context, tweaks []catalog.Tweak) map[string]TweakStatus {
	out := make(map[string]TweakStatus, len(tweaks))
	for i := range tweaks {
		out[catalog.NormalizeID(tweaks[i].ID)] = d.Evaluate(ctx, &tweaks[i])
	}
	return out
}

// ScanAll evaluates several tweaks, preserving input order.
func (d *RuleDetector) ScanAll(ctx context.Context, tweaks []catalog.Tweak) []TweakStatus {
	out := make([]TweakStatus, 0, len(tweaks))
	for i := range tweaks {
		out = append(out, d.Evaluate(ctx, &tweaks[i]))
	}
	return out
}

// ruleOutcome is the per-rule evaluation tuple fed into combination.
type ruleOutcome struct {
	matched    bool
	confidence float64
	message    string
}

// evaluateRule resolves one rule's raw predicate against the probe and
// applies inversion. A missing target makes the raw predicate false, never
// an error; errors are reserved for malformed rules and probe failures.
func (d *RuleDetector) evaluateRule(ctx context.Context, rule *catalog.DetectionRule) (ruleOutcome, error) {
	var (
		raw    bool
		actual string
		err    error
	)

	switch catalog.ParseRuleType(string(rule.Type)) {
	case catalog.RuleConfigValue:
		raw, actual, err = d.evaluateConfigValueRule(ctx, rule)
	case catalog.RuleConfigKey:
		if rule.KeyPath == "" {
			return ruleOutcome{}, NewConfigurationError("config key rule is missing key_path", nil)
		}
		raw, err = d.probe.ConfigKeyExists(ctx, rule.Scope, rule.KeyPath)
		actual = strconv.FormatBool(raw)
	case catalog.RuleServiceState:
		raw, actual, err = d.evaluateServiceStateRule(ctx, rule)
	case catalog.RuleFileExists:
		if rule.FilePath == "" {
			return ruleOutcome{}, NewConfigurationError("file exists rule is missing file_path", nil)
		}
		raw, err = d.probe.FileExists(ctx, rule.FilePath)
		actual = strconv.FormatBool(raw)
	case catalog.RuleScript:
		raw, actual, err = d.evaluateScriptRule(ctx, rule)
	default:
		// An unrecognized type participates in combination as a non-match.
		return ruleOutcome{
			matched:    false,
			confidence: 0,
			message:    fmt.Sprintf("unknown rule type: %s", rule.Type),
		}, nil
	}
	if err != nil {
		return ruleOutcome{}, err
	}

	final := raw
	if rule.Inverted {
		final = !raw
	}

	message := rule.Message(final)
	if actual != "" {
		message = fmt.Sprintf("%s (actual: %s)", message, actual)
	}
	return ruleOutcome{
		matched:    final,
		confidence: rule.Confidence,
		message:    message,
	}, nil
}

func (d *RuleDetector) evaluateConfigValueRule(ctx context.Context, rule *catalog.DetectionRule) (bool, string, error) {
	if rule.KeyPath == "" {
		return false, "", NewConfigurationError("config value rule is missing key_path", nil)
	}
	value, found, err := d.probe.GetConfigValue(ctx, rule.Scope, rule.KeyPath, rule.ValueName)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "<absent>", nil
	}
	return valuesEqual(value, rule.ExpectedValue, rule.ValueKind), value.String(), nil
}

func (d *RuleDetector) evaluateServiceStateRule(ctx context.Context, rule *catalog.DetectionRule) (bool, string, error) {
	if rule.ServiceName == "" {
		return false, "", NewConfigurationError("service state rule is missing service_name", nil)
	}
	if err := rule.ExpectedState.Validate(); err != nil {
		return false, "", NewConfigurationError("service state rule has invalid expected_state", err)
	}
	info, found, err := d.probe.ServiceStatus(ctx, rule.ServiceName)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "<absent>", nil
	}

	actual := fmt.Sprintf("running=%t startup=%s", info.Running, info.StartupType)
	switch rule.ExpectedState {
	case catalog.ServiceExpectRunning:
		return info.Running, actual, nil
	case catalog.ServiceExpectStopped:
		return !info.Running, actual, nil
	case catalog.ServiceExpectDisabled:
		return info.StartupType == catalog.StartupDisabled, actual, nil
	case catalog.ServiceExpectEnabled:
		return info.StartupType != catalog.StartupDisabled, actual, nil
	default:
		return false, actual, nil
	}
}

func (d *RuleDetector) evaluateScriptRule(ctx context.Context, rule *catalog.DetectionRule) (bool, string, error) {
	if rule.Script == "" {
		return false, "", NewConfigurationError("script rule is missing script body", nil)
	}
	out, err := d.probe.RunDiagnosticScript(ctx, rule.Script, defaultDiagnosticTimeout)
	if err != nil {
		return false, "", err
	}

	stdout := strings.TrimSpace(out.Stdout)
	matched := out.ExitCode == 0
	if matched && rule.ExpectedValue != "" {
		matched = strings.EqualFold(stdout, strings.TrimSpace(rule.ExpectedValue))
	}
	actual := fmt.Sprintf("exit=%d", out.ExitCode)
	if stdout != "" {
		actual += " output=" + stdout
	}
	return matched, actual, nil
}

// combineOutcomes merges per-rule tuples into one verdict per the rule
// set's logic. Custom logic has no interpreter and degrades to ALL.
func combineOutcomes(logic catalog.RuleLogic, customLogic string, outcomes []ruleOutcome, logger *telemetry.Logger) (bool, float64, string) {
	if len(outcomes) == 0 {
		return false, 0, "no rules evaluated"
	}

	effective := logic
	if effective == catalog.LogicCustom {
		logger.WithField("custom_logic", customLogic).Warn("custom rule logic is not supported, using ALL semantics")
		effective = catalog.LogicAll
	}

	switch effective {
	case catalog.LogicAny:
		matched := false
		confidence := 0.0
		var matchedMsgs, otherMsgs []string
		for _, o := range outcomes {
			if o.confidence > confidence {
				confidence = o.confidence
			}
			if o.matched {
				matched = true
				matchedMsgs = append(matchedMsgs, o.message)
			} else {
				otherMsgs = append(otherMsgs, o.message)
			}
		}
		msgs := matchedMsgs
		if !matched {
			msgs = otherMsgs
		}
		return matched, confidence, strings.Join(msgs, "; ")
	default: // ALL
		matched := true
		sum := 0.0
		msgs := make([]string, 0, len(outcomes))
		for _, o := range outcomes {
			matched = matched && o.matched
			sum += o.confidence
			msgs = append(msgs, o.message)
		}
		return matched, sum / float64(len(outcomes)), strings.Join(msgs, "; ")
	}
}

// valuesEqual compares an observed config value against an expectation.
// Numeric kinds compare as integers when both sides parse, falling open to
// text comparison otherwise; text compares case-insensitively. Null equals
// only an empty expectation.
func valuesEqual(value catalog.Value, expected string, kind catalog.ValueKind) bool {
	if value.IsNull() {
		return expected == ""
	}
	if kind.IsNumeric() {
		actualN, aerr := value.AsInt64()
		expectedN, eerr := strconv.ParseInt(strings.TrimSpace(expected), 10, 64)
		if aerr == nil && eerr == nil {
			return actualN == expectedN
		}
	}
	actualText, err := value.AsText()
	if err != nil {
		actualText = value.String()
	}
	return strings.EqualFold(strings.TrimSpace(actualText), strings.TrimSpace(expected))
}

// fallbackMessage joins the declared fallback message with the failure
// detail so the user sees both.
func fallbackMessage(message string, err error) string {
	if message == "" {
		message = "detection unavailable"
	}
	return fmt.Sprintf("%s: %v", message, err)
}

// verdictLabel maps a status to a metric label.
func verdictLabel(status TweakStatus) string {
	if !status.CanDetect {
		return "unknown"
	}
	if status.IsApplied {
		return "applied"
	}
	return "not_applied"
}
