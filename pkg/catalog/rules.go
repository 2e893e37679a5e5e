package catalog

import (
	"fmt"
	"strings"
)

// RuleLogic is the combinator used to merge multiple rule outcomes into one
// applied/not-applied verdict.
type RuleLogic string

const (
	// LogicAll requires every rule to match. Confidence is the mean of the
	// per-rule confidences.
	LogicAll RuleLogic = "all"

	// LogicAny requires at least one rule to match. Confidence is the max.
	LogicAny RuleLogic = "any"

	// LogicCustom declares a custom expression. No expression interpreter
	// is implemented; evaluation falls back to LogicAll with a warning.
	LogicCustom RuleLogic = "custom"
)

// Validate checks that the logic is a known value.
func (l RuleLogic) Validate() error {
	switch l {
	case LogicAll, LogicAny, LogicCustom:
		return nil
	default:
		return fmt.Errorf("invalid rule logic: %q", string(l))
	}
}

// ParseRuleLogic parses a logic tag case-insensitively.
func ParseRuleLogic(s string) (RuleLogic, error) {
	logic := RuleLogic(strings.ToLower(strings.TrimSpace(s)))
	if err := logic.Validate(); err != nil {
		return "", err
	}
	return logic, nil
}

// RuleType selects which system surface a detection rule probes.
type RuleType string

const (
	// RuleConfigValue compares a config-store value against an expectation.
	RuleConfigValue RuleType = "config_value"

	// RuleConfigKey checks that a config-store key exists.
	RuleConfigKey RuleType = "config_key"

	// RuleServiceState compares a service's state against an expectation.
	RuleServiceState RuleType = "service_state"

	// RuleFileExists checks that a file or directory exists.
	RuleFileExists RuleType = "file_exists"

	// RuleScript runs a read-only diagnostic script; exit 0 (and matching
	// output, if expected) means the predicate holds.
	RuleScript RuleType = "script"
)

// Validate checks that the rule type is a known value.
func (t RuleType) Validate() error {
	switch t {
	case RuleConfigValue, RuleConfigKey, RuleServiceState, RuleFileExists, RuleScript:
		return nil
	default:
		return fmt.Errorf("invalid rule type: %q", string(t))
	}
}

// ParseRuleType parses a rule type tag, accepting the registry-style
// spellings found in older catalog files. Unknown types parse without
// error so that a rule set containing one stray rule still evaluates; the
// detector scores unrecognized types as non-matches.
func ParseRuleType(s string) RuleType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "config_value", "configvalue", "registryvalue", "registry_value":
		return RuleConfigValue
	case "config_key", "configkey", "registrykey", "registry_key":
		return RuleConfigKey
	case "service_state", "servicestate", "service":
		return RuleServiceState
	case "file_exists", "fileexists", "file":
		return RuleFileExists
	case "script", "powershellscript", "shell_script":
		return RuleScript
	default:
		return RuleType(strings.ToLower(strings.TrimSpace(s)))
	}
}

// ServiceStateExpectation is what a service-state rule compares against.
type ServiceStateExpectation string

const (
	// ServiceExpectRunning matches when the service is active.
	ServiceExpectRunning ServiceStateExpectation = "running"

	// ServiceExpectStopped matches when the service is inactive.
	ServiceExpectStopped ServiceStateExpectation = "stopped"

	// ServiceExpectDisabled matches when the startup type is disabled.
	ServiceExpectDisabled ServiceStateExpectation = "disabled"

	// ServiceExpectEnabled matches when the startup type is not disabled.
	ServiceExpectEnabled ServiceStateExpectation = "enabled"
)

// Validate checks that the expectation is a known value.
func (e ServiceStateExpectation) Validate() error {
	switch e {
	case ServiceExpectRunning, ServiceExpectStopped, ServiceExpectDisabled, ServiceExpectEnabled:
		return nil
	default:
		return fmt.Errorf("invalid service state expectation: %q", string(e))
	}
}

// DetectionRule is a single testable predicate about system state. The
// target fields used depend on Type; unused fields are ignored.
type DetectionRule struct {
	// Type selects which system surface the rule probes.
	Type RuleType `json:"type" validate:"required"`

	// Scope, KeyPath, ValueName target config-store rules.
	Scope     ConfigScope `json:"scope,omitempty"`
	KeyPath   string      `json:"key_path,omitempty"`
	ValueName string      `json:"value_name,omitempty"`

	// ExpectedValue is the expectation for config-value rules and the
	// optional expected stdout for script rules.
	ExpectedValue string `json:"expected_value,omitempty"`

	// ValueKind tags how ExpectedValue compares: numeric for DWord/QWord,
	// case-insensitive text otherwise.
	ValueKind ValueKind `json:"value_kind,omitempty"`

	// ServiceName and ExpectedState target service-state rules.
	ServiceName   string                  `json:"service_name,omitempty"`
	ExpectedState ServiceStateExpectation `json:"expected_state,omitempty"`

	// FilePath targets file-exists rules.
	FilePath string `json:"file_path,omitempty"`

	// Script is the diagnostic script body for script rules.
	Script string `json:"script,omitempty"`

	// SuccessMessage and FailureMessage describe the outcome to the user.
	SuccessMessage string `json:"success_message,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	// Confidence is the declared trustworthiness of this rule in [0,1].
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`

	// Weight is reserved for weighted combination. Current combination
	// uses simple averaging and ignores it.
	Weight float64 `json:"weight,omitempty"`

	// Inverted negates the raw predicate result before combination.
	Inverted bool `json:"inverted,omitempty"`
}

// Message returns the success or failure message for the rule outcome,
// with a usable default when the catalog omits one.
func (r *DetectionRule) Message(matched bool) string {
	if matched {
		if r.SuccessMessage != "" {
			return r.SuccessMessage
		}
		return fmt.Sprintf("%s rule matched", r.Type)
	}
	if r.FailureMessage != "" {
		return r.FailureMessage
	}
	return fmt.Sprintf("%s rule did not match", r.Type)
}

// FallbackBehavior is the verdict reported when detection rules cannot be
// evaluated at all.
type FallbackBehavior struct {
	// Applied is the assumed applied state.
	Applied bool `json:"applied"`

	// Message explains the fallback to the user.
	Message string `json:"message,omitempty"`

	// Confidence is the reported confidence for the assumed state.
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// DetectionRuleSet combines an ordered list of rules under one logic.
type DetectionRuleSet struct {
	// Type is an informational tag describing the rule set.
	Type string `json:"type,omitempty"`

	// Rules are evaluated independently and combined per Logic.
	Rules []DetectionRule `json:"rules"`

	// Logic selects the combinator.
	Logic RuleLogic `json:"logic"`

	// CustomLogic is the declared expression for LogicCustom. Unused by
	// evaluation; kept for round-tripping.
	CustomLogic string `json:"custom_logic,omitempty"`

	// Fallback is the verdict used when evaluation fails entirely.
	Fallback FallbackBehavior `json:"fallback"`
}

// HasRules reports whether the set contains at least one rule.
func (s *DetectionRuleSet) HasRules() bool {
	return s != nil && len(s.Rules) > 0
}
