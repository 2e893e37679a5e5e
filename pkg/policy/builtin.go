package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		criticalSeverityPolicy(),
		irreversibleApplyPolicy(),
		elevatedScriptPolicy(),
		batchSizePolicy(),
	}
}

// criticalSeverityPolicy blocks batches containing critical-severity tweaks.
func criticalSeverityPolicy() Policy {
	return Policy{
		Name:        "critical-severity",
		Description: "Blocks execution of critical-severity tweaks unless explicitly tagged as allowed",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package opentweak.policies.critical

import rego.v1

deny contains violation if {
	input.tweak.severity == "critical"
	not allowed_by_tag
	violation := {
		"message": sprintf("Tweak '%s' has critical severity and cannot run without the allow-critical tag", [input.tweak.id]),
		"severity": "error",
		"tweak": input.tweak.id,
	}
}

allowed_by_tag if {
	some tag in input.tweak.tags
	tag == "allow-critical"
}
`,
	}
}

// irreversibleApplyPolicy warns when applying something that cannot be undone.
func irreversibleApplyPolicy() Policy {
	return Policy{
		Name:        "irreversible-apply",
		Description: "Warns when applying a tweak that declares itself irreversible",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package opentweak.policies.irreversible

import rego.v1

deny contains violation if {
	input.action == "apply"
	not input.tweak.reversible
	violation := {
		"message": sprintf("Tweak '%s' cannot be reverted once applied", [input.tweak.id]),
		"severity": "warning",
		"tweak": input.tweak.id,
	}
}
`,
	}
}

// elevatedScriptPolicy warns about tweaks that run elevated scripts.
func elevatedScriptPolicy() Policy {
	return Policy{
		Name:        "elevated-scripts",
		Description: "Warns when a tweak runs scripts with elevated privileges",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety", "scripts"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package opentweak.policies.scripts

import rego.v1

deny contains violation if {
	input.tweak.has_elevated_script
	violation := {
		"message": sprintf("Tweak '%s' runs scripts with elevated privileges", [input.tweak.id]),
		"severity": "warning",
		"tweak": input.tweak.id,
	}
}
`,
	}
}

// batchSizePolicy blocks oversized batches.
func batchSizePolicy() Policy {
	return Policy{
		Name:        "batch-size",
		Description: "Blocks batches larger than 50 tweaks to keep runs reviewable",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"operations"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package opentweak.policies.batch

import rego.v1

deny contains violation if {
	input.context.batch_size > 50
	violation := {
		"message": sprintf("Batch of %d tweaks exceeds the limit of 50", [input.context.batch_size]),
		"severity": "error",
		"tweak": input.tweak.id,
	}
}
`,
	}
}
