// Package policy provides Open Policy Agent (OPA) integration.
//
// The Gate evaluates Rego policies against every batch of tweaks before
// the executor runs it. Violations at error or critical severity block
// the batch; warnings are logged and let it through.
//
// # Usage
//
// Creating a gate and checking a batch:
//
//	logger := zerolog.New(os.Stdout)
//	gate, err := policy.NewGate(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := gate.CheckBatch(ctx, tweaks, engine.ActionApply); err != nil {
//	    // batch rejected, err carries the blocking violations
//	}
//
// Loading custom policies:
//
//	err = gate.LoadPolicies(ctx, []string{"/etc/opentweak/policies"})
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. critical-severity - Blocks critical-severity tweaks unless tagged allow-critical
//  2. irreversible-apply - Warns when applying a tweak that cannot be undone
//  3. elevated-scripts - Warns about tweaks running elevated scripts
//  4. batch-size - Blocks batches larger than 50 tweaks
//
// # Custom Policies
//
// Custom policies are written in Rego. The input carries the action,
// one tweak, and batch context:
//
//	package custom.policies.notelemetry
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.action == "revert"
//	    input.tweak.category == "privacy"
//
//	    violation := {
//	        "message": "Privacy tweaks may not be reverted on this host",
//	        "severity": "error",
//	        "tweak": input.tweak.id,
//	    }
//	}
//
// # Hot Reload
//
// The loader supports watching policy files for changes:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return gate.LoadPolicies(ctx, paths)
//	})
package policy
