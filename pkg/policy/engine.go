package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
)

// Gate evaluates Rego policies against batches before the executor runs
// them. It implements the engine.PolicyGate interface: blocking
// violations surface as classified permission errors, warnings are
// logged and let the batch through.
type Gate struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewGate creates a policy gate with the built-in policies loaded.
func NewGate(logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-gate").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := g.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return g, nil
}

// CheckBatch evaluates every loaded policy against every tweak in the
// batch. A blocking violation returns a permission-class error carrying
// all blocking messages; warnings alone do not fail the check.
func (g *Gate) CheckBatch(ctx context.Context, tweaks []catalog.Tweak, action engine.PendingAction) error {
	result, err := g.Evaluate(ctx, tweaks, action)
	if err != nil {
		return engine.NewInternalError("policy evaluation failed", err)
	}
	if result.Allowed {
		return nil
	}

	var blocking []string
	for i := range result.Violations {
		if result.Violations[i].Blocking() {
			blocking = append(blocking, result.Violations[i].Message)
		}
	}
	return engine.NewPermissionError(
		fmt.Sprintf("batch rejected by policy: %s", strings.Join(blocking, "; ")), nil,
	).WithCode(engine.ErrCodePolicyDenied)
}

// Evaluate runs all enabled policies against the batch and returns the
// full result, including non-blocking warnings.
func (g *Gate) Evaluate(ctx context.Context, tweaks []catalog.Tweak, action engine.PendingAction) (*Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var allViolations []Violation
	var warnings []string

	for _, cp := range g.policies {
		if !cp.policy.Enabled {
			continue
		}

		for i := range tweaks {
			input := &Input{
				Action: string(action),
				Tweak:  tweakInput(&tweaks[i]),
				Context: &Context{
					Timestamp: time.Now(),
					BatchSize: len(tweaks),
				},
			}

			violations, err := g.evaluatePolicy(ctx, cp, input)
			if err != nil {
				g.logger.Error().Err(err).
					Str("policy", cp.policy.Name).
					Str("tweak", tweaks[i].ID).
					Msg("Policy evaluation failed")
				warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
				continue
			}

			allViolations = append(allViolations, violations...)
		}
	}

	allowed := true
	for i := range allViolations {
		if allViolations[i].Blocking() {
			allowed = false
			break
		}
	}

	for i := range allViolations {
		if !allViolations[i].Blocking() {
			g.logger.Warn().
				Str("policy", allViolations[i].Policy).
				Str("tweak", allViolations[i].TweakID).
				Msg(allViolations[i].Message)
		}
	}

	return &Result{
		Allowed:     allowed,
		Violations:  allViolations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// tweakInput projects a catalog tweak into the shape policies consume.
func tweakInput(t *catalog.Tweak) *TweakInput {
	elevated := false
	for i := range t.Apply.Script {
		if t.Apply.Script[i].RunElevated {
			elevated = true
			break
		}
	}

	return &TweakInput{
		ID:                t.ID,
		Name:              t.Name,
		Category:          catalog.NormalizeID(t.Category),
		Severity:          string(t.Severity),
		Tags:              t.Tags,
		OperationCount:    t.Apply.Count(),
		HasElevatedScript: elevated,
		Reversible:        t.IsReversible,
	}
}

// LoadPolicies loads policy files from the given paths.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	loader := NewLoader(g.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := g.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			g.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	g.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (g *Gate) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, g.createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	lines := strings.Split(rego, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "opentweak.policies"
}

// createViolation creates a Violation from a policy deny result.
func (g *Gate) createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	if input.Tweak != nil {
		violation.TweakID = input.Tweak.ID
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if id, ok := v["tweak"].(string); ok {
			violation.TweakID = id
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it.
func (g *Gate) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(g.store),
		rego.Query("data"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	g.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	g.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (g *Gate) loadBuiltinPolicies(ctx context.Context) error {
	for i := range g.builtinPolicies {
		if err := g.compileAndStorePolicy(ctx, &g.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", g.builtinPolicies[i].Name, err)
		}
	}

	g.logger.Info().
		Int("count", len(g.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (g *Gate) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (g *Gate) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (g *Gate) EnablePolicy(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = true
	g.logger.Info().Str("policy", name).Msg("Policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (g *Gate) DisablePolicy(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	g.logger.Info().Str("policy", name).Msg("Policy disabled")
	return nil
}
