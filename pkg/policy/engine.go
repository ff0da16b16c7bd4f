package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/strata-dev/strata/pkg/engine"
)

// Engine evaluates Rego policies against build plans. It implements
// engine.PlanGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	env      Environment
	limits   Limits
	now      func() time.Time
	loader   *Loader
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnvironment sets the project, stage and region passed as input.context.
func WithEnvironment(env Environment) Option {
	return func(e *Engine) {
		e.env = env
	}
}

// WithLimits sets the values exposed as data.strata.limits.
func WithLimits(limits Limits) Option {
	return func(e *Engine) {
		e.limits = limits
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

var _ engine.PlanGate = (*Engine)(nil)

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		limits:   DefaultLimits(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loader = NewLoader(e.logger)
	e.store = inmem.NewFromObject(map[string]interface{}{
		"strata": map[string]interface{}{
			"limits": map[string]interface{}{
				"max_depth": e.limits.MaxDepth,
				"max_units": e.limits.MaxUnits,
			},
		},
	})

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Check evaluates the plan and denies it when any blocking violation exists.
func (e *Engine) Check(ctx context.Context, plan *engine.BuildPlan) error {
	result, err := e.EvaluatePlan(ctx, plan)
	if err != nil {
		return err
	}

	for _, v := range result.Violations {
		if !v.Severity.Blocking() {
			e.logger.Warn().
				Str("policy", v.Policy).
				Str("unit", v.Unit).
				Msg(v.Message)
		}
	}

	if result.Allowed {
		return nil
	}

	blocking := result.Blocking()
	messages := make([]string, len(blocking))
	for i, v := range blocking {
		messages[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}

	denied := engine.NewPermanentError(
		fmt.Sprintf("plan for profile %q denied by policy: %s", plan.Profile, strings.Join(messages, "; ")), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithOperation("check_plan").
		WithDetail("profile", plan.Profile).
		WithDetail("violations", blocking)
	if blocking[0].Unit != "" {
		denied = denied.WithUnit(blocking[0].Unit)
	}
	return denied
}

// EvaluatePlan evaluates every enabled policy against a plan.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.BuildPlan) (*Result, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}

	startTime := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &Input{
		Plan: plan,
		Context: &Context{
			Project:      e.env.Project,
			Stage:        e.env.Stage,
			Region:       e.env.Region,
			Operation:    "plan",
			Capabilities: plan.Capabilities(),
			Timestamp:    startTime,
		},
	}

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.Evaluated = append(result.Evaluated, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("policy evaluation canceled: %w", ctx.Err())
			}
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("plan", plan.ID).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
			}
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.EvaluatedAt = e.now()
	result.Duration = result.EvaluatedAt.Sub(startTime)

	e.logger.Debug().
		Str("plan_id", plan.ID).
		Str("profile", plan.Profile).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// LoadPolicies loads policy files and directories and compiles them. A policy
// with the name of an existing one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// AddPolicy compiles a single policy.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.compileAndStorePolicy(ctx, &p)
}

// ReplacePolicies swaps every non-built-in policy for the given set. Nothing
// changes if any of them fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.policies
	e.policies = make(map[string]*compiledPolicy, len(previous))
	for name, cp := range previous {
		if cp.policy.Builtin {
			e.policies[name] = cp
		}
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// Watch reloads user policies whenever files under paths change. Each
// onReload callback receives the outcome of every reload.
func (e *Engine) Watch(ctx context.Context, paths []string, onReload ...func(error)) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		err := e.ReplacePolicies(ctx, policies)
		for _, fn := range onReload {
			fn(err)
		}
		return err
	})
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Unit != violations[j].Unit {
			return violations[i].Unit < violations[j].Unit
		}
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// createViolation creates a Violation from a deny entry. Entries are either a
// message string or an object with message, severity, unit and capability.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
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
		if unit, ok := v["unit"].(string); ok {
			violation.Unit = unit
		}
		if capability, ok := v["capability"].(string); ok {
			violation.Capability = capability
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold e.mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy has no name")
	}

	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: e.now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and recompiles the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	e.loader.ClearCache()

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}
