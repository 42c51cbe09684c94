package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/streamtune/pkg/engine"
)

// Engine evaluates candidates against Rego policies. It implements
// engine.Admission.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
	program         string
	loader          *Loader
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	queries  map[string]rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}
	e.loader = NewLoader(logger)

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// SetProgram names the tuned program in the evaluation context.
func (e *Engine) SetProgram(program string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.program = program
}

// Admit decides whether candidate may be run.
func (e *Engine) Admit(ctx context.Context, candidate engine.Store, params []engine.Parameter) (*engine.AdmissionDecision, error) {
	input, err := e.NewInput(candidate, params, "admit")
	if err != nil {
		return nil, err
	}

	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("parameter", w.Parameter).
			Msg(w.Message)
	}

	decision := &engine.AdmissionDecision{Allowed: result.Allowed}
	for _, v := range result.Violations {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return decision, nil
}

// NewInput builds the policy input for a candidate. Values go through a JSON
// round trip so that policies see the same shapes as the wire format.
func (e *Engine) NewInput(candidate engine.Store, params []engine.Parameter, operation string) (*Input, error) {
	e.mu.RLock()
	program := e.program
	e.mu.RUnlock()

	input := &Input{
		Parameters: make(map[string]interface{}, len(params)),
		Context: &Context{
			Timestamp: time.Now(),
			Operation: operation,
			Program:   program,
		},
	}

	if err := roundTrip(candidate, &input.Candidate); err != nil {
		return nil, fmt.Errorf("failed to encode candidate: %w", err)
	}
	for _, p := range params {
		var record interface{}
		if err := roundTrip(p, &record); err != nil {
			return nil, fmt.Errorf("failed to encode parameter %s: %w", p.Name(), err)
		}
		input.Parameters[p.Name()] = record
	}

	return input, nil
}

func roundTrip(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Evaluate evaluates every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, Violation{
				Policy:   cp.policy.Name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity.blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Candidate policy evaluation completed")

	return result, nil
}

// LoadPolicies loads policy files, adding to or replacing loaded policies
// of the same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, &policies[i])
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled[policies[i].Name] = cp
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplaceLoaded swaps every non-builtin policy for policies. Nothing changes
// when any of them fails to compile.
func (e *Engine) ReplaceLoaded(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled[policies[i].Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}
	return nil
}

// Watch reloads the policies under paths whenever they change, until ctx
// is cancelled.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplaceLoaded(ctx, policies)
	})
}

// evaluatePolicy evaluates a single compiled policy. deny results carry
// the policy severity; warn results never block.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	var violations []Violation

	for _, rule := range cp.policy.Rules {
		query, ok := cp.queries[rule]
		if !ok {
			continue
		}
		results, err := query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("policy evaluation error in %s: %w", rule, err)
		}
		for _, result := range results {
			if len(result.Expressions) == 0 {
				continue
			}
			set, ok := result.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range set {
				v := e.createViolation(cp.policy, d)
				if rule == RuleWarn {
					v.Severity = SeverityWarning
				}
				violations = append(violations, v)
			}
		}
	}

	return violations, nil
}

// createViolation creates a Violation from a deny result.
func (e *Engine) createViolation(policy *Policy, result interface{}) Violation {
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
		if param, ok := v["parameter"].(string); ok {
			violation.Parameter = param
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses a policy and prepares a query for each entry point it
// defines.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	info, err := inspectModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, err
	}
	policy.Rules = info.rules
	if policy.Description == "" {
		policy.Description = info.description
	}

	queries := make(map[string]rego.PreparedEvalQuery, len(info.rules))
	for _, rule := range info.rules {
		r := rego.New(
			rego.ParsedModule(info.module),
			rego.Store(e.store),
			rego.Query(info.path+"."+rule),
		)
		query, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s query: %w", rule, err)
		}
		queries[rule] = query
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Strs("rules", info.rules).
		Msg("Policy compiled successfully")

	return &compiledPolicy{
		policy:   policy,
		module:   info.module,
		queries:  queries,
		compiled: time.Now(),
	}, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		cp, err := e.compile(ctx, &e.builtinPolicies[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
		e.policies[e.builtinPolicies[i].Name] = cp
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
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

// ListPolicies returns all loaded policies, sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// ReloadPolicies drops loaded policies and keeps the built-in ones.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

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
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
