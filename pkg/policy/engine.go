package policy

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// Engine compiles guardrail policies and evaluates them against service
// requests before a run.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates an engine with the built-in guardrails loaded.
func NewEngine(ctx context.Context, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	if err := e.Load(ctx, BuiltinPolicies()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// Load compiles policies and adds them, replacing any of the same name.
// Nothing is added if one of them fails to compile.
func (e *Engine) Load(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := compile(ctx, p)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p.Name, err)
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		if old, ok := e.policies[cp.policy.Name]; ok {
			e.logger.Debug().
				Str("policy", cp.policy.Name).
				Str("replaced", old.policy.Source).
				Str("source", cp.policy.Source).
				Msg("Policy overridden")
		}
		e.policies[cp.policy.Name] = cp
	}
	return nil
}

// LoadDir loads every policy file under dir.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	policies, err := NewLoader(e.logger).LoadDir(dir)
	if err != nil {
		return err
	}
	if err := e.Load(ctx, policies); err != nil {
		return err
	}
	e.logger.Info().Int("count", len(policies)).Str("dir", dir).Msg("Policies loaded")
	return nil
}

// compile parses the module and prepares a query for its deny set.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.Module(p.Name+".rego", p.Rego),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	return &compiledPolicy{policy: p, query: query}, nil
}

// Evaluate runs every enabled policy against requests. A policy that
// fails to evaluate is reported as a warning.
func (e *Engine) Evaluate(ctx context.Context, operation string, requests []engine.ServiceRequest) (*Result, error) {
	start := time.Now()
	doc := NewInput(operation, requests).document()

	e.mu.RLock()
	enabled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			enabled = append(enabled, cp)
		}
	}
	e.mu.RUnlock()
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].policy.Name < enabled[j].policy.Name })

	result := &Result{Allowed: true, Evaluated: make([]string, 0, len(enabled))}
	for _, cp := range enabled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Evaluated = append(result.Evaluated, cp.policy.Name)

		found, err := evaluate(ctx, cp, doc)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, Violation{
				Policy:   cp.policy.Name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}
		for _, v := range found {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("operation", operation).
		Int("requests", len(requests)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

func evaluate(ctx context.Context, cp *compiledPolicy, doc map[string]any) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, r := range rs {
		if len(r.Expressions) == 0 {
			continue
		}
		set, ok := r.Expressions[0].Value.([]any)
		if !ok {
			continue
		}
		for _, item := range set {
			out = append(out, newViolation(cp.policy, item))
		}
	}
	return out, nil
}

func newViolation(p Policy, item any) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch d := item.(type) {
	case string:
		v.Message = d
	case map[string]any:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok && sev != "" {
			v.Severity = Severity(strings.ToLower(sev))
		}
		if req, ok := d["request"].(string); ok {
			v.Request = req
		}
	default:
		v.Message = fmt.Sprintf("%v", item)
	}
	return v
}

// Get returns a loaded policy by name.
func (e *Engine) Get(name string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, false
	}
	return cp.policy, true
}

// List returns the loaded policies sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp.policy)
	}
	slices.SortFunc(out, func(a, b Policy) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Enable turns a policy on.
func (e *Engine) Enable(name string) error {
	return e.setEnabled(name, true)
}

// Disable turns a policy off.
func (e *Engine) Disable(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
