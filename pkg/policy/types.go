package policy

import (
	"time"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// Severity is the severity of a guardrail violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity stops a run.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a guardrail written in Rego. The module must define a
// deny set in its package; each element is a string or an object with
// message, severity and request keys.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`

	// Source is "builtin" or the file the policy was loaded from.
	Source string `json:"source"`
}

// Violation is a single guardrail finding.
type Violation struct {
	Policy   string   `json:"policy"`
	Request  string   `json:"request,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating the enabled guardrails against a
// set of requests.
type Result struct {
	// Allowed is false when any violation blocks the run.
	Allowed bool `json:"allowed"`

	// Violations are the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are findings that do not block the run.
	Warnings []Violation `json:"warnings,omitempty"`

	// Evaluated lists the policies that ran.
	Evaluated []string `json:"evaluated"`

	Duration time.Duration `json:"duration"`
}

// Findings returns violations followed by warnings.
func (r *Result) Findings() []Violation {
	out := make([]Violation, 0, len(r.Violations)+len(r.Warnings))
	out = append(out, r.Violations...)
	return append(out, r.Warnings...)
}

// Input is the document bound to input in every policy.
type Input struct {
	Operation string         `json:"operation"`
	Requests  []RequestInput `json:"requests"`
}

// RequestInput is a service request with its effective values: the
// defaults overlaid with the explicit parameters.
type RequestInput struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Template   string            `json:"template,omitempty"`
	Origin     string            `json:"origin"`
	Parameters map[string]string `json:"parameters"`
	Values     map[string]string `json:"values"`
}

// NewInput builds the policy input for requests.
func NewInput(operation string, requests []engine.ServiceRequest) Input {
	in := Input{Operation: operation, Requests: make([]RequestInput, 0, len(requests))}
	for _, req := range requests {
		values := make(map[string]string, len(req.Defaults)+len(req.Parameters))
		for k, v := range req.Defaults {
			values[k] = v
		}
		for k, v := range req.Parameters {
			values[k] = v
		}
		params := req.Parameters
		if params == nil {
			params = map[string]string{}
		}
		in.Requests = append(in.Requests, RequestInput{
			ID:         req.ID,
			Kind:       string(req.Kind),
			Template:   req.Template,
			Origin:     string(req.Origin),
			Parameters: params,
			Values:     values,
		})
	}
	return in
}

// document converts the input to the plain maps and slices OPA expects.
func (in Input) document() map[string]any {
	reqs := make([]any, 0, len(in.Requests))
	for _, r := range in.Requests {
		reqs = append(reqs, map[string]any{
			"id":         r.ID,
			"kind":       r.Kind,
			"template":   r.Template,
			"origin":     r.Origin,
			"parameters": stringMap(r.Parameters),
			"values":     stringMap(r.Values),
		})
	}
	return map[string]any{
		"operation": in.Operation,
		"requests":  reqs,
	}
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
