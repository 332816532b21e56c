package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ServiceKind is the closed set of calculator services the engine can configure.
type ServiceKind string

const (
	KindNetwork      ServiceKind = "Network"
	KindCompute      ServiceKind = "Compute"
	KindDatabase     ServiceKind = "Database"
	KindStorage      ServiceKind = "Storage"
	KindLoadBalancer ServiceKind = "LoadBalancer"
)

// kindPriority is the configuration order. Network must exist before
// anything that attaches to it.
var kindPriority = map[ServiceKind]int{
	KindNetwork:      0,
	KindCompute:      1,
	KindDatabase:     2,
	KindStorage:      3,
	KindLoadBalancer: 4,
}

var kindAliases = map[string]ServiceKind{
	"network":       KindNetwork,
	"vpc":           KindNetwork,
	"compute":       KindCompute,
	"ec2":           KindCompute,
	"database":      KindDatabase,
	"rds":           KindDatabase,
	"storage":       KindStorage,
	"s3":            KindStorage,
	"loadbalancer":  KindLoadBalancer,
	"load_balancer": KindLoadBalancer,
	"elb":           KindLoadBalancer,
	"alb":           KindLoadBalancer,
}

// AllKinds returns every service kind in dependency order.
func AllKinds() []ServiceKind {
	return []ServiceKind{KindNetwork, KindCompute, KindDatabase, KindStorage, KindLoadBalancer}
}

// ParseServiceKind resolves a canonical kind name or a well-known alias.
func ParseServiceKind(s string) (ServiceKind, error) {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown service kind: %q", s)
}

// Priority returns the configuration order of the kind. Unknown kinds sort last.
func (k ServiceKind) Priority() int {
	if p, ok := kindPriority[k]; ok {
		return p
	}
	return len(kindPriority)
}

// Validate checks if the service kind is one of the supported kinds.
func (k ServiceKind) Validate() error {
	if _, ok := kindPriority[k]; !ok {
		return fmt.Errorf("invalid service kind: %s", k)
	}
	return nil
}

// UnmarshalJSON accepts canonical names and aliases.
func (k *ServiceKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseServiceKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParameterOrigin records where a request's parameters came from.
type ParameterOrigin string

const (
	OriginUserSupplied    ParameterOrigin = "user_supplied"
	OriginTemplateDefault ParameterOrigin = "template_default"
)

// ServiceRequest asks for one service to be added to the estimate.
type ServiceRequest struct {
	// ID uniquely identifies the request within a run.
	ID string `json:"id" yaml:"id"`

	// Kind is the service to configure.
	Kind ServiceKind `json:"kind" yaml:"kind"`

	// Parameters are the explicitly requested field values.
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Defaults back-fill fields missing from Parameters.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Origin records whether the parameters were supplied by the user or
	// taken wholesale from a template.
	Origin ParameterOrigin `json:"origin" yaml:"origin"`

	// Template is the name of the template the defaults came from, if any.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
}

// SortByDependency returns a copy of requests in configuration order.
// The sort is stable so requests of the same kind keep their relative order.
func SortByDependency(requests []ServiceRequest) []ServiceRequest {
	ordered := make([]ServiceRequest, len(requests))
	copy(ordered, requests)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind.Priority() < ordered[j].Kind.Priority()
	})
	return ordered
}

// SignalKind selects what an expected signal observes.
type SignalKind string

const (
	// SignalElement observes a DOM element by selector.
	SignalElement SignalKind = "element"

	// SignalLocation observes the page URL.
	SignalLocation SignalKind = "location"
)

// Signal is the observable evidence that an action took effect.
type Signal struct {
	// Kind selects element or location observation. Empty means element.
	Kind SignalKind `json:"kind,omitempty"`

	// Selector locates the element to observe.
	Selector string `json:"selector,omitempty"`

	// Value is the expected value. Empty means presence is enough.
	Value string `json:"value,omitempty"`

	// Contains relaxes the value match to a substring match.
	Contains bool `json:"contains,omitempty"`
}

// IsZero reports whether the signal expects nothing.
func (s Signal) IsZero() bool {
	return s.Selector == "" && s.Value == ""
}

// Matches reports whether an observed value satisfies the expected value.
func (s Signal) Matches(observed string) bool {
	if s.Value == "" {
		return true
	}
	if s.Contains {
		return strings.Contains(observed, s.Value)
	}
	return strings.TrimSpace(observed) == s.Value
}

// ActionSpec describes one UI interaction and how to confirm it.
type ActionSpec struct {
	// Name is a short label used in logs and error details.
	Name string `json:"name"`

	// Target is the selector (or URL for navigation) the action addresses.
	Target string `json:"target"`

	// Operation is the interaction to perform.
	Operation Operation `json:"operation"`

	// Value is the text to fill or the option to select.
	Value string `json:"value,omitempty"`

	// ExpectedSignal confirms the action took effect.
	ExpectedSignal Signal `json:"expected_signal"`

	// Idempotent actions are skipped when their signal is already confirmed.
	Idempotent bool `json:"idempotent,omitempty"`
}

// Label returns the name or, failing that, the operation and target.
func (a ActionSpec) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("%s %s", a.Operation, a.Target)
}

// ActionOutcome is the result of executing one action with retries.
type ActionOutcome struct {
	// Success is true when the action was performed and verified.
	Success bool `json:"success"`

	// Attempts is the number of UI attempts made.
	Attempts int `json:"attempts"`

	// LastError is the class of the last failure, empty on success.
	LastError ErrorClass `json:"last_error,omitempty"`

	// Err is the last underlying failure.
	Err error `json:"-"`

	// Verified is true when the expected signal was confirmed.
	Verified bool `json:"verified"`
}

// ServiceResult is the outcome of configuring one requested service.
type ServiceResult struct {
	// RequestID is the ID of the request this result answers.
	RequestID string `json:"request_id"`

	// Kind is the requested service kind.
	Kind ServiceKind `json:"kind"`

	// Status is added, failed or skipped.
	Status ResultStatus `json:"status"`

	// AutoFilledFields lists the fields back-filled from defaults.
	AutoFilledFields map[string]string `json:"auto_filled_fields,omitempty"`

	// ErrorDetail describes why the service was not added.
	ErrorDetail string `json:"error_detail,omitempty"`

	// ErrorClass is the classification of the failure, if any.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// Attempts is the total number of UI attempts spent on the service.
	Attempts int `json:"attempts"`

	// StartedAt is when configuration of the service began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long configuration took.
	Duration time.Duration `json:"duration"`
}

// EstimateLinks are the shareable links produced at the end of a run.
type EstimateLinks struct {
	OnDemand    *string `json:"ondemand"`
	SavingsPlan *string `json:"savings_plan"`
}

// Any reports whether at least one link was produced.
func (l EstimateLinks) Any() bool {
	return l.OnDemand != nil || l.SavingsPlan != nil
}

// EstimationRun is the state of one orchestrated run. It is owned by the
// orchestrator and summarized into a Report when the run ends.
type EstimationRun struct {
	// ID is the unique identifier for this run.
	ID string

	// Requests are the requests in submission order.
	Requests []ServiceRequest

	// Results holds one entry per request ID.
	Results map[string]*ServiceResult

	// Session is the session currently in use, if any.
	Session *Session

	// FinalLinks are the generated estimate links.
	FinalLinks EstimateLinks

	// State is the current orchestrator state.
	State RunState

	// StartedAt is when the run started.
	StartedAt time.Time

	// Err is the fatal error that aborted the run, if any.
	Err error

	// LinkErr is set when services were added but links could not be produced.
	LinkErr error
}

// OrderedResults returns results in request submission order.
func (r *EstimationRun) OrderedResults() []ServiceResult {
	out := make([]ServiceResult, 0, len(r.Requests))
	for _, req := range r.Requests {
		if res, ok := r.Results[req.ID]; ok {
			out = append(out, *res)
		}
	}
	return out
}

// OverallStatus classifies the run from its results.
func (r *EstimationRun) OverallStatus() OverallStatus {
	if r.State == RunStateAborted {
		return StatusFailure
	}
	added := 0
	for _, res := range r.Results {
		if res.Status == ResultAdded {
			added++
		}
	}
	switch {
	case len(r.Requests) > 0 && added == len(r.Requests):
		return StatusSuccess
	case added > 0:
		return StatusPartialSuccess
	default:
		return StatusFailure
	}
}
