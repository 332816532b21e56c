package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// DefaultRegion is the region every service is priced in unless overridden.
const DefaultRegion = "US East (N. Virginia)"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// atleast compares a numeric string against the parameter value
	_ = v.RegisterValidation("atleast", func(fl validator.FieldLevel) bool {
		n, err := strconv.ParseFloat(fl.Field().String(), 64)
		if err != nil {
			return false
		}
		limit, err := strconv.ParseFloat(fl.Param(), 64)
		return err == nil && n >= limit
	})
	_ = v.RegisterValidation("dbengine", func(fl validator.FieldLevel) bool {
		_, ok := databaseEngines[strings.ToLower(fl.Field().String())]
		return ok
	})
	return v
}

// Calculator locates the calculator UI.
type Calculator struct {
	// BaseURL is the calculator root, e.g. https://calculator.aws/.
	BaseURL string `json:"base_url" yaml:"base_url" validate:"required,url"`

	// Region is the default region for every service.
	Region string `json:"region" yaml:"region"`
}

// DefaultCalculator returns the public AWS pricing calculator.
func DefaultCalculator() Calculator {
	return Calculator{BaseURL: "https://calculator.aws/", Region: DefaultRegion}
}

// AddServiceURL is the page services are searched from.
func (c Calculator) AddServiceURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/#/addService"
}

// EstimateURL is the estimate summary page.
func (c Calculator) EstimateURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/#/estimate"
}

// ReadySelector is present once the add-service page is usable.
func (c Calculator) ReadySelector() string {
	return searchSelector
}

const (
	searchSelector = `input[aria-label="Find Service"]`
	saveSelector   = `button[aria-label="Save and add service"]`
)

// Field describes one configurable input of a service.
type Field struct {
	// Name is the request parameter key.
	Name string

	// Label is the input's accessible label in the calculator.
	Label string

	// Op is OpFill for text inputs and OpSelect for dropdowns.
	Op engine.Operation

	// Required fields must be supplied or defaulted.
	Required bool

	// Default is the catalog fallback value.
	Default string

	// Rules is a validator tag applied to the resolved value.
	Rules string
}

func (f Field) selector() string {
	return fmt.Sprintf(`[aria-label=%q]`, f.Label)
}

// action builds the UI step that sets the field to value.
func (f Field) action(value string) engine.ActionSpec {
	return engine.ActionSpec{
		Name:           "set " + f.Name,
		Target:         f.selector(),
		Operation:      f.Op,
		Value:          value,
		ExpectedSignal: engine.Signal{Selector: f.selector(), Value: value},
		Idempotent:     true,
	}
}

// service is the table shared by every variant: the fields and how the
// service is found in the calculator.
type service struct {
	kind   engine.ServiceKind
	calc   Calculator
	fields []Field
}

// Fields returns the field table in configuration order.
func (s *service) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Kind implements engine.Configurator.
func (s *service) Kind() engine.ServiceKind {
	return s.kind
}

func (s *service) field(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// resolve computes the value of every field and the subset that was
// back-filled from defaults. Request defaults win over catalog defaults.
func (s *service) resolve(req engine.ServiceRequest) (values, filled map[string]string, err error) {
	var unknown []string
	for name := range req.Parameters {
		if _, ok := s.field(name); !ok {
			unknown = append(unknown, name)
		}
	}

	values = make(map[string]string, len(s.fields))
	filled = make(map[string]string)
	var missing, invalid []string

	for _, f := range s.fields {
		v := strings.TrimSpace(req.Parameters[f.Name])
		if v == "" {
			switch {
			case strings.TrimSpace(req.Defaults[f.Name]) != "":
				v = strings.TrimSpace(req.Defaults[f.Name])
				filled[f.Name] = v
			case f.Name == "region" && s.calc.Region != "":
				v = s.calc.Region
				filled[f.Name] = v
			case f.Default != "":
				v = f.Default
				filled[f.Name] = v
			case f.Required:
				missing = append(missing, f.Name)
				continue
			default:
				continue
			}
		}
		if f.Rules != "" {
			if verr := validate.Var(v, f.Rules); verr != nil {
				invalid = append(invalid, fmt.Sprintf("%s=%q", f.Name, v))
				continue
			}
		}
		values[f.Name] = v
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required field(s): "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		problems = append(problems, "invalid value(s): "+strings.Join(invalid, ", "))
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		problems = append(problems, "unknown parameter(s): "+strings.Join(unknown, ", "))
	}
	if len(problems) > 0 {
		return nil, nil, engine.NewValidationError(
			fmt.Sprintf("%s request %s: %s", s.kind, req.ID, strings.Join(problems, "; ")), nil).
			WithResource(req.ID)
	}
	return values, filled, nil
}

// openService navigates to the add-service page, searches for the service
// and opens its configuration form.
func (s *service) openService(searchTerm string) []engine.ActionSpec {
	form := fmt.Sprintf(`form[aria-label=%q]`, searchTerm+" configuration")
	return []engine.ActionSpec{
		{
			Name:           "open add service",
			Target:         s.calc.AddServiceURL(),
			Operation:      engine.OpNavigate,
			ExpectedSignal: engine.Signal{Kind: engine.SignalLocation, Value: "#/addService", Contains: true},
		},
		{
			Name:           "search " + searchTerm,
			Target:         searchSelector,
			Operation:      engine.OpFill,
			Value:          searchTerm,
			ExpectedSignal: engine.Signal{Selector: fmt.Sprintf(`button[aria-label=%q]`, "Configure "+searchTerm)},
		},
		{
			Name:           "configure " + searchTerm,
			Target:         fmt.Sprintf(`button[aria-label=%q]`, "Configure "+searchTerm),
			Operation:      engine.OpClick,
			ExpectedSignal: engine.Signal{Selector: form},
		},
	}
}

// fieldSteps sets every resolved field in table order.
func (s *service) fieldSteps(values map[string]string, skip ...string) []engine.ActionSpec {
	steps := make([]engine.ActionSpec, 0, len(s.fields))
	for _, f := range s.fields {
		v, ok := values[f.Name]
		if !ok || contains(skip, f.Name) {
			continue
		}
		steps = append(steps, f.action(v))
	}
	return steps
}

// save adds the configured service to the estimate.
func (s *service) save(searchTerm string) engine.ActionSpec {
	return engine.ActionSpec{
		Name:           "save " + searchTerm,
		Target:         saveSelector,
		Operation:      engine.OpClick,
		ExpectedSignal: engine.Signal{Selector: fmt.Sprintf(`[data-service-row=%q]`, searchTerm)},
	}
}

// procedureFunc builds the UI steps for resolved values.
type procedureFunc func(values map[string]string) []engine.ActionSpec

// configure runs the shared validate-then-drive flow.
func (s *service) configure(ctx context.Context, runner engine.ActionRunner, sess *engine.Session, req engine.ServiceRequest, procedure procedureFunc) engine.ServiceResult {
	result := engine.ServiceResult{
		RequestID: req.ID,
		Kind:      s.kind,
		StartedAt: time.Now(),
	}

	values, filled, err := s.resolve(req)
	if err != nil {
		result.Status = engine.ResultSkipped
		result.ErrorClass = engine.ErrorClassValidation
		result.ErrorDetail = err.Error()
		return result
	}
	result.AutoFilledFields = filled

	// no rollback: a partially filled form is left for the next navigation
	for _, step := range procedure(values) {
		out := runner.Run(ctx, sess, step)
		result.Attempts += out.Attempts
		if !out.Success {
			result.Status = engine.ResultFailed
			result.ErrorClass = out.LastError
			result.ErrorDetail = fmt.Sprintf("step %q failed after %d attempt(s) [%s]: %v",
				step.Label(), out.Attempts, out.LastError, out.Err)
			result.Duration = time.Since(result.StartedAt)
			return result
		}
	}

	result.Status = engine.ResultAdded
	result.Duration = time.Since(result.StartedAt)
	return result
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// New returns one configurator per service kind.
func New(calc Calculator) []engine.Configurator {
	return []engine.Configurator{
		NewNetwork(calc),
		NewCompute(calc),
		NewDatabase(calc),
		NewStorage(calc),
		NewLoadBalancer(calc),
	}
}

// Lookup returns the configurator for kind.
func Lookup(calc Calculator, kind engine.ServiceKind) (engine.Configurator, error) {
	for _, c := range New(calc) {
		if c.Kind() == kind {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no configurator for %s", kind)
}
