package catalog

import (
	"context"
	"fmt"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

const computeSearch = "Amazon EC2"

// Compute configures EC2 instances.
type Compute struct {
	service
}

// NewCompute creates the compute configurator.
func NewCompute(calc Calculator) *Compute {
	return &Compute{service{
		kind: engine.KindCompute,
		calc: calc,
		fields: []Field{
			{Name: "region", Label: "Choose a Region", Op: engine.OpSelect, Default: DefaultRegion},
			{Name: "operating_system", Label: "Operating system", Op: engine.OpSelect, Default: "Linux"},
			{Name: "quantity", Label: "Number of instances", Op: engine.OpFill, Default: "1", Rules: "numeric,atleast=1"},
			{Name: "instance_type", Label: "Search instance type", Op: engine.OpFill, Required: true, Rules: "min=4,contains=."},
			{Name: "storage_type", Label: "Storage for each EC2 instance", Op: engine.OpSelect, Default: "gp3"},
			{Name: "storage_size", Label: "Storage amount", Op: engine.OpFill, Default: "20", Rules: "numeric,atleast=1"},
		},
	}}
}

// Validate implements engine.Configurator.
func (c *Compute) Validate(req engine.ServiceRequest) error {
	_, _, err := c.resolve(req)
	return err
}

// Procedure returns the UI steps for req.
func (c *Compute) Procedure(req engine.ServiceRequest) ([]engine.ActionSpec, error) {
	values, _, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	return c.steps(values), nil
}

// steps searches the instance table and picks the matching row after the
// instance type search box is filled.
func (c *Compute) steps(values map[string]string) []engine.ActionSpec {
	steps := c.openService(computeSearch)
	for _, step := range c.fieldSteps(values) {
		steps = append(steps, step)
		if step.Name == "set instance_type" {
			row := fmt.Sprintf(`input[type="radio"][value=%q]`, values["instance_type"])
			steps = append(steps, engine.ActionSpec{
				Name:           "pick instance " + values["instance_type"],
				Target:         row,
				Operation:      engine.OpClick,
				ExpectedSignal: engine.Signal{Selector: row + ":checked"},
			})
		}
	}
	return append(steps, c.save(computeSearch))
}

// Configure implements engine.Configurator.
func (c *Compute) Configure(ctx context.Context, runner engine.ActionRunner, s *engine.Session, req engine.ServiceRequest) engine.ServiceResult {
	return c.configure(ctx, runner, s, req, c.steps)
}
