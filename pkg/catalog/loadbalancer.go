package catalog

import (
	"context"
	"fmt"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

const loadBalancerSearch = "Elastic Load Balancing"

// LoadBalancer configures Elastic Load Balancing. The balancer type selects
// the tab the remaining fields are entered on.
type LoadBalancer struct {
	service
}

// NewLoadBalancer creates the load balancer configurator.
func NewLoadBalancer(calc Calculator) *LoadBalancer {
	return &LoadBalancer{service{
		kind: engine.KindLoadBalancer,
		calc: calc,
		fields: []Field{
			{Name: "type", Default: "Application Load Balancer", Rules: "oneof='Application Load Balancer' 'Network Load Balancer' 'Gateway Load Balancer'"},
			{Name: "scheme", Default: "Internet-facing", Rules: "oneof=Internet-facing Internal"},
			{Name: "region", Label: "Choose a Region", Op: engine.OpSelect, Default: DefaultRegion},
			{Name: "count", Label: "Number of Load Balancers", Op: engine.OpFill, Default: "1", Rules: "numeric,atleast=1"},
			{Name: "processed_gb", Label: "Processed bytes", Op: engine.OpFill, Default: "10", Rules: "numeric,atleast=0"},
		},
	}}
}

// Validate implements engine.Configurator.
func (l *LoadBalancer) Validate(req engine.ServiceRequest) error {
	_, _, err := l.resolve(req)
	return err
}

// Procedure returns the UI steps for req.
func (l *LoadBalancer) Procedure(req engine.ServiceRequest) ([]engine.ActionSpec, error) {
	values, _, err := l.resolve(req)
	if err != nil {
		return nil, err
	}
	return l.steps(values), nil
}

func (l *LoadBalancer) steps(values map[string]string) []engine.ActionSpec {
	lbType := values["type"]
	tab := fmt.Sprintf(`[role="tab"][aria-label=%q]`, lbType)

	steps := l.openService(loadBalancerSearch)
	steps = append(steps, engine.ActionSpec{
		Name:           "choose " + lbType,
		Target:         tab,
		Operation:      engine.OpClick,
		ExpectedSignal: engine.Signal{Selector: tab + `[aria-selected="true"]`},
	})
	// scheme has no pricing input; it is carried for the report only
	steps = append(steps, l.fieldSteps(values, "type", "scheme")...)
	return append(steps, l.save(loadBalancerSearch))
}

// Configure implements engine.Configurator.
func (l *LoadBalancer) Configure(ctx context.Context, runner engine.ActionRunner, s *engine.Session, req engine.ServiceRequest) engine.ServiceResult {
	return l.configure(ctx, runner, s, req, l.steps)
}
