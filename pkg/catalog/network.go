package catalog

import (
	"context"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

const networkSearch = "Amazon Virtual Private Cloud (VPC)"

// Network configures the VPC: NAT gateways, VPN connections and data processed.
type Network struct {
	service
}

// NewNetwork creates the network configurator.
func NewNetwork(calc Calculator) *Network {
	return &Network{service{
		kind: engine.KindNetwork,
		calc: calc,
		fields: []Field{
			{Name: "region", Label: "Choose a Region", Op: engine.OpSelect, Default: DefaultRegion},
			{Name: "nat_gateways", Label: "Number of NAT Gateways", Op: engine.OpFill, Default: "1", Rules: "numeric,atleast=0"},
			{Name: "data_processed_gb", Label: "Data Processed per NAT Gateway", Op: engine.OpFill, Default: "10", Rules: "numeric,atleast=0"},
			{Name: "vpn_connections", Label: "Number of Site-to-Site VPN Connections", Op: engine.OpFill, Default: "0", Rules: "numeric,atleast=0"},
		},
	}}
}

// Validate implements engine.Configurator.
func (n *Network) Validate(req engine.ServiceRequest) error {
	_, _, err := n.resolve(req)
	return err
}

// Procedure returns the UI steps for req.
func (n *Network) Procedure(req engine.ServiceRequest) ([]engine.ActionSpec, error) {
	values, _, err := n.resolve(req)
	if err != nil {
		return nil, err
	}
	return n.steps(values), nil
}

func (n *Network) steps(values map[string]string) []engine.ActionSpec {
	steps := n.openService(networkSearch)
	steps = append(steps, n.fieldSteps(values)...)
	return append(steps, n.save(networkSearch))
}

// Configure implements engine.Configurator.
func (n *Network) Configure(ctx context.Context, runner engine.ActionRunner, s *engine.Session, req engine.ServiceRequest) engine.ServiceResult {
	return n.configure(ctx, runner, s, req, n.steps)
}
