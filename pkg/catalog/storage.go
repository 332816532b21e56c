package catalog

import (
	"context"
	"fmt"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

const storageSearch = "Amazon Simple Storage Service (S3)"

// Storage configures S3. The storage class picks the section of the form
// that is enabled before the amount is entered.
type Storage struct {
	service
}

// NewStorage creates the storage configurator.
func NewStorage(calc Calculator) *Storage {
	return &Storage{service{
		kind: engine.KindStorage,
		calc: calc,
		fields: []Field{
			{Name: "region", Label: "Choose a Region", Op: engine.OpSelect, Default: DefaultRegion},
			{Name: "storage_class", Default: "Standard", Rules: "oneof=Standard Standard-IA 'One Zone-IA' Glacier Intelligent-Tiering"},
			{Name: "storage_amount", Label: "Storage amount", Op: engine.OpFill, Default: "100", Rules: "numeric,atleast=0"},
			{Name: "put_requests", Label: "PUT, COPY, POST, LIST requests to S3", Op: engine.OpFill, Default: "0", Rules: "numeric,atleast=0"},
			{Name: "get_requests", Label: "GET, SELECT, and all other requests from S3", Op: engine.OpFill, Default: "0", Rules: "numeric,atleast=0"},
		},
	}}
}

// Validate implements engine.Configurator.
func (s *Storage) Validate(req engine.ServiceRequest) error {
	_, _, err := s.resolve(req)
	return err
}

// Procedure returns the UI steps for req.
func (s *Storage) Procedure(req engine.ServiceRequest) ([]engine.ActionSpec, error) {
	values, _, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	return s.steps(values), nil
}

func (s *Storage) steps(values map[string]string) []engine.ActionSpec {
	class := values["storage_class"]
	toggle := fmt.Sprintf(`input[type="checkbox"][aria-label=%q]`, "S3 "+class)
	section := fmt.Sprintf(`section[aria-label=%q]`, "S3 "+class+" settings")

	steps := s.openService(storageSearch)
	steps = append(steps, engine.ActionSpec{
		Name:           "enable S3 " + class,
		Target:         toggle,
		Operation:      engine.OpClick,
		ExpectedSignal: engine.Signal{Selector: section},
	})
	steps = append(steps, s.fieldSteps(values, "storage_class")...)
	return append(steps, s.save(storageSearch))
}

// Configure implements engine.Configurator.
func (s *Storage) Configure(ctx context.Context, runner engine.ActionRunner, sess *engine.Session, req engine.ServiceRequest) engine.ServiceResult {
	return s.configure(ctx, runner, sess, req, s.steps)
}
