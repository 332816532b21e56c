package catalog

import (
	"context"
	"strings"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// databaseEngines maps the engine parameter to the calculator's service name.
var databaseEngines = map[string]string{
	"mysql":             "Amazon RDS for MySQL",
	"postgresql":        "Amazon RDS for PostgreSQL",
	"mariadb":           "Amazon RDS for MariaDB",
	"oracle":            "Amazon RDS for Oracle",
	"sqlserver":         "Amazon RDS for SQL Server",
	"aurora-mysql":      "Amazon Aurora MySQL-Compatible",
	"aurora-postgresql": "Amazon Aurora PostgreSQL-Compatible",
}

// Database configures a relational database. The engine parameter selects
// which calculator service is opened.
type Database struct {
	service
}

// NewDatabase creates the database configurator.
func NewDatabase(calc Calculator) *Database {
	return &Database{service{
		kind: engine.KindDatabase,
		calc: calc,
		fields: []Field{
			{Name: "engine", Required: true, Rules: "dbengine"},
			{Name: "region", Label: "Choose a Region", Op: engine.OpSelect, Default: DefaultRegion},
			{Name: "storage_amount", Label: "Storage amount", Op: engine.OpFill, Default: "20", Rules: "numeric,atleast=20"},
			{Name: "quantity", Label: "Nodes", Op: engine.OpFill, Default: "1", Rules: "numeric,atleast=1"},
			{Name: "instance_class", Label: "Search instance type", Op: engine.OpFill, Default: "db.t3.micro", Rules: "startswith=db."},
			{Name: "deployment", Label: "Deployment option", Op: engine.OpSelect, Default: "Single-AZ", Rules: "oneof=Single-AZ Multi-AZ"},
			{Name: "storage_type", Label: "Storage volume", Op: engine.OpSelect, Default: "gp3"},
		},
	}}
}

// searchTerm returns the calculator service for the engine value.
func (d *Database) searchTerm(engineName string) string {
	if term, ok := databaseEngines[strings.ToLower(engineName)]; ok {
		return term
	}
	return databaseEngines["mysql"]
}

// Validate implements engine.Configurator.
func (d *Database) Validate(req engine.ServiceRequest) error {
	_, _, err := d.resolve(req)
	return err
}

// Procedure returns the UI steps for req.
func (d *Database) Procedure(req engine.ServiceRequest) ([]engine.ActionSpec, error) {
	values, _, err := d.resolve(req)
	if err != nil {
		return nil, err
	}
	return d.steps(values), nil
}

func (d *Database) steps(values map[string]string) []engine.ActionSpec {
	term := d.searchTerm(values["engine"])
	steps := d.openService(term)
	steps = append(steps, d.fieldSteps(values, "engine")...)
	return append(steps, d.save(term))
}

// Configure implements engine.Configurator.
func (d *Database) Configure(ctx context.Context, runner engine.ActionRunner, s *engine.Session, req engine.ServiceRequest) engine.ServiceResult {
	return d.configure(ctx, runner, s, req, d.steps)
}
