package templates

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// RequestFile is the user's description of an estimate. JSON files are
// accepted as well since they are valid YAML.
//
//	infrastructure: basic_web_app
//	template: production
//	services:
//	  - id: api
//	    kind: compute
//	    template: web_server
//	    parameters:
//	      instance_type: m5.large
type RequestFile struct {
	// Infrastructure names an infrastructure template whose services are
	// added before the listed ones.
	Infrastructure string `yaml:"infrastructure" json:"infrastructure,omitempty"`

	// Template is applied to services that name none, falling back to the
	// default template for kinds that do not define it.
	Template string `yaml:"template" json:"template,omitempty"`

	Services []ServiceEntry `yaml:"services" json:"services"`
}

// ServiceEntry is one requested service.
type ServiceEntry struct {
	ID         string            `yaml:"id" json:"id,omitempty"`
	Kind       string            `yaml:"kind" json:"kind"`
	Template   string            `yaml:"template" json:"template,omitempty"`
	Parameters map[string]string `yaml:"parameters" json:"parameters,omitempty"`
}

// ReadRequestFile reads a request file. "-" reads standard input.
func ReadRequestFile(path string) (*RequestFile, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open request file: %w", err)
		}
		defer f.Close()
		r = f
	}

	rf, err := ParseRequestFile(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rf, nil
}

// ParseRequestFile decodes a request file. Unknown keys are rejected.
func ParseRequestFile(r io.Reader) (*RequestFile, error) {
	var rf RequestFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("request file is empty")
		}
		return nil, fmt.Errorf("failed to parse request file: %w", err)
	}
	if rf.Infrastructure == "" && len(rf.Services) == 0 {
		return nil, fmt.Errorf("request file lists no services")
	}
	return &rf, nil
}

// Expand turns a request file into service requests. Template values become
// the request defaults and the entry's parameters override them. override,
// if set, replaces the file's template.
//
// An entry whose kind matches a not yet claimed service of the
// infrastructure refines that service instead of adding another one.
// Unknown kinds are passed through unchanged so the run rejects them.
func (s *Set) Expand(rf *RequestFile, override string) ([]engine.ServiceRequest, error) {
	global := rf.Template
	if override != "" {
		global = override
	}

	var requests []engine.ServiceRequest
	var fromInfra []bool

	if rf.Infrastructure != "" {
		inf, ok := s.Infrastructure(rf.Infrastructure)
		if !ok {
			return nil, fmt.Errorf("unknown infrastructure template %q", rf.Infrastructure)
		}
		for _, svc := range inf.Services {
			base, err := s.resolve(svc.Kind, svc.Template, svc.Template != "")
			if err != nil {
				return nil, fmt.Errorf("infrastructure %s: %w", inf.Name, err)
			}
			defaults := maps.Clone(base.Values)
			maps.Copy(defaults, svc.Values)
			requests = append(requests, engine.ServiceRequest{
				Kind:     svc.Kind,
				Defaults: defaults,
				Template: inf.Name,
			})
			fromInfra = append(fromInfra, true)
		}
	}

	for i, entry := range rf.Services {
		kind, err := engine.ParseServiceKind(entry.Kind)
		if err != nil {
			kind = engine.ServiceKind(entry.Kind)
		}

		if idx := claim(requests, fromInfra, kind); idx >= 0 {
			fromInfra[idx] = false
			req := &requests[idx]
			req.ID = entry.ID
			req.Parameters = maps.Clone(entry.Parameters)
			if entry.Template != "" {
				t, err := s.resolve(kind, entry.Template, true)
				if err != nil {
					return nil, fmt.Errorf("service %d: %w", i+1, err)
				}
				defaults := maps.Clone(t.Values)
				maps.Copy(defaults, req.Defaults)
				req.Defaults = defaults
			}
			continue
		}

		name, explicit := entry.Template, entry.Template != ""
		if !explicit {
			name = global
		}
		t, err := s.resolve(kind, name, explicit)
		if err != nil {
			return nil, fmt.Errorf("service %d: %w", i+1, err)
		}
		templateName := ""
		if len(t.Values) > 0 {
			templateName = t.Name
		}
		requests = append(requests, engine.ServiceRequest{
			ID:         entry.ID,
			Kind:       kind,
			Parameters: maps.Clone(entry.Parameters),
			Defaults:   maps.Clone(t.Values),
			Template:   templateName,
		})
		fromInfra = append(fromInfra, false)
	}

	for i := range requests {
		if len(requests[i].Parameters) == 0 {
			requests[i].Origin = engine.OriginTemplateDefault
		} else {
			requests[i].Origin = engine.OriginUserSupplied
		}
	}
	return requests, nil
}

// claim returns the index of the first unclaimed infrastructure request of
// kind, or -1.
func claim(requests []engine.ServiceRequest, fromInfra []bool, kind engine.ServiceKind) int {
	for i, req := range requests {
		if fromInfra[i] && req.Kind == kind {
			return i
		}
	}
	return -1
}
