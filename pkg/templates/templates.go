package templates

import (
	_ "embed"
	"fmt"
	"maps"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/calcpilot/calcpilot/pkg/engine"
)

// DefaultName is the template applied when none is named.
const DefaultName = "default"

//go:embed builtin.yaml
var builtinYAML []byte

// Template is a named set of default values for one service kind.
type Template struct {
	Name        string             `json:"name" yaml:"-"`
	Kind        engine.ServiceKind `json:"kind" yaml:"-"`
	Description string             `json:"description,omitempty" yaml:"description"`
	Values      map[string]string  `json:"values" yaml:"values"`
	Source      string             `json:"source,omitempty" yaml:"-"`
}

// Infrastructure is a named architecture: a list of services with their
// values.
type Infrastructure struct {
	Name        string         `json:"name" yaml:"-"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Services    []InfraService `json:"services" yaml:"services"`
	Source      string         `json:"source,omitempty" yaml:"-"`
}

// InfraService is one service of an infrastructure template. Values are
// applied on top of the named per-service template.
type InfraService struct {
	Kind     engine.ServiceKind `json:"kind" yaml:"-"`
	RawKind  string             `json:"-" yaml:"kind"`
	Template string             `json:"template,omitempty" yaml:"template"`
	Values   map[string]string  `json:"values,omitempty" yaml:"values"`
}

// file is the on-disk layout of a template file.
type file struct {
	Services       map[string]map[string]Template `yaml:"services"`
	Infrastructure map[string]Infrastructure      `yaml:"infrastructure"`
}

// Set is an immutable collection of templates.
type Set struct {
	services map[engine.ServiceKind]map[string]Template
	infra    map[string]Infrastructure
}

func newSet() *Set {
	return &Set{
		services: make(map[engine.ServiceKind]map[string]Template),
		infra:    make(map[string]Infrastructure),
	}
}

// Parse decodes a template file. source is recorded on every template.
func Parse(data []byte, source string) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse templates %s: %w", source, err)
	}

	s := newSet()
	for rawKind, named := range f.Services {
		kind, err := engine.ParseServiceKind(rawKind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		if s.services[kind] == nil {
			s.services[kind] = make(map[string]Template)
		}
		for name, t := range named {
			t.Name = name
			t.Kind = kind
			t.Source = source
			if t.Values == nil {
				t.Values = map[string]string{}
			}
			s.services[kind][name] = t
		}
	}

	for name, inf := range f.Infrastructure {
		if len(inf.Services) == 0 {
			return nil, fmt.Errorf("%s: infrastructure %s lists no services", source, name)
		}
		for i := range inf.Services {
			kind, err := engine.ParseServiceKind(inf.Services[i].RawKind)
			if err != nil {
				return nil, fmt.Errorf("%s: infrastructure %s: %w", source, name, err)
			}
			inf.Services[i].Kind = kind
		}
		inf.Name = name
		inf.Source = source
		s.infra[name] = inf
	}
	return s, nil
}

var builtin = sync.OnceValues(func() (*Set, error) {
	return Parse(builtinYAML, "builtin")
})

// Builtin returns the templates shipped with calcpilot.
func Builtin() *Set {
	s, err := builtin()
	if err != nil {
		panic(err)
	}
	return s
}

// Merge returns a set holding both sets' templates. Entries of other win.
func (s *Set) Merge(other *Set) *Set {
	merged := newSet()
	for _, src := range []*Set{s, other} {
		for kind, named := range src.services {
			if merged.services[kind] == nil {
				merged.services[kind] = make(map[string]Template)
			}
			maps.Copy(merged.services[kind], named)
		}
		maps.Copy(merged.infra, src.infra)
	}
	return merged
}

// Service returns the template name of kind.
func (s *Set) Service(kind engine.ServiceKind, name string) (Template, bool) {
	t, ok := s.services[kind][name]
	return t, ok
}

// Infrastructure returns the infrastructure template name.
func (s *Set) Infrastructure(name string) (Infrastructure, bool) {
	inf, ok := s.infra[name]
	return inf, ok
}

// Services lists every service template in configuration order, then by name.
func (s *Set) Services() []Template {
	var out []Template
	for _, named := range s.services {
		for _, t := range named {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind.Priority() < out[j].Kind.Priority()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Infrastructures lists every infrastructure template by name.
func (s *Set) Infrastructures() []Infrastructure {
	out := make([]Infrastructure, 0, len(s.infra))
	for _, inf := range s.infra {
		out = append(out, inf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// resolve finds the template applied to a service of kind. A name that is
// not defined for kind falls back to the default unless it was asked for
// explicitly. Kinds without templates resolve to an empty template.
func (s *Set) resolve(kind engine.ServiceKind, name string, explicit bool) (Template, error) {
	if name == "" {
		name = DefaultName
	}
	if t, ok := s.Service(kind, name); ok {
		return t, nil
	}
	if explicit && name != DefaultName {
		return Template{}, fmt.Errorf("template %q is not defined for %s", name, kind)
	}
	if t, ok := s.Service(kind, DefaultName); ok {
		return t, nil
	}
	return Template{Kind: kind, Values: map[string]string{}}, nil
}
