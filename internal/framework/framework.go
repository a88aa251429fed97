// Package framework defines the declarative model schema: compartments,
// characteristics (aggregations of compartments), parameters, transition
// edges between compartments, and cascades. A Framework is the transition-
// network description that the engine turns into a runnable model.
package framework

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/expr"
)

// Parameter unit formats. For transition parameters the unit decides how the
// value is converted to a per-timestep fraction of the source compartment.
const (
	UnitNumber      = "number"
	UnitProbability = "probability"
	UnitDuration    = "duration"
	UnitProportion  = "proportion"
)

// Compartment declares one population bucket.
type Compartment struct {
	Name         string   `yaml:"name" json:"name"`
	Display      string   `yaml:"display,omitempty" json:"display,omitempty"`
	Source       bool     `yaml:"source,omitempty" json:"source,omitempty"`
	Sink         bool     `yaml:"sink,omitempty" json:"sink,omitempty"`
	Junction     bool     `yaml:"junction,omitempty" json:"junction,omitempty"`
	SetupWeight  *float64 `yaml:"setup_weight,omitempty" json:"setup_weight,omitempty"`
	Default      *float64 `yaml:"default,omitempty" json:"default,omitempty"`
	Calibratable bool     `yaml:"calibratable,omitempty" json:"calibratable,omitempty"`
}

// Characteristic declares a derived quantity: the sum of its components
// (compartments or other characteristics), optionally normalized by a
// denominator.
type Characteristic struct {
	Name         string   `yaml:"name" json:"name"`
	Display      string   `yaml:"display,omitempty" json:"display,omitempty"`
	Components   []string `yaml:"components" json:"components"`
	Denominator  string   `yaml:"denominator,omitempty" json:"denominator,omitempty"`
	SetupWeight  *float64 `yaml:"setup_weight,omitempty" json:"setup_weight,omitempty"`
	Default      *float64 `yaml:"default,omitempty" json:"default,omitempty"`
	Calibratable bool     `yaml:"calibratable,omitempty" json:"calibratable,omitempty"`
}

// Parameter declares either a directly supplied time series quantity or a
// formula-derived quantity computed from other variables each step.
type Parameter struct {
	Name         string   `yaml:"name" json:"name"`
	Display      string   `yaml:"display,omitempty" json:"display,omitempty"`
	Units        string   `yaml:"units" json:"units"`
	Timescale    float64  `yaml:"timescale,omitempty" json:"timescale,omitempty"`
	Min          *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max          *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Function     string   `yaml:"function,omitempty" json:"function,omitempty"`
	Derivative   bool     `yaml:"derivative,omitempty" json:"derivative,omitempty"`
	Default      *float64 `yaml:"default,omitempty" json:"default,omitempty"`
	Calibratable bool     `yaml:"calibratable,omitempty" json:"calibratable,omitempty"`

	compiled *expr.Expr
}

// Compiled returns the parsed formula, or nil for data parameters.
// Only valid after the framework has been validated.
func (p *Parameter) Compiled() *expr.Expr { return p.compiled }

// HasFunction reports whether the parameter is formula-derived.
func (p *Parameter) HasFunction() bool { return p.Function != "" }

// Transition declares a directed flow between two compartments governed by
// exactly one parameter.
type Transition struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Parameter string `yaml:"parameter" json:"parameter"`
}

// CascadeStage maps one named care-pathway stage to its constituent
// characteristics or compartments (values are summed).
type CascadeStage struct {
	Name         string   `yaml:"name" json:"name"`
	Constituents []string `yaml:"constituents" json:"constituents"`
}

// Cascade is an ordered sequence of stages used for care-cascade reporting.
type Cascade struct {
	Name   string         `yaml:"name" json:"name"`
	Stages []CascadeStage `yaml:"stages" json:"stages"`
}

// Framework is a full declarative model description.
type Framework struct {
	Name            string            `yaml:"name" json:"name"`
	Description     string            `yaml:"description,omitempty" json:"description,omitempty"`
	Compartments    []*Compartment    `yaml:"compartments" json:"compartments"`
	Characteristics []*Characteristic `yaml:"characteristics,omitempty" json:"characteristics,omitempty"`
	Parameters      []*Parameter      `yaml:"parameters" json:"parameters"`
	Transitions     []Transition      `yaml:"transitions" json:"transitions"`
	Cascades        []*Cascade        `yaml:"cascades,omitempty" json:"cascades,omitempty"`

	comps   map[string]*Compartment
	characs map[string]*Characteristic
	pars    map[string]*Parameter
	// transitions grouped by governing parameter, in declaration order
	transitionsByPar map[string][]Transition
}

// Load parses a YAML framework document and validates it.
func Load(data []byte) (*Framework, error) {
	var f Framework
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("framework: parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Marshal serializes the framework back to YAML.
func (f *Framework) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("framework: marshal: %w", err)
	}
	return data, nil
}

func (f *Framework) buildLookups() {
	f.comps = make(map[string]*Compartment, len(f.Compartments))
	for _, c := range f.Compartments {
		f.comps[c.Name] = c
	}
	f.characs = make(map[string]*Characteristic, len(f.Characteristics))
	for _, c := range f.Characteristics {
		f.characs[c.Name] = c
	}
	f.pars = make(map[string]*Parameter, len(f.Parameters))
	for _, p := range f.Parameters {
		f.pars[p.Name] = p
	}
	f.transitionsByPar = make(map[string][]Transition)
	for _, tr := range f.Transitions {
		f.transitionsByPar[tr.Parameter] = append(f.transitionsByPar[tr.Parameter], tr)
	}
}

// Comp looks up a compartment by code name.
func (f *Framework) Comp(name string) (*Compartment, error) {
	if c, ok := f.comps[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("framework: compartment %q: %w", name, apperr.ErrNotFound)
}

// Charac looks up a characteristic by code name.
func (f *Framework) Charac(name string) (*Characteristic, error) {
	if c, ok := f.characs[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("framework: characteristic %q: %w", name, apperr.ErrNotFound)
}

// Par looks up a parameter by code name.
func (f *Framework) Par(name string) (*Parameter, error) {
	if p, ok := f.pars[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("framework: parameter %q: %w", name, apperr.ErrNotFound)
}

// Cascade looks up a cascade by name.
func (f *Framework) Cascade(name string) (*Cascade, error) {
	for _, c := range f.Cascades {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("framework: cascade %q: %w", name, apperr.ErrNotFound)
}

// TransitionsFor returns the transition edges governed by a parameter, in
// declaration order.
func (f *Framework) TransitionsFor(par string) []Transition {
	return f.transitionsByPar[par]
}

// IsTransitionParameter reports whether the parameter governs any edges.
func (f *Framework) IsTransitionParameter(par string) bool {
	return len(f.transitionsByPar[par]) > 0
}

// SetupWeight returns the effective setup weight for a compartment or
// characteristic: the declared weight, else 1 when a default value is
// supplied, else 0.
func setupWeight(declared *float64, def *float64) float64 {
	if declared != nil {
		return *declared
	}
	if def != nil {
		return 1
	}
	return 0
}

// CompSetupWeight returns a compartment's effective setup weight.
func (f *Framework) CompSetupWeight(c *Compartment) float64 {
	return setupWeight(c.SetupWeight, c.Default)
}

// CharacSetupWeight returns a characteristic's effective setup weight.
func (f *Framework) CharacSetupWeight(c *Characteristic) float64 {
	return setupWeight(c.SetupWeight, c.Default)
}
