package framework

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/expr"
)

// reservedNames are identifiers with special meaning inside parameter
// formulas; code names must not shadow them.
var reservedNames = func() map[string]struct{} {
	m := map[string]struct{}{"t": {}, "dt": {}}
	for _, fn := range expr.Functions() {
		m[fn] = struct{}{}
	}
	return m
}()

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("code name cannot be empty")
	}
	if strings.ContainsAny(name, ":,") {
		return fmt.Errorf("code name %q cannot contain ':' or ','", name)
	}
	if _, ok := reservedNames[name]; ok {
		return fmt.Errorf("code name %q is a reserved keyword", name)
	}
	return nil
}

// Validate checks the framework for internal consistency, compiles every
// parameter formula, and builds the lookup tables. All errors wrap
// apperr.ErrInvalid so callers can map them to a validation failure.
func (f *Framework) Validate() error {
	if err := f.validate(); err != nil {
		return fmt.Errorf("framework %q: %w: %w", f.Name, apperr.ErrInvalid, err)
	}
	return nil
}

func (f *Framework) validate() error {
	if err := validation.ValidateStruct(f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Compartments, validation.Required),
		validation.Field(&f.Parameters, validation.Required),
	); err != nil {
		return err
	}

	f.buildLookups()

	// Unique code names across all entity kinds, no reserved words.
	seen := map[string]string{}
	check := func(kind, name string) error {
		if err := validName(name); err != nil {
			return err
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("duplicate code name %q (%s and %s)", name, prev, kind)
		}
		seen[name] = kind
		return nil
	}
	for _, c := range f.Compartments {
		if err := check("compartment", c.Name); err != nil {
			return err
		}
	}
	for _, c := range f.Characteristics {
		if err := check("characteristic", c.Name); err != nil {
			return err
		}
	}
	for _, p := range f.Parameters {
		if err := check("parameter", p.Name); err != nil {
			return err
		}
	}

	// Unique display names where provided.
	displays := map[string]struct{}{}
	for _, name := range f.displayNames() {
		if name == "" {
			continue
		}
		if _, ok := displays[name]; ok {
			return fmt.Errorf("duplicate display name %q", name)
		}
		displays[name] = struct{}{}
	}

	for _, c := range f.Compartments {
		if err := f.validateCompartment(c); err != nil {
			return err
		}
	}
	for _, c := range f.Characteristics {
		if err := f.validateCharacteristic(c); err != nil {
			return err
		}
	}
	for _, p := range f.Parameters {
		if err := f.validateParameter(p); err != nil {
			return err
		}
	}
	for _, tr := range f.Transitions {
		if _, ok := f.comps[tr.From]; !ok {
			return fmt.Errorf("transition %s -> %s: unknown source compartment %q", tr.From, tr.To, tr.From)
		}
		if _, ok := f.comps[tr.To]; !ok {
			return fmt.Errorf("transition %s -> %s: unknown destination compartment %q", tr.From, tr.To, tr.To)
		}
		if _, ok := f.pars[tr.Parameter]; !ok {
			return fmt.Errorf("transition %s -> %s: unknown parameter %q", tr.From, tr.To, tr.Parameter)
		}
	}
	for _, c := range f.Cascades {
		if err := f.validateCascade(c); err != nil {
			return err
		}
	}
	return f.validateJunctionGraph()
}

func (f *Framework) displayNames() []string {
	var out []string
	for _, c := range f.Compartments {
		out = append(out, c.Display)
	}
	for _, c := range f.Characteristics {
		out = append(out, c.Display)
	}
	for _, p := range f.Parameters {
		out = append(out, p.Display)
	}
	return out
}

func (f *Framework) validateCompartment(c *Compartment) error {
	n := 0
	for _, flag := range []bool{c.Source, c.Sink, c.Junction} {
		if flag {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("compartment %q can only be one of source, sink, or junction", c.Name)
	}
	if (c.Source || c.Sink) && f.CompSetupWeight(c) > 0 {
		return fmt.Errorf("compartment %q is a source or sink but has a nonzero setup weight", c.Name)
	}
	if (c.Source || c.Sink) && c.Default != nil {
		return fmt.Errorf("compartment %q is a source or sink but has a default value", c.Name)
	}
	return nil
}

func (f *Framework) validateCharacteristic(c *Characteristic) error {
	if len(c.Components) == 0 {
		return fmt.Errorf("characteristic %q has no components", c.Name)
	}
	for _, comp := range c.Components {
		if !f.isCompOrCharac(comp) {
			return fmt.Errorf("characteristic %q: component %q is not a compartment or characteristic", c.Name, comp)
		}
	}
	if c.Denominator != "" && !f.isCompOrCharac(c.Denominator) {
		return fmt.Errorf("characteristic %q: denominator %q is not a compartment or characteristic", c.Name, c.Denominator)
	}
	return nil
}

func (f *Framework) isCompOrCharac(name string) bool {
	if _, ok := f.comps[name]; ok {
		return true
	}
	_, ok := f.characs[name]
	return ok
}

func (f *Framework) validateParameter(p *Parameter) error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.Units, validation.Required,
			validation.In(UnitNumber, UnitProbability, UnitDuration, UnitProportion)),
		validation.Field(&p.Timescale, validation.Min(0.0)),
	); err != nil {
		return fmt.Errorf("parameter %q: %w", p.Name, err)
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return fmt.Errorf("parameter %q: min %v exceeds max %v", p.Name, *p.Min, *p.Max)
	}
	if p.Derivative && !p.HasFunction() {
		return fmt.Errorf("parameter %q: derivative parameters need a function", p.Name)
	}

	if p.HasFunction() {
		compiled, err := expr.Parse(p.Function)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		for _, dep := range compiled.Vars() {
			if dep == "t" || dep == "dt" {
				continue
			}
			if !f.isCompOrCharac(dep) {
				if _, ok := f.pars[dep]; !ok {
					return fmt.Errorf("parameter %q: formula references unknown variable %q", p.Name, dep)
				}
			}
		}
		p.compiled = compiled
	}

	edges := f.transitionsByPar[p.Name]
	if len(edges) == 0 {
		return nil
	}

	// Transition parameter constraints.
	fromSeen := map[string]struct{}{}
	specialOutflows := 0
	for _, e := range edges {
		if _, dup := fromSeen[e.From]; dup {
			return fmt.Errorf("parameter %q governs more than one transition out of compartment %q", p.Name, e.From)
		}
		fromSeen[e.From] = struct{}{}

		src := f.comps[e.From]
		dst := f.comps[e.To]
		switch {
		case src.Sink:
			return fmt.Errorf("parameter %q has an outflow from sink compartment %q", p.Name, e.From)
		case src.Source:
			specialOutflows++
			if p.Units != UnitNumber {
				return fmt.Errorf("parameter %q flows out of source compartment %q and must be in %q units", p.Name, e.From, UnitNumber)
			}
		case src.Junction:
			specialOutflows++
			if p.Units != UnitProportion {
				return fmt.Errorf("parameter %q flows out of junction %q and must be in %q units", p.Name, e.From, UnitProportion)
			}
		}
		if p.Units == UnitProportion && !src.Junction {
			return fmt.Errorf("parameter %q has %q units so all its outflows must leave junctions, but %q is not one", p.Name, UnitProportion, e.From)
		}
		if dst.Source {
			return fmt.Errorf("parameter %q has an inflow into source compartment %q", p.Name, e.To)
		}
	}
	if specialOutflows > 1 {
		return fmt.Errorf("parameter %q has outflows from more than one source or junction compartment", p.Name)
	}
	return nil
}

func (f *Framework) validateCascade(c *Cascade) error {
	if c.Name == "" {
		return fmt.Errorf("cascade name cannot be empty")
	}
	if _, clash := f.comps[c.Name]; clash {
		return fmt.Errorf("cascade %q cannot share a name with a compartment", c.Name)
	}
	if _, clash := f.characs[c.Name]; clash {
		return fmt.Errorf("cascade %q cannot share a name with a characteristic", c.Name)
	}
	if _, clash := f.pars[c.Name]; clash {
		return fmt.Errorf("cascade %q cannot share a name with a parameter", c.Name)
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("cascade %q has no stages", c.Name)
	}
	for _, stage := range c.Stages {
		if stage.Name == "" {
			return fmt.Errorf("cascade %q has a stage with no name", c.Name)
		}
		if len(stage.Constituents) == 0 {
			return fmt.Errorf("cascade %q stage %q has no constituents", c.Name, stage.Name)
		}
		for _, name := range stage.Constituents {
			if !f.isCompOrCharac(name) {
				return fmt.Errorf("cascade %q stage %q: constituent %q is not a compartment or characteristic", c.Name, stage.Name, name)
			}
		}
	}
	return nil
}

// validateJunctionGraph checks that junction-to-junction flows form a DAG.
// Junction outflows are balanced in topological order during integration, so
// a cycle would leave people circulating forever within a single timestep.
func (f *Framework) validateJunctionGraph() error {
	if _, err := f.JunctionOrder(); err != nil {
		return err
	}
	return nil
}

// JunctionOrder returns the junction compartment names ordered so that a
// junction always precedes any junction it flows into (Kahn's algorithm).
func (f *Framework) JunctionOrder() ([]string, error) {
	indegree := map[string]int{}
	succ := map[string][]string{}
	for _, c := range f.Compartments {
		if c.Junction {
			indegree[c.Name] = 0
		}
	}
	for _, tr := range f.Transitions {
		if _, fromJ := indegree[tr.From]; !fromJ {
			continue
		}
		if _, toJ := indegree[tr.To]; !toJ {
			continue
		}
		succ[tr.From] = append(succ[tr.From], tr.To)
		indegree[tr.To]++
	}

	var queue []string
	for _, c := range f.Compartments { // declaration order keeps the sort stable
		if c.Junction && indegree[c.Name] == 0 {
			queue = append(queue, c.Name)
		}
	}
	var order []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, next := range succ[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(indegree) {
		return nil, fmt.Errorf("junction compartments form a cycle")
	}
	return order, nil
}
