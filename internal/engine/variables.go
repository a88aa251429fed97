package engine

import (
	"fmt"
	"math"

	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/parset"
)

// valued is any integration object exposing a value per timestep; formulas
// and characteristic includes resolve their references through it.
type valued interface {
	name() string
	value(ti int) float64
}

type compartment struct {
	def  *framework.Compartment
	vals []float64
	in   []*link
	out  []*link
}

func (c *compartment) name() string         { return c.def.Name }
func (c *compartment) value(ti int) float64 { return c.vals[ti] }

type link struct {
	edge framework.Transition
	par  *parameter
	from *compartment
	to   *compartment
	vals []float64
}

type characteristic struct {
	def      *framework.Characteristic
	vals     []float64
	includes []valued
	denom    valued
}

func (c *characteristic) name() string         { return c.def.Name }
func (c *characteristic) value(ti int) float64 { return c.vals[ti] }

// update computes the characteristic at ti from its members. A zero
// denominator yields 0 for an empty numerator and +Inf otherwise.
func (c *characteristic) update(ti int) {
	total := 0.0
	for _, inc := range c.includes {
		total += inc.value(ti)
	}
	if c.denom != nil {
		d := c.denom.value(ti)
		switch {
		case d != 0:
			total /= d
		case total == 0:
			total = 0
		default:
			total = math.Inf(1)
		}
	}
	c.vals[ti] = total
}

type parameter struct {
	def  *framework.Parameter
	vals []float64

	// input holds the scaled interpolated databook values, NaN where the
	// parameter has no data.
	input []float64
	scale float64
	skip  []parset.SkipWindow

	dynamic    bool
	hasProgram bool
	deps       []string
}

func (p *parameter) name() string         { return p.def.Name }
func (p *parameter) value(ti int) float64 { return p.vals[ti] }

func (p *parameter) skipped(t float64) bool {
	for _, w := range p.skip {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// clamp applies the declared restriction range.
func (p *parameter) clamp(v float64) float64 {
	if p.def.Min != nil && v < *p.def.Min {
		v = *p.def.Min
	}
	if p.def.Max != nil && v > *p.def.Max {
		v = *p.def.Max
	}
	return v
}

func (p *parameter) timescale() float64 {
	if p.def.Timescale > 0 {
		return p.def.Timescale
	}
	return 1
}

// population holds the integration objects for one population, wired
// together and ordered for evaluation.
type population struct {
	name string

	comps   []*compartment
	characs []*characteristic
	pars    []*parameter
	links   []*link

	compByName   map[string]*compartment
	characByName map[string]*characteristic
	parByName    map[string]*parameter
	vars         map[string]valued

	// characOrder and parOrder are dependency orders; junctions is the
	// junction balancing order.
	characOrder []*characteristic
	parOrder    []*parameter
	junctions   []*compartment

	warned map[string]struct{}
}

// buildPopulation instantiates and wires the integration objects for one
// population over a time vector of n steps.
func buildPopulation(f *framework.Framework, ps *parset.ParameterSet, pop string, tvec []float64, programs programLayer) (*population, error) {
	n := len(tvec)
	p := &population{
		name:         pop,
		compByName:   map[string]*compartment{},
		characByName: map[string]*characteristic{},
		parByName:    map[string]*parameter{},
		vars:         map[string]valued{},
		warned:       map[string]struct{}{},
	}

	for _, def := range f.Compartments {
		c := &compartment{def: def, vals: make([]float64, n)}
		p.comps = append(p.comps, c)
		p.compByName[def.Name] = c
		p.vars[def.Name] = c
	}
	for _, def := range f.Characteristics {
		c := &characteristic{def: def, vals: make([]float64, n)}
		p.characs = append(p.characs, c)
		p.characByName[def.Name] = c
		p.vars[def.Name] = c
	}
	for _, def := range f.Parameters {
		par := &parameter{def: def, vals: make([]float64, n), scale: ps.ScaleFactor(def.Name, pop)}
		input, err := ps.Interpolate(def.Name, pop, tvec, ps.Method(def.Name, pop))
		if err != nil {
			return nil, err
		}
		par.input = input
		if v, err := ps.Get(def.Name, pop); err == nil {
			par.skip = v.Skip
		}
		if def.HasFunction() {
			par.deps = def.Compiled().Vars()
		}
		par.hasProgram = programs.overwrites(def.Name, pop)
		p.pars = append(p.pars, par)
		p.parByName[def.Name] = par
		p.vars[def.Name] = par
	}

	for _, edge := range f.Transitions {
		l := &link{
			edge: edge,
			par:  p.parByName[edge.Parameter],
			from: p.compByName[edge.From],
			to:   p.compByName[edge.To],
			vals: make([]float64, n),
		}
		l.from.out = append(l.from.out, l)
		l.to.in = append(l.to.in, l)
		p.links = append(p.links, l)
	}

	for _, c := range p.characs {
		for _, name := range c.def.Components {
			c.includes = append(c.includes, p.vars[name])
		}
		if c.def.Denominator != "" {
			c.denom = p.vars[c.def.Denominator]
		}
	}

	if err := p.orderCharacs(); err != nil {
		return nil, err
	}
	if err := p.orderPars(); err != nil {
		return nil, err
	}
	order, err := f.JunctionOrder()
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		p.junctions = append(p.junctions, p.compByName[name])
	}

	p.classifyDynamic()
	return p, nil
}

// orderCharacs sorts characteristics so members are computed before the
// characteristics that include them.
func (p *population) orderCharacs() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var visit func(c *characteristic) error
	visit = func(c *characteristic) error {
		switch state[c.def.Name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("engine: characteristic %q includes itself via a cycle", c.def.Name)
		}
		state[c.def.Name] = visiting
		refs := append([]string{}, c.def.Components...)
		if c.def.Denominator != "" {
			refs = append(refs, c.def.Denominator)
		}
		for _, name := range refs {
			if dep, ok := p.characByName[name]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[c.def.Name] = done
		p.characOrder = append(p.characOrder, c)
		return nil
	}
	for _, c := range p.characs {
		if err := visit(c); err != nil {
			return err
		}
	}
	return nil
}

// orderPars sorts parameters so formula dependencies on other parameters are
// evaluated first.
func (p *population) orderPars() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var visit func(par *parameter) error
	visit = func(par *parameter) error {
		switch state[par.def.Name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("engine: parameter %q depends on itself via a cycle", par.def.Name)
		}
		state[par.def.Name] = visiting
		for _, name := range par.deps {
			// Derivative formulas may reference their own parameter.
			if name == par.def.Name {
				continue
			}
			if dep, ok := p.parByName[name]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[par.def.Name] = done
		p.parOrder = append(p.parOrder, par)
		return nil
	}
	for _, par := range p.pars {
		if err := visit(par); err != nil {
			return err
		}
	}
	return nil
}

// classifyDynamic marks the parameters that must be re-evaluated every step:
// derivatives, program-overwritten parameters, and formulas that depend
// directly or transitively on compartment or characteristic values.
func (p *population) classifyDynamic() {
	memo := map[string]bool{}
	var dyn func(par *parameter) bool
	dyn = func(par *parameter) bool {
		if v, ok := memo[par.def.Name]; ok {
			return v
		}
		memo[par.def.Name] = false // break cycles conservatively
		d := par.def.Derivative || par.hasProgram
		if !d {
			for _, name := range par.deps {
				if _, isComp := p.compByName[name]; isComp {
					d = true
					break
				}
				if _, isCharac := p.characByName[name]; isCharac {
					d = true
					break
				}
				if dep, isPar := p.parByName[name]; isPar && dyn(dep) {
					d = true
					break
				}
			}
		}
		memo[par.def.Name] = d
		return d
	}
	for _, par := range p.pars {
		par.dynamic = dyn(par)
	}
}

// popSize is the number of people in ordinary compartments at ti, used as
// the default program eligibility denominator.
func (p *population) popSize(ti int) float64 {
	total := 0.0
	for _, c := range p.comps {
		if c.def.Source || c.def.Sink {
			continue
		}
		total += c.vals[ti]
	}
	return total
}
