// Package engine resolves parameter values and integrates transition flows
// between compartments over an evenly spaced time vector, one independent
// population at a time.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/parset"
	"github.com/epiforge/cascade/internal/progset"
	"github.com/epiforge/cascade/internal/results"
	"github.com/epiforge/cascade/internal/timeseries"
)

// Options configure one simulation run.
type Options struct {
	Name  string
	Start float64
	End   float64
	Dt    float64

	// Programs and Instructions activate the program layer: covered
	// programs overwrite their outcome parameters inside the instruction
	// window.
	Programs     *progset.ProgramSet
	Instructions *progset.Instructions

	Logger *slog.Logger
}

func (o Options) validate() error {
	if o.Dt <= 0 || o.Dt > 1 {
		return fmt.Errorf("engine: step size %g outside (0, 1]", o.Dt)
	}
	if o.End <= o.Start {
		return fmt.Errorf("engine: end year %g must be after start year %g", o.End, o.Start)
	}
	return nil
}

// programLayer bundles the optional program set with its instructions.
type programLayer struct {
	set *progset.ProgramSet
	in  *progset.Instructions
}

func (pl programLayer) overwrites(par, pop string) bool {
	if pl.set == nil || pl.in == nil {
		return false
	}
	for _, p := range pl.set.Programs {
		if !p.Targets(pop) {
			continue
		}
		for _, o := range p.Outcomes {
			if o.Parameter == par && o.Population == pop {
				return true
			}
		}
	}
	return false
}

// Run integrates the model over [Start, End] for every population in the
// parameter set and returns the full set of output series.
func Run(ctx context.Context, f *framework.Framework, ps *parset.ParameterSet, opts Options) (*results.Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	programs := programLayer{set: opts.Programs, in: opts.Instructions}

	tvec := timeseries.Vector(opts.Start, opts.End, opts.Dt)
	res := &results.Result{
		Name:        opts.Name,
		Framework:   f,
		T:           tvec,
		Dt:          opts.Dt,
		Populations: append([]string(nil), ps.Populations...),
		Outputs:     map[string]*results.PopulationOutput{},
	}

	for _, popName := range ps.Populations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pop, err := buildPopulation(f, ps, popName, tvec, programs)
		if err != nil {
			return nil, fmt.Errorf("engine: population %q: %w", popName, err)
		}
		if err := pop.initialize(f); err != nil {
			return nil, fmt.Errorf("engine: population %q: %w", popName, err)
		}
		sim := &simulation{
			pop:      pop,
			tvec:     tvec,
			dt:       opts.Dt,
			programs: programs,
			log:      log.With("population", popName),
		}
		if err := sim.run(ctx); err != nil {
			return nil, fmt.Errorf("engine: population %q: %w", popName, err)
		}
		res.Outputs[popName] = pop.output()
	}
	return res, nil
}

type simulation struct {
	pop      *population
	tvec     []float64
	dt       float64
	programs programLayer
	log      *slog.Logger

	// scratch holds the formula variable bindings, reused across steps.
	scratch map[string]float64
}

func (s *simulation) run(ctx context.Context) error {
	s.scratch = map[string]float64{"dt": s.dt}

	if err := s.precomputePars(); err != nil {
		return err
	}
	n := len(s.tvec)
	for ti := 0; ti < n; ti++ {
		if ti%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		s.updateCharacs(ti)
		if err := s.updatePars(ti); err != nil {
			return err
		}
		s.updateLinks(ti)
		s.balanceJunctions(ti)
		if ti < n-1 {
			s.updateComps(ti)
		}
	}
	return nil
}

// precomputePars evaluates every parameter that does not depend on the
// evolving state, vectorized before the step loop.
func (s *simulation) precomputePars() error {
	for _, par := range s.pop.parOrder {
		if par.dynamic {
			continue
		}
		for ti, t := range s.tvec {
			v, err := s.parValue(par, ti, t)
			if err != nil {
				return err
			}
			par.vals[ti] = v
		}
	}
	return nil
}

// bindDeps loads the current values of a formula's references into the
// shared variable map. Dependency ordering guarantees referenced parameters
// already hold their value at ti.
func (s *simulation) bindDeps(par *parameter, ti int, t float64) {
	s.scratch["t"] = t
	for _, dep := range par.deps {
		if v, ok := s.pop.vars[dep]; ok {
			s.scratch[dep] = v.value(ti)
		}
	}
}

// parValue computes a parameter's baseline value at one step: databook input
// when there is no formula or the formula is skipped, formula evaluation
// otherwise. Restriction ranges are applied last.
func (s *simulation) parValue(par *parameter, ti int, t float64) (float64, error) {
	if !par.def.HasFunction() || par.skipped(t) {
		v := par.input[ti]
		if math.IsNaN(v) {
			return 0, fmt.Errorf("parameter %q has no values at t=%g", par.def.Name, t)
		}
		return par.clamp(v), nil
	}
	s.bindDeps(par, ti, t)
	v, err := par.def.Compiled().Eval(s.scratch)
	if err != nil {
		return 0, fmt.Errorf("parameter %q at t=%g: %w", par.def.Name, t, err)
	}
	if math.IsNaN(v) {
		// 0/0 in a formula means no flow, not an undefined rate.
		v = 0
	}
	return par.clamp(v * par.scale), nil
}

func (s *simulation) updateCharacs(ti int) {
	for _, c := range s.pop.characOrder {
		c.update(ti)
	}
}

// updatePars evaluates the dynamic parameters at ti in dependency order.
// Derivative parameters integrate their formula as a rate of change, and
// covered programs overwrite their outcome parameters.
func (s *simulation) updatePars(ti int) error {
	t := s.tvec[ti]
	for _, par := range s.pop.parOrder {
		if !par.dynamic {
			continue
		}
		if par.def.Derivative {
			if ti == 0 {
				v := par.input[0]
				if math.IsNaN(v) {
					return fmt.Errorf("derivative parameter %q has no initial value", par.def.Name)
				}
				par.vals[0] = par.clamp(v)
			}
			s.bindDeps(par, ti, t)
			rate, err := par.def.Compiled().Eval(s.scratch)
			if err != nil {
				return fmt.Errorf("parameter %q at t=%g: %w", par.def.Name, t, err)
			}
			if math.IsNaN(rate) {
				rate = 0
			}
			if ti+1 < len(par.vals) {
				par.vals[ti+1] = par.clamp(par.vals[ti] + rate*par.scale*s.dt)
			}
			continue
		}

		v, err := s.parValue(par, ti, t)
		if err != nil {
			return err
		}
		if par.hasProgram {
			if pv, ok := s.programs.set.ParameterValue(s.programs.in, par.def.Name, s.pop.name, t, s.dt, s.eligibleSize(ti), v); ok {
				v = par.clamp(pv)
			}
		}
		par.vals[ti] = v
	}
	return nil
}

// eligibleSize returns the size of a program's target group at ti: the sum
// of its target compartments, or the whole population when none are named.
func (s *simulation) eligibleSize(ti int) func(*progset.Program) float64 {
	return func(p *progset.Program) float64 {
		if len(p.TargetCompartments) == 0 {
			return s.pop.popSize(ti)
		}
		total := 0.0
		for _, name := range p.TargetCompartments {
			if c, ok := s.pop.compByName[name]; ok {
				total += c.vals[ti]
			}
		}
		return total
	}
}

// updateLinks converts parameter values into realized per-step flows. Each
// outflow becomes a fraction of the source compartment; when the summed
// fractions exceed 1 they are rescaled so the compartment cannot go
// negative. Source compartment outflows carry the absolute number directly.
func (s *simulation) updateLinks(ti int) {
	for _, c := range s.pop.comps {
		if c.def.Junction || len(c.out) == 0 {
			continue
		}
		if c.def.Source {
			for _, l := range c.out {
				v := s.nonNegative(l.par, ti)
				l.vals[ti] = v * s.dt / l.par.timescale()
			}
			continue
		}

		fracs := make([]float64, len(c.out))
		total := 0.0
		for i, l := range c.out {
			v := s.nonNegative(l.par, ti)
			var frac float64
			switch l.par.def.Units {
			case framework.UnitDuration:
				frac = math.Min(1, s.dt/(v*l.par.timescale()))
			case framework.UnitProbability:
				frac = math.Min(1, v*s.dt/l.par.timescale())
			case framework.UnitNumber:
				amount := v * s.dt / l.par.timescale()
				if c.vals[ti] > 0 {
					frac = amount / c.vals[ti]
				}
			}
			fracs[i] = frac
			total += frac
		}
		if total > 1 {
			for i := range fracs {
				fracs[i] /= total
			}
		}
		for i, l := range c.out {
			l.vals[ti] = fracs[i] * c.vals[ti]
		}
	}
}

// nonNegative clamps a negative transition parameter value to zero with a
// warning, once per parameter.
func (s *simulation) nonNegative(par *parameter, ti int) float64 {
	v := par.vals[ti]
	if v >= 0 {
		return v
	}
	if _, ok := s.pop.warned[par.def.Name]; !ok {
		s.pop.warned[par.def.Name] = struct{}{}
		s.log.Warn("negative transition parameter clamped to zero",
			"parameter", par.def.Name, "t", s.tvec[ti], "value", v)
	}
	return 0
}

// balanceJunctions empties each junction at ti: its current contents plus
// everything that flowed in this step leave along its outflows, split by the
// normalized proportion weights. Topological order makes flows between
// junctions settle within a single step.
func (s *simulation) balanceJunctions(ti int) {
	for _, j := range s.pop.junctions {
		content := j.vals[ti]
		for _, l := range j.in {
			content += l.vals[ti]
		}
		total := 0.0
		weights := make([]float64, len(j.out))
		for i, l := range j.out {
			weights[i] = s.nonNegative(l.par, ti)
			total += weights[i]
		}
		for i, l := range j.out {
			if total > 0 {
				l.vals[ti] = content * weights[i] / total
			} else {
				l.vals[ti] = content / float64(len(j.out))
			}
		}
	}
}

// updateComps advances compartment sizes to ti+1 from the flows realized
// during step ti, flooring at zero.
func (s *simulation) updateComps(ti int) {
	for _, c := range s.pop.comps {
		if c.def.Source {
			continue
		}
		v := c.vals[ti]
		for _, l := range c.in {
			v += l.vals[ti]
		}
		for _, l := range c.out {
			v -= l.vals[ti]
		}
		if v < 0 {
			v = 0
		}
		c.vals[ti+1] = v
	}
}

// output packages the computed series.
func (p *population) output() *results.PopulationOutput {
	out := &results.PopulationOutput{
		Compartments:    map[string][]float64{},
		Characteristics: map[string][]float64{},
		Parameters:      map[string][]float64{},
	}
	for _, c := range p.comps {
		out.Compartments[c.def.Name] = c.vals
	}
	for _, c := range p.characs {
		out.Characteristics[c.def.Name] = c.vals
	}
	for _, par := range p.pars {
		out.Parameters[par.def.Name] = par.vals
	}
	for _, l := range p.links {
		out.Flows = append(out.Flows, &results.Flow{
			From:      l.edge.From,
			To:        l.edge.To,
			Parameter: l.edge.Parameter,
			Values:    l.vals,
		})
	}
	return out
}
