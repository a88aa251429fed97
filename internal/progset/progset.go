// Package progset models funded programs: how spending buys capacity, how
// capacity covers a target group, and which parameter values a covered
// program imposes on the model.
package progset

import (
	"fmt"
	"math"
	"sort"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/timeseries"
)

// Outcome is the parameter value a program writes into (Parameter,
// Population) while it is active, weighted by the program's coverage.
type Outcome struct {
	Parameter  string  `yaml:"parameter" json:"parameter"`
	Population string  `yaml:"population" json:"population"`
	Value      float64 `yaml:"value" json:"value"`
}

// Program converts money into coverage of a target group.
type Program struct {
	Name    string `yaml:"name" json:"name"`
	Display string `yaml:"display,omitempty" json:"display,omitempty"`

	// UnitCost is the spend required to reach one person per year.
	UnitCost float64 `yaml:"unit_cost" json:"unit_cost"`

	// CapacityConstraint caps the number of people the program can reach
	// per year regardless of funding. Zero means unconstrained.
	CapacityConstraint float64 `yaml:"capacity_constraint,omitempty" json:"capacity_constraint,omitempty"`

	// Spending is the default annual budget over time.
	Spending *timeseries.Series `yaml:"spending" json:"spending"`

	// TargetPopulations and TargetCompartments define whose size the
	// coverage denominator is taken over.
	TargetPopulations  []string `yaml:"target_populations" json:"target_populations"`
	TargetCompartments []string `yaml:"target_compartments" json:"target_compartments"`

	Outcomes []Outcome `yaml:"outcomes" json:"outcomes"`
}

// Capacity returns the number of people the program can reach per year given
// annual spending.
func (p *Program) Capacity(spending float64) float64 {
	if p.UnitCost <= 0 {
		return 0
	}
	capacity := spending / p.UnitCost
	if p.CapacityConstraint > 0 && capacity > p.CapacityConstraint {
		capacity = p.CapacityConstraint
	}
	return capacity
}

// CoverageFraction converts capacity into the fraction of the eligible group
// reached. An empty eligible group counts as fully covered.
func (p *Program) CoverageFraction(capacity, eligible float64) float64 {
	if eligible <= 0 {
		return 1
	}
	return math.Min(1, capacity/eligible)
}

// Targets reports whether the program reaches population pop.
func (p *Program) Targets(pop string) bool {
	for _, t := range p.TargetPopulations {
		if t == pop {
			return true
		}
	}
	return false
}

// ProgramSet is a named collection of programs.
type ProgramSet struct {
	Name     string     `yaml:"name" json:"name"`
	Programs []*Program `yaml:"programs" json:"programs"`

	byName map[string]*Program
}

// New builds a program set and validates that program names are unique and
// each program is usable.
func New(name string, programs []*Program) (*ProgramSet, error) {
	ps := &ProgramSet{Name: name, Programs: programs, byName: map[string]*Program{}}
	for _, p := range programs {
		if p.Name == "" {
			return nil, fmt.Errorf("progset: program without a name: %w", apperr.ErrInvalid)
		}
		if _, dup := ps.byName[p.Name]; dup {
			return nil, fmt.Errorf("progset: duplicate program %q: %w", p.Name, apperr.ErrInvalid)
		}
		if p.UnitCost <= 0 {
			return nil, fmt.Errorf("progset: program %q: unit cost must be positive: %w", p.Name, apperr.ErrInvalid)
		}
		if len(p.TargetPopulations) == 0 {
			return nil, fmt.Errorf("progset: program %q targets no populations: %w", p.Name, apperr.ErrInvalid)
		}
		ps.byName[p.Name] = p
	}
	return ps, nil
}

// Program looks up a program by name.
func (ps *ProgramSet) Program(name string) (*Program, error) {
	p, ok := ps.byName[name]
	if !ok {
		return nil, fmt.Errorf("progset: program %q: %w", name, apperr.ErrNotFound)
	}
	return p, nil
}

// Names lists program names in sorted order.
func (ps *ProgramSet) Names() []string {
	names := make([]string, 0, len(ps.byName))
	for name := range ps.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instructions select when programs take over parameter values and let a
// scenario override spending, capacity, or coverage per program. Overrides
// take precedence in that order: an explicit coverage beats a capacity
// override, which beats a spending override, which beats the program's
// default spending series.
type Instructions struct {
	Start float64 `yaml:"start" json:"start"`
	Stop  float64 `yaml:"stop,omitempty" json:"stop,omitempty"`

	Spending map[string]*timeseries.Series `yaml:"spending,omitempty" json:"spending,omitempty"`
	Capacity map[string]*timeseries.Series `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Coverage map[string]*timeseries.Series `yaml:"coverage,omitempty" json:"coverage,omitempty"`
}

// Active reports whether programs replace parameter values at time t.
func (in *Instructions) Active(t float64) bool {
	if in == nil || t < in.Start {
		return false
	}
	return in.Stop == 0 || t < in.Stop
}

// CoverageAt resolves program coverage at time t given the size of the
// eligible group, applying any overrides. Capacity is people reached per
// year, so dt converts it to people reached within one step before it is
// compared against the eligible group.
func (in *Instructions) CoverageAt(p *Program, t, dt, eligible float64) float64 {
	if s, ok := in.Coverage[p.Name]; ok && s.Len() > 0 {
		return math.Min(1, s.At(t))
	}
	if s, ok := in.Capacity[p.Name]; ok && s.Len() > 0 {
		capacity := s.At(t)
		if p.CapacityConstraint > 0 && capacity > p.CapacityConstraint {
			capacity = p.CapacityConstraint
		}
		return p.CoverageFraction(capacity*dt, eligible)
	}
	spending := 0.0
	if s, ok := in.Spending[p.Name]; ok && s.Len() > 0 {
		spending = s.At(t)
	} else if p.Spending != nil && p.Spending.Len() > 0 {
		spending = p.Spending.At(t)
	}
	return p.CoverageFraction(p.Capacity(spending)*dt, eligible)
}

// ParameterValue computes the value programs impose on (par, pop) at time t,
// or reports that no active program writes it. The eligible callback supplies
// the size of each program's target group at t. When several programs target
// the same parameter the strongest coverage-weighted outcome wins, with the
// uncovered remainder keeping the baseline value.
func (ps *ProgramSet) ParameterValue(in *Instructions, par, pop string, t, dt float64, eligible func(*Program) float64, baseline float64) (float64, bool) {
	if !in.Active(t) {
		return 0, false
	}
	found := false
	value := baseline
	for _, p := range ps.Programs {
		if !p.Targets(pop) {
			continue
		}
		for _, o := range p.Outcomes {
			if o.Parameter != par || o.Population != pop {
				continue
			}
			cov := in.CoverageAt(p, t, dt, eligible(p))
			candidate := cov*o.Value + (1-cov)*baseline
			if !found || (o.Value >= baseline && candidate > value) || (o.Value < baseline && candidate < value) {
				value = candidate
			}
			found = true
		}
	}
	return value, found
}
