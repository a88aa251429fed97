// Package scenario layers what-if changes over a calibrated baseline:
// direct parameter overwrites and program spending, capacity, or coverage
// changes, plus a concurrent batch runner.
package scenario

import (
	"fmt"
	"math"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/parset"
	"github.com/epiforge/cascade/internal/progset"
	"github.com/epiforge/cascade/internal/timeseries"
)

// Overwrite pins one parameter in one population to explicit values at
// explicit times.
type Overwrite struct {
	Parameter  string    `yaml:"parameter" json:"parameter"`
	Population string    `yaml:"population" json:"population"`
	T          []float64 `yaml:"t" json:"t"`
	V          []float64 `yaml:"v" json:"v"`
}

// ParameterScenario overwrites parameter values from their first overwrite
// time onward. Values step at each overwrite time by default; with a smooth
// onset of w years each value instead ramps linearly from the previous one
// starting at max(t_i - w, t_{i-1}).
type ParameterScenario struct {
	Name       string      `yaml:"name" json:"name"`
	Onset      float64     `yaml:"onset,omitempty" json:"onset,omitempty"`
	Overwrites []Overwrite `yaml:"overwrites" json:"overwrites"`
}

// Apply returns a copy of the baseline with the overwrites in place.
// Overwritten parameters get an open ended skip window so formulas do not
// recompute them, and the overwrite holds its last value afterwards.
func (s *ParameterScenario) Apply(baseline *parset.ParameterSet) (*parset.ParameterSet, error) {
	out := baseline.Copy()
	for _, o := range s.Overwrites {
		if len(o.T) == 0 || len(o.T) != len(o.V) {
			return nil, fmt.Errorf("scenario %q: overwrite of %q needs matching times and values: %w",
				s.Name, o.Parameter, apperr.ErrInvalid)
		}
		v, err := out.Get(o.Parameter, o.Population)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
		}

		series, start, err := s.buildSeries(o, v.Series, out.Method(o.Parameter, o.Population))
		if err != nil {
			return nil, fmt.Errorf("scenario %q: overwrite of %q: %w", s.Name, o.Parameter, err)
		}
		if err := out.Set(o.Parameter, o.Population, series); err != nil {
			return nil, err
		}
		v.Method = s.method()
		if err := out.AddSkipWindow(o.Parameter, o.Population, start, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// buildSeries converts one overwrite into an interpolable series, keeping
// any baseline samples from before the overwrite takes hold. method is the
// baseline's own interpolation method.
func (s *ParameterScenario) buildSeries(o Overwrite, baseline *timeseries.Series, method string) (*timeseries.Series, float64, error) {
	start := o.T[0]
	if s.Onset > 0 {
		start = o.T[0] - s.Onset
	}

	out := &timeseries.Series{}
	if baseline != nil {
		for i, t := range baseline.T {
			if t < start {
				out.Insert(t, baseline.V[i])
			}
		}
	}

	if s.Onset <= 0 {
		for i, t := range o.T {
			out.Insert(t, o.V[i])
		}
		if err := out.Validate(); err != nil {
			return nil, 0, err
		}
		// Stepped interpolation holds each value until the next one.
		return out, start, nil
	}

	// Ramp onto the first value from the baseline level at the onset start.
	if baseline != nil && baseline.Len() > 0 {
		anchor, err := baseline.Interpolate([]float64{start}, method)
		if err != nil {
			return nil, 0, err
		}
		out.Insert(start, anchor[0])
	}
	for i, t := range o.T {
		if i > 0 {
			// Hold the previous value flat until this ramp begins.
			rampStart := math.Max(t-s.Onset, o.T[i-1])
			if rampStart > o.T[i-1] {
				out.Insert(rampStart, o.V[i-1])
			}
		}
		out.Insert(t, o.V[i])
	}
	if err := out.Validate(); err != nil {
		return nil, 0, err
	}
	return out, start, nil
}

// method returns the interpolation method matching the onset semantics.
func (s *ParameterScenario) method() string {
	if s.Onset > 0 {
		return timeseries.MethodLinear
	}
	return timeseries.MethodStepped
}

// Program scenario kinds.
const (
	KindBudget   = "budget"
	KindCapacity = "capacity"
	KindCoverage = "coverage"
)

// ProgramScenario changes program inputs from a start year: annual budgets,
// delivery capacity, or coverage directly.
type ProgramScenario struct {
	Name      string                        `yaml:"name" json:"name"`
	Kind      string                        `yaml:"kind" json:"kind"`
	Start     float64                       `yaml:"start" json:"start"`
	Stop      float64                       `yaml:"stop,omitempty" json:"stop,omitempty"`
	Overrides map[string]*timeseries.Series `yaml:"overrides" json:"overrides"`
}

// NewBudgetScenario reallocates annual spending per program.
func NewBudgetScenario(name string, start float64, alloc map[string]*timeseries.Series) *ProgramScenario {
	return &ProgramScenario{Name: name, Kind: KindBudget, Start: start, Overrides: alloc}
}

// NewCapacityScenario overrides annual delivery capacity per program.
func NewCapacityScenario(name string, start float64, capacity map[string]*timeseries.Series) *ProgramScenario {
	return &ProgramScenario{Name: name, Kind: KindCapacity, Start: start, Overrides: capacity}
}

// NewCoverageScenario pins coverage fractions per program.
func NewCoverageScenario(name string, start float64, coverage map[string]*timeseries.Series) *ProgramScenario {
	return &ProgramScenario{Name: name, Kind: KindCoverage, Start: start, Overrides: coverage}
}

// Instructions converts the scenario into engine program instructions.
func (s *ProgramScenario) Instructions() (*progset.Instructions, error) {
	in := &progset.Instructions{Start: s.Start, Stop: s.Stop}
	switch s.Kind {
	case KindBudget:
		in.Spending = s.Overrides
	case KindCapacity:
		in.Capacity = s.Overrides
	case KindCoverage:
		in.Coverage = s.Overrides
	default:
		return nil, fmt.Errorf("scenario %q: unknown program scenario kind %q: %w", s.Name, s.Kind, apperr.ErrInvalid)
	}
	return in, nil
}
