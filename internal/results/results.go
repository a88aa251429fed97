// Package results holds simulation outputs: the full per-population series
// for every model variable, plus cascade reporting over those series.
package results

import (
	"fmt"
	"math"
	"sort"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/framework"
)

// Flow is the realized people-per-step series for one transition edge.
type Flow struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Parameter string    `json:"parameter"`
	Values    []float64 `json:"values"`
}

// PopulationOutput collects every series computed for one population.
type PopulationOutput struct {
	Compartments    map[string][]float64 `json:"compartments"`
	Characteristics map[string][]float64 `json:"characteristics"`
	Parameters      map[string][]float64 `json:"parameters"`
	Flows           []*Flow              `json:"flows"`
}

// Result is a completed simulation.
type Result struct {
	Name        string
	Framework   *framework.Framework
	T           []float64
	Dt          float64
	Populations []string

	Outputs map[string]*PopulationOutput // keyed by population
}

// Pop returns the output block for one population.
func (r *Result) Pop(pop string) (*PopulationOutput, error) {
	out, ok := r.Outputs[pop]
	if !ok {
		return nil, fmt.Errorf("results: population %q: %w", pop, apperr.ErrNotFound)
	}
	return out, nil
}

// Series returns the values for any named variable in one population,
// searching compartments, characteristics, and parameters in that order.
func (r *Result) Series(pop, name string) ([]float64, error) {
	out, err := r.Pop(pop)
	if err != nil {
		return nil, err
	}
	if v, ok := out.Compartments[name]; ok {
		return v, nil
	}
	if v, ok := out.Characteristics[name]; ok {
		return v, nil
	}
	if v, ok := out.Parameters[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("results: variable %q in population %q: %w", name, pop, apperr.ErrNotFound)
}

// Names lists the variable names available in one population.
func (r *Result) Names(pop string) ([]string, error) {
	out, err := r.Pop(pop)
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range out.Compartments {
		names = append(names, name)
	}
	for name := range out.Characteristics {
		names = append(names, name)
	}
	for name := range out.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// TimeIndex returns the index of the timestep closest to year.
func (r *Result) TimeIndex(year float64) (int, error) {
	if len(r.T) == 0 {
		return 0, fmt.Errorf("results: empty time vector")
	}
	best, bestDist := 0, math.Inf(1)
	for i, t := range r.T {
		if d := math.Abs(t - year); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, nil
}

// ExpectedDuration estimates the average time a person spends in a
// compartment at the timestep closest to year, from the per-step fraction
// leaving it. A compartment with no outflow yields +Inf.
func (r *Result) ExpectedDuration(pop, comp string, year float64) (float64, error) {
	out, err := r.Pop(pop)
	if err != nil {
		return 0, err
	}
	vals, ok := out.Compartments[comp]
	if !ok {
		return 0, fmt.Errorf("results: compartment %q in population %q: %w", comp, pop, apperr.ErrNotFound)
	}
	ti, err := r.TimeIndex(year)
	if err != nil {
		return 0, err
	}
	outflow := 0.0
	for _, fl := range out.Flows {
		if fl.From == comp {
			outflow += fl.Values[ti]
		}
	}
	if outflow <= 0 {
		return math.Inf(1), nil
	}
	return r.Dt * vals[ti] / outflow, nil
}

// StageValue is one cascade stage evaluated at a query year.
type StageValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// CascadeOutput is a cascade evaluated at one year: the ordered stage
// values, the fraction of each stage retained by the next, and the absolute
// number lost between consecutive stages.
type CascadeOutput struct {
	Cascade    string       `json:"cascade"`
	Year       float64      `json:"year"`
	Stages     []StageValue `json:"stages"`
	Conversion []float64    `json:"conversion"`
	Loss       []float64    `json:"loss"`
}

// CascadeVals evaluates the named cascade at the timestep closest to year,
// summing stage constituents over the given populations (all populations
// when pops is empty).
func (r *Result) CascadeVals(name string, pops []string, year float64) (*CascadeOutput, error) {
	c, err := r.Framework.Cascade(name)
	if err != nil {
		return nil, err
	}
	ti, err := r.TimeIndex(year)
	if err != nil {
		return nil, err
	}
	if len(pops) == 0 {
		pops = r.Populations
	}

	out := &CascadeOutput{Cascade: name, Year: r.T[ti]}
	for _, stage := range c.Stages {
		total := 0.0
		for _, constituent := range stage.Constituents {
			for _, pop := range pops {
				vals, err := r.Series(pop, constituent)
				if err != nil {
					return nil, err
				}
				total += vals[ti]
			}
		}
		out.Stages = append(out.Stages, StageValue{Name: stage.Name, Value: total})
	}
	for i := 1; i < len(out.Stages); i++ {
		prev, cur := out.Stages[i-1].Value, out.Stages[i].Value
		conv := 0.0
		if prev > 0 {
			conv = cur / prev
		}
		out.Conversion = append(out.Conversion, conv)
		out.Loss = append(out.Loss, prev-cur)
	}
	return out, nil
}
