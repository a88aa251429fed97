// Package parset holds the calibration inputs for a simulation: one time
// series of values per parameter per population, plus the scale factors and
// formula skip windows applied during integration.
package parset

import (
	"fmt"
	"math"
	"sort"

	"github.com/epiforge/cascade/internal/apperr"
	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/timeseries"
)

// SkipWindow suspends formula evaluation for a parameter between Start and
// Stop (inclusive of Start, exclusive of Stop). While skipped, the parameter
// takes its interpolated input values instead, which is how calibrated or
// scenario values temporarily override a formula.
type SkipWindow struct {
	Start float64 `yaml:"start" json:"start"`
	Stop  float64 `yaml:"stop" json:"stop"`
}

// Contains reports whether t falls inside the window. A zero Stop means the
// window is open ended.
func (w SkipWindow) Contains(t float64) bool {
	if t < w.Start {
		return false
	}
	return w.Stop == 0 || t < w.Stop
}

// Values holds the inputs for one parameter in one population.
type Values struct {
	Series  *timeseries.Series `yaml:"series" json:"series"`
	YFactor float64            `yaml:"y_factor" json:"y_factor"`
	Skip    []SkipWindow       `yaml:"skip,omitempty" json:"skip,omitempty"`

	// Method selects how the series is interpolated onto the simulation
	// time vector. Empty means linear; scenario overwrites use stepped.
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
}

// ParameterSet maps (parameter, population) pairs to their input values.
type ParameterSet struct {
	Name        string `yaml:"name" json:"name"`
	Populations []string

	// MetaYFactors scale every population's values for a parameter at once,
	// on top of the per-population YFactor.
	MetaYFactors map[string]float64

	values map[string]map[string]*Values // parameter -> population -> values
}

// New builds a parameter set for the given populations, seeding every
// parameter that declares a default with a constant series in each
// population. Parameters without defaults start empty and must either carry a
// formula or be filled in with Set before the model can run.
func New(name string, f *framework.Framework, populations []string) *ParameterSet {
	ps := &ParameterSet{
		Name:         name,
		Populations:  append([]string(nil), populations...),
		MetaYFactors: map[string]float64{},
		values:       map[string]map[string]*Values{},
	}
	for _, p := range f.Parameters {
		byPop := map[string]*Values{}
		for _, pop := range populations {
			v := &Values{YFactor: 1}
			if p.Default != nil {
				v.Series = timeseries.Constant(*p.Default)
			}
			byPop[pop] = v
		}
		ps.values[p.Name] = byPop
		ps.MetaYFactors[p.Name] = 1
	}
	return ps
}

// Get returns the values for one parameter in one population.
func (ps *ParameterSet) Get(par, pop string) (*Values, error) {
	byPop, ok := ps.values[par]
	if !ok {
		return nil, fmt.Errorf("parset: parameter %q: %w", par, apperr.ErrNotFound)
	}
	v, ok := byPop[pop]
	if !ok {
		return nil, fmt.Errorf("parset: parameter %q in population %q: %w", par, pop, apperr.ErrNotFound)
	}
	return v, nil
}

// Set replaces the series for one parameter in one population.
func (ps *ParameterSet) Set(par, pop string, s *timeseries.Series) error {
	v, err := ps.Get(par, pop)
	if err != nil {
		return err
	}
	v.Series = s
	return nil
}

// SetYFactor sets the per-population calibration scale factor.
func (ps *ParameterSet) SetYFactor(par, pop string, y float64) error {
	v, err := ps.Get(par, pop)
	if err != nil {
		return err
	}
	v.YFactor = y
	return nil
}

// AddSkipWindow suspends formula evaluation for par in pop over [start, stop).
func (ps *ParameterSet) AddSkipWindow(par, pop string, start, stop float64) error {
	v, err := ps.Get(par, pop)
	if err != nil {
		return err
	}
	v.Skip = append(v.Skip, SkipWindow{Start: start, Stop: stop})
	return nil
}

// ScaleFactor returns the combined calibration factor for par in pop.
func (ps *ParameterSet) ScaleFactor(par, pop string) float64 {
	v, err := ps.Get(par, pop)
	if err != nil {
		return 1
	}
	meta := ps.MetaYFactors[par]
	if meta == 0 {
		meta = 1
	}
	return v.YFactor * meta
}

// Method returns the interpolation method for par in pop, defaulting to
// linear when none was set.
func (ps *ParameterSet) Method(par, pop string) string {
	v, err := ps.Get(par, pop)
	if err != nil || v.Method == "" {
		return timeseries.MethodLinear
	}
	return v.Method
}

// Skipped reports whether formula evaluation is suspended at time t.
func (ps *ParameterSet) Skipped(par, pop string, t float64) bool {
	v, err := ps.Get(par, pop)
	if err != nil {
		return false
	}
	for _, w := range v.Skip {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// Interpolate evaluates the input series for par in pop over tvec, applying
// the combined scale factor. Parameters with no input data return NaN so
// callers can tell "no data" apart from a real zero.
func (ps *ParameterSet) Interpolate(par, pop string, tvec []float64, method string) ([]float64, error) {
	v, err := ps.Get(par, pop)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(tvec))
	if v.Series == nil || v.Series.Len() == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}
	vals, err := v.Series.Interpolate(tvec, method)
	if err != nil {
		return nil, fmt.Errorf("parset: parameter %q in population %q: %w", par, pop, err)
	}
	scale := ps.ScaleFactor(par, pop)
	for i, y := range vals {
		out[i] = y * scale
	}
	return out, nil
}

// Copy returns a deep copy, so a scenario can overwrite values without
// touching the calibrated baseline.
func (ps *ParameterSet) Copy() *ParameterSet {
	out := &ParameterSet{
		Name:         ps.Name,
		Populations:  append([]string(nil), ps.Populations...),
		MetaYFactors: map[string]float64{},
		values:       map[string]map[string]*Values{},
	}
	for par, meta := range ps.MetaYFactors {
		out.MetaYFactors[par] = meta
	}
	for par, byPop := range ps.values {
		dst := map[string]*Values{}
		for pop, v := range byPop {
			nv := &Values{YFactor: v.YFactor, Skip: append([]SkipWindow(nil), v.Skip...), Method: v.Method}
			if v.Series != nil {
				s := *v.Series
				s.T = append([]float64(nil), v.Series.T...)
				s.V = append([]float64(nil), v.Series.V...)
				nv.Series = &s
			}
			dst[pop] = nv
		}
		out.values[par] = dst
	}
	return out
}

// Parameters lists the parameter names in the set in sorted order.
func (ps *ParameterSet) Parameters() []string {
	names := make([]string, 0, len(ps.values))
	for name := range ps.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
