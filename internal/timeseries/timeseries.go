// Package timeseries provides the sparse time/value series used for databook
// parameter values, scenario overwrites, and program spending, together with
// interpolation onto a simulation time vector.
package timeseries

import (
	"fmt"
	"sort"
)

// Interpolation method names as they appear in model documents.
const (
	MethodStepped = "stepped"
	MethodLinear  = "linear"
)

// Series is a sparse set of (time, value) samples. Times are kept sorted.
type Series struct {
	T []float64 `yaml:"t" json:"t"`
	V []float64 `yaml:"v" json:"v"`
}

// New constructs a Series from parallel time/value slices.
func New(t, v []float64) (*Series, error) {
	if len(t) != len(v) {
		return nil, fmt.Errorf("timeseries: %d times but %d values", len(t), len(v))
	}
	s := &Series{T: append([]float64(nil), t...), V: append([]float64(nil), v...)}
	s.sortByTime()
	return s, nil
}

// Constant returns a series holding a single time-invariant value.
func Constant(v float64) *Series {
	return &Series{T: []float64{0}, V: []float64{v}}
}

func (s *Series) sortByTime() {
	idx := make([]int, len(s.T))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.T[idx[a]] < s.T[idx[b]] })
	t := make([]float64, len(s.T))
	v := make([]float64, len(s.V))
	for i, j := range idx {
		t[i] = s.T[j]
		v[i] = s.V[j]
	}
	s.T, s.V = t, v
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.T) }

// Insert adds a sample, replacing any existing sample at the same time.
func (s *Series) Insert(t, v float64) {
	for i := range s.T {
		if s.T[i] == t {
			s.V[i] = v
			return
		}
	}
	s.T = append(s.T, t)
	s.V = append(s.V, v)
	s.sortByTime()
}

// Validate checks that the series is well formed.
func (s *Series) Validate() error {
	if len(s.T) != len(s.V) {
		return fmt.Errorf("timeseries: %d times but %d values", len(s.T), len(s.V))
	}
	for i := 1; i < len(s.T); i++ {
		if s.T[i] == s.T[i-1] {
			return fmt.Errorf("timeseries: duplicate time %v", s.T[i])
		}
	}
	return nil
}

// Interpolate samples the series onto tvec using the named method
// (MethodStepped or MethodLinear). Outside the sampled range the series
// extrapolates as a constant in both directions.
func (s *Series) Interpolate(tvec []float64, method string) ([]float64, error) {
	if len(s.T) == 0 {
		return nil, fmt.Errorf("timeseries: cannot interpolate an empty series")
	}
	out := make([]float64, len(tvec))
	switch method {
	case MethodStepped, "":
		for i, t := range tvec {
			out[i] = s.steppedAt(t)
		}
	case MethodLinear:
		for i, t := range tvec {
			out[i] = s.linearAt(t)
		}
	default:
		return nil, fmt.Errorf("timeseries: unknown interpolation method %q", method)
	}
	return out, nil
}

// At returns the stepped value at a single time.
func (s *Series) At(t float64) float64 { return s.steppedAt(t) }

// steppedAt returns the most recent sample at or before t ("previous value"
// interpolation). Before the first sample, the first value is used.
func (s *Series) steppedAt(t float64) float64 {
	v := s.V[0]
	for i := range s.T {
		if s.T[i] > t {
			break
		}
		v = s.V[i]
	}
	return v
}

func (s *Series) linearAt(t float64) float64 {
	if t <= s.T[0] {
		return s.V[0]
	}
	last := len(s.T) - 1
	if t >= s.T[last] {
		return s.V[last]
	}
	i := sort.SearchFloat64s(s.T, t)
	if s.T[i] == t {
		return s.V[i]
	}
	// s.T[i-1] < t < s.T[i]
	frac := (t - s.T[i-1]) / (s.T[i] - s.T[i-1])
	return s.V[i-1] + frac*(s.V[i]-s.V[i-1])
}

// Scale returns a copy of the series with every value multiplied by f.
func (s *Series) Scale(f float64) *Series {
	out := &Series{T: append([]float64(nil), s.T...), V: make([]float64, len(s.V))}
	for i, v := range s.V {
		out.V[i] = v * f
	}
	return out
}

// Vector builds an evenly spaced time vector [start, end] with step dt,
// always including the end point (within floating point tolerance).
func Vector(start, end, dt float64) []float64 {
	if dt <= 0 || end < start {
		return nil
	}
	n := int((end-start)/dt+0.5) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*dt
	}
	return out
}
