package scenario

import (
	"context"
	"math"
	"testing"

	"github.com/epiforge/cascade/internal/engine"
	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/parset"
	"github.com/epiforge/cascade/internal/timeseries"
)

const doc = `
name: scenario-test
compartments:
  - {name: a, default: 1000}
  - {name: b, default: 0}
parameters:
  - {name: supply, units: number, default: 100}
  - {name: move, units: probability, default: 0.1}
transitions:
  - {from: a, to: b, parameter: move}
`

func load(t *testing.T) (*framework.Framework, *parset.ParameterSet) {
	t.Helper()
	f, err := framework.Load([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	return f, parset.New("default", f, []string{"pop"})
}

func approx(t *testing.T, got, want float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}

func TestParameterScenario_SteppedOverwrite(t *testing.T) {
	_, ps := load(t)
	s := &ParameterScenario{
		Name: "ramp-down",
		Overwrites: []Overwrite{{
			Parameter:  "supply",
			Population: "pop",
			T:          []float64{2023, 2025, 2027},
			V:          []float64{80, 60, 40},
		}},
	}
	applied, err := s.Apply(ps)
	if err != nil {
		t.Fatal(err)
	}

	tvec := timeseries.Vector(2020, 2030, 0.5)
	vals, err := applied.Interpolate("supply", "pop", tvec, applied.Method("supply", "pop"))
	if err != nil {
		t.Fatal(err)
	}
	at := func(year float64) float64 {
		for i, tt := range tvec {
			if tt == year {
				return vals[i]
			}
		}
		t.Fatalf("year %v not in tvec", year)
		return 0
	}

	approx(t, at(2020), 100, "baseline before overwrite")
	approx(t, at(2022.5), 100, "baseline holds until the first overwrite")
	approx(t, at(2023), 80, "first overwrite")
	approx(t, at(2024.5), 80, "stepped hold")
	approx(t, at(2025), 60, "second overwrite")
	approx(t, at(2027), 40, "third overwrite")
	approx(t, at(2030), 40, "last value holds")
}

func TestParameterScenario_SmoothOnset(t *testing.T) {
	_, ps := load(t)
	s := &ParameterScenario{
		Name:  "smooth",
		Onset: 1,
		Overwrites: []Overwrite{{
			Parameter:  "supply",
			Population: "pop",
			T:          []float64{2023, 2025},
			V:          []float64{80, 40},
		}},
	}
	applied, err := s.Apply(ps)
	if err != nil {
		t.Fatal(err)
	}

	tvec := timeseries.Vector(2020, 2028, 0.25)
	vals, err := applied.Interpolate("supply", "pop", tvec, applied.Method("supply", "pop"))
	if err != nil {
		t.Fatal(err)
	}
	at := func(year float64) float64 {
		for i, tt := range tvec {
			if tt == year {
				return vals[i]
			}
		}
		t.Fatalf("year %v not in tvec", year)
		return 0
	}

	approx(t, at(2021), 100, "baseline before the onset")
	approx(t, at(2022), 100, "ramp starts at t0 - onset")
	approx(t, at(2022.5), 90, "halfway up the first ramp")
	approx(t, at(2023), 80, "first overwrite reached")
	approx(t, at(2023.5), 80, "flat until the next ramp")
	approx(t, at(2024), 80, "next ramp starts at t1 - onset")
	approx(t, at(2024.5), 60, "halfway down the second ramp")
	approx(t, at(2025), 40, "second overwrite reached")
	approx(t, at(2028), 40, "holds after the last overwrite")
}

func TestParameterScenario_SmoothOnsetAnchorsOnLinearBaseline(t *testing.T) {
	_, ps := load(t)
	base, err := timeseries.New([]float64{2020, 2024}, []float64{100, 200})
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Set("supply", "pop", base); err != nil {
		t.Fatal(err)
	}

	s := &ParameterScenario{
		Name:  "smooth",
		Onset: 1,
		Overwrites: []Overwrite{{
			Parameter:  "supply",
			Population: "pop",
			T:          []float64{2023},
			V:          []float64{80},
		}},
	}
	applied, err := s.Apply(ps)
	if err != nil {
		t.Fatal(err)
	}

	tvec := timeseries.Vector(2020, 2026, 0.5)
	vals, err := applied.Interpolate("supply", "pop", tvec, applied.Method("supply", "pop"))
	if err != nil {
		t.Fatal(err)
	}
	at := func(year float64) float64 {
		for i, tt := range tvec {
			if tt == year {
				return vals[i]
			}
		}
		t.Fatalf("year %v not in tvec", year)
		return 0
	}

	// The baseline rises 25 per year, so the ramp must leave from the
	// interpolated level at the onset start, not the previous sample.
	approx(t, at(2021), 125, "linear baseline before the onset")
	approx(t, at(2022), 150, "anchor at the interpolated baseline level")
	approx(t, at(2022.5), 115, "halfway down the ramp")
	approx(t, at(2023), 80, "overwrite reached")
	approx(t, at(2026), 80, "holds after the overwrite")
}

func TestParameterScenario_AddsSkipWindow(t *testing.T) {
	_, ps := load(t)
	s := &ParameterScenario{
		Name: "skip",
		Overwrites: []Overwrite{{
			Parameter:  "supply",
			Population: "pop",
			T:          []float64{2023},
			V:          []float64{80},
		}},
	}
	applied, err := s.Apply(ps)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Skipped("supply", "pop", 2022) {
		t.Error("skip window active before the overwrite")
	}
	if !applied.Skipped("supply", "pop", 2023) || !applied.Skipped("supply", "pop", 2050) {
		t.Error("skip window should cover the overwrite onward")
	}
	// The baseline set is untouched.
	if ps.Skipped("supply", "pop", 2023) {
		t.Error("baseline gained a skip window")
	}
}

func TestParameterScenario_Errors(t *testing.T) {
	_, ps := load(t)
	s := &ParameterScenario{
		Name: "bad",
		Overwrites: []Overwrite{{
			Parameter:  "nosuch",
			Population: "pop",
			T:          []float64{2023},
			V:          []float64{1},
		}},
	}
	if _, err := s.Apply(ps); err == nil {
		t.Error("unknown parameter accepted")
	}

	s = &ParameterScenario{
		Name: "mismatched",
		Overwrites: []Overwrite{{
			Parameter:  "supply",
			Population: "pop",
			T:          []float64{2023, 2024},
			V:          []float64{1},
		}},
	}
	if _, err := s.Apply(ps); err == nil {
		t.Error("mismatched times and values accepted")
	}
}

func TestProgramScenario_Instructions(t *testing.T) {
	alloc := map[string]*timeseries.Series{"prog": timeseries.Constant(5000)}

	in, err := NewBudgetScenario("more-money", 2023, alloc).Instructions()
	if err != nil {
		t.Fatal(err)
	}
	if in.Start != 2023 || in.Spending["prog"] == nil || in.Capacity != nil {
		t.Errorf("budget instructions wrong: %+v", in)
	}

	in, err = NewCapacityScenario("more-staff", 2023, alloc).Instructions()
	if err != nil {
		t.Fatal(err)
	}
	if in.Capacity["prog"] == nil || in.Spending != nil {
		t.Errorf("capacity instructions wrong: %+v", in)
	}

	in, err = NewCoverageScenario("full-reach", 2023, alloc).Instructions()
	if err != nil {
		t.Fatal(err)
	}
	if in.Coverage["prog"] == nil {
		t.Errorf("coverage instructions wrong: %+v", in)
	}

	if _, err := (&ProgramScenario{Name: "odd", Kind: "lottery"}).Instructions(); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestRunBatch(t *testing.T) {
	f, ps := load(t)
	jobs := []Job{
		{Name: "baseline"},
		{Name: "slower", Parameters: &ParameterScenario{
			Name: "slower",
			Overwrites: []Overwrite{{
				Parameter:  "move",
				Population: "pop",
				T:          []float64{2020},
				V:          []float64{0.05},
			}},
		}},
	}
	opts := engine.Options{Start: 2020, End: 2025, Dt: 1}
	out, err := RunBatch(context.Background(), f, ps, jobs, opts, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}

	base, _ := out["baseline"].Pop("pop")
	slow, _ := out["slower"].Pop("pop")
	if slow.Compartments["a"][5] <= base.Compartments["a"][5] {
		t.Error("halving the transition rate should leave more people in a")
	}

	// Duplicate job names are rejected up front.
	if _, err := RunBatch(context.Background(), f, ps, append(jobs, Job{Name: "baseline"}), opts, 2); err == nil {
		t.Error("duplicate job names accepted")
	}
}
