package progset

import (
	"math"
	"testing"

	"github.com/epiforge/cascade/internal/timeseries"
)

func screening() *Program {
	return &Program{
		Name:               "screen_prog",
		UnitCost:           25,
		CapacityConstraint: 8000,
		Spending:           timeseries.Constant(100000),
		TargetPopulations:  []string{"adults"},
		TargetCompartments: []string{"undx"},
		Outcomes:           []Outcome{{Parameter: "screen", Population: "adults", Value: 0.8}},
	}
}

func TestProgram_Capacity(t *testing.T) {
	p := screening()
	cases := []struct {
		spending, want float64
	}{
		{0, 0},
		{100000, 4000},
		{500000, 8000}, // capacity constrained
	}
	for _, tc := range cases {
		if got := p.Capacity(tc.spending); got != tc.want {
			t.Errorf("Capacity(%v) = %v, want %v", tc.spending, got, tc.want)
		}
	}
}

func TestProgram_CoverageFraction(t *testing.T) {
	p := screening()
	if got := p.CoverageFraction(4000, 10000); got != 0.4 {
		t.Errorf("CoverageFraction = %v, want 0.4", got)
	}
	if got := p.CoverageFraction(4000, 2000); got != 1 {
		t.Errorf("coverage above 1 must be capped, got %v", got)
	}
	if got := p.CoverageFraction(4000, 0); got != 1 {
		t.Errorf("empty eligible group = %v, want 1", got)
	}
}

func TestNew_Validation(t *testing.T) {
	good := screening()
	if _, err := New("default", []*Program{good}); err != nil {
		t.Fatalf("valid set rejected: %v", err)
	}

	dup := screening()
	if _, err := New("default", []*Program{good, dup}); err == nil {
		t.Error("duplicate program name accepted")
	}

	free := screening()
	free.Name = "free"
	free.UnitCost = 0
	if _, err := New("default", []*Program{free}); err == nil {
		t.Error("zero unit cost accepted")
	}

	untargeted := screening()
	untargeted.Name = "untargeted"
	untargeted.TargetPopulations = nil
	if _, err := New("default", []*Program{untargeted}); err == nil {
		t.Error("program without target populations accepted")
	}
}

func TestInstructions_Active(t *testing.T) {
	in := &Instructions{Start: 2023, Stop: 2030}
	cases := []struct {
		t    float64
		want bool
	}{
		{2022.75, false},
		{2023, true},
		{2029.75, true},
		{2030, false},
	}
	for _, tc := range cases {
		if got := in.Active(tc.t); got != tc.want {
			t.Errorf("Active(%v) = %v, want %v", tc.t, got, tc.want)
		}
	}
	open := &Instructions{Start: 2023}
	if !open.Active(2100) {
		t.Error("open ended instructions should stay active")
	}
	var nilIn *Instructions
	if nilIn.Active(2025) {
		t.Error("nil instructions must never be active")
	}
}

func TestInstructions_CoverageOverridePrecedence(t *testing.T) {
	p := screening()
	eligible := 10000.0

	// Default spending: 100000 / 25 = 4000 reached per year, 40% coverage
	// over a one year step, 10% over a quarter year step.
	in := &Instructions{Start: 2023}
	if got := in.CoverageAt(p, 2025, 1, eligible); got != 0.4 {
		t.Errorf("default coverage = %v, want 0.4", got)
	}
	if got := in.CoverageAt(p, 2025, 0.25, eligible); got != 0.1 {
		t.Errorf("quarterly coverage = %v, want 0.1", got)
	}

	// Spending override doubles the budget.
	in.Spending = map[string]*timeseries.Series{"screen_prog": timeseries.Constant(200000)}
	if got := in.CoverageAt(p, 2025, 1, eligible); got != 0.8 {
		t.Errorf("budget scenario coverage = %v, want 0.8", got)
	}

	// Capacity override beats the spending override and is still capped by
	// the program's capacity constraint.
	in.Capacity = map[string]*timeseries.Series{"screen_prog": timeseries.Constant(20000)}
	if got := in.CoverageAt(p, 2025, 1, eligible); got != 0.8 {
		t.Errorf("capacity scenario coverage = %v, want 0.8 (8000/10000)", got)
	}

	// Coverage override beats everything and is capped at 1.
	in.Coverage = map[string]*timeseries.Series{"screen_prog": timeseries.Constant(1.5)}
	if got := in.CoverageAt(p, 2025, 1, eligible); got != 1 {
		t.Errorf("coverage scenario = %v, want 1", got)
	}
}

func TestParameterValue(t *testing.T) {
	ps, err := New("default", []*Program{screening()})
	if err != nil {
		t.Fatal(err)
	}
	in := &Instructions{Start: 2023}
	eligible := func(*Program) float64 { return 10000 }

	// Before the start year programs do not touch parameters.
	if _, ok := ps.ParameterValue(in, "screen", "adults", 2020, 1, eligible, 0.1); ok {
		t.Error("program wrote a parameter before its start year")
	}

	// 40% coverage blends outcome 0.8 with baseline 0.1.
	got, ok := ps.ParameterValue(in, "screen", "adults", 2025, 1, eligible, 0.1)
	if !ok {
		t.Fatal("expected an overwrite")
	}
	want := 0.4*0.8 + 0.6*0.1
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("ParameterValue = %v, want %v", got, want)
	}

	// Untouched parameters and populations report no overwrite.
	if _, ok := ps.ParameterValue(in, "diag", "adults", 2025, 1, eligible, 0.4); ok {
		t.Error("program wrote a parameter it has no outcome for")
	}
	if _, ok := ps.ParameterValue(in, "screen", "kids", 2025, 1, eligible, 0.1); ok {
		t.Error("program wrote to a population it does not target")
	}
}
