package parset

import (
	"math"
	"testing"

	"github.com/epiforge/cascade/internal/framework"
	"github.com/epiforge/cascade/internal/timeseries"
)

func testFramework(t *testing.T) *framework.Framework {
	t.Helper()
	doc := `
name: parset-test
compartments:
  - {name: sus}
  - {name: inf}
parameters:
  - {name: foi, units: probability, default: 0.1}
  - {name: rec, units: duration, function: 1/foi}
transitions:
  - {from: sus, to: inf, parameter: foi}
`
	f, err := framework.Load([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestNew_SeedsDefaults(t *testing.T) {
	ps := New("default", testFramework(t), []string{"adults", "kids"})

	v, err := ps.Get("foi", "adults")
	if err != nil {
		t.Fatal(err)
	}
	if v.Series == nil || v.Series.At(2020) != 0.1 {
		t.Errorf("default not seeded: %+v", v)
	}

	// rec has a formula and no default, so it starts with no data.
	vals, err := ps.Interpolate("rec", "kids", []float64{2020}, timeseries.MethodStepped)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(vals[0]) {
		t.Errorf("Interpolate with no data = %v, want NaN", vals[0])
	}
}

func TestInterpolate_AppliesScaleFactors(t *testing.T) {
	ps := New("scaled", testFramework(t), []string{"adults"})
	s, err := timeseries.New([]float64{2010, 2020}, []float64{0.2, 0.4})
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Set("foi", "adults", s); err != nil {
		t.Fatal(err)
	}
	if err := ps.SetYFactor("foi", "adults", 2); err != nil {
		t.Fatal(err)
	}
	ps.MetaYFactors["foi"] = 0.5

	if got := ps.ScaleFactor("foi", "adults"); got != 1 {
		t.Fatalf("ScaleFactor = %v, want 1", got)
	}
	vals, err := ps.Interpolate("foi", "adults", []float64{2010, 2015, 2020}, timeseries.MethodLinear)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.2, 0.3, 0.4}
	for i := range want {
		if math.Abs(vals[i]-want[i]) > 1e-12 {
			t.Errorf("vals[%d] = %v, want %v", i, vals[i], want[i])
		}
	}
}

func TestSkipWindows(t *testing.T) {
	ps := New("skip", testFramework(t), []string{"adults"})
	if err := ps.AddSkipWindow("rec", "adults", 2015, 2018); err != nil {
		t.Fatal(err)
	}
	if err := ps.AddSkipWindow("rec", "adults", 2025, 0); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		t    float64
		want bool
	}{
		{2014, false},
		{2015, true},
		{2017.9, true},
		{2018, false},
		{2025, true},
		{3000, true}, // open ended
	}
	for _, tc := range cases {
		if got := ps.Skipped("rec", "adults", tc.t); got != tc.want {
			t.Errorf("Skipped(rec, adults, %v) = %v, want %v", tc.t, got, tc.want)
		}
	}
}

func TestGet_UnknownEntities(t *testing.T) {
	ps := New("missing", testFramework(t), []string{"adults"})
	if _, err := ps.Get("nosuch", "adults"); err == nil {
		t.Error("expected error for unknown parameter")
	}
	if _, err := ps.Get("foi", "elves"); err == nil {
		t.Error("expected error for unknown population")
	}
}

func TestCopy_IsIndependent(t *testing.T) {
	ps := New("base", testFramework(t), []string{"adults"})
	cp := ps.Copy()

	if err := cp.Set("foi", "adults", timeseries.Constant(0.9)); err != nil {
		t.Fatal(err)
	}
	cp.MetaYFactors["foi"] = 3

	orig, err := ps.Get("foi", "adults")
	if err != nil {
		t.Fatal(err)
	}
	if orig.Series.At(2020) != 0.1 {
		t.Error("copy mutated the original series")
	}
	if ps.MetaYFactors["foi"] != 1 {
		t.Error("copy mutated the original meta factor")
	}
}
