package expr

import (
	"math"
	"testing"
)

func evalOK(t *testing.T, src string, vars map[string]float64) float64 {
	t.Helper()
	e, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	v, err := e.Eval(vars)
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	return v
}

func TestParse_Arithmetic(t *testing.T) {
	cases := []struct {
		src  string
		want float64
	}{
		{"1+2*3", 7},
		{"(1+2)*3", 9},
		{"10/4", 2.5},
		{"2^3", 8},
		{"2**3", 8},
		{"2^3^2", 512}, // right-associative: 2^(3^2)
		{"-2^2", -4},   // -(2^2)
		{"1 - -2", 3},
		{"floor(2.9) + ceil(0.1)", 3},
		{"exp(0)", 1},
		{"min(3, 5)", 3},
		{"max(3, 5)", 5},
	}
	for _, tc := range cases {
		if got := evalOK(t, tc.src, nil); got != tc.want {
			t.Errorf("%q = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestParse_Variables(t *testing.T) {
	e, err := Parse("num_screen/max(undx, num_screen)")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"num_screen", "undx"}
	got := e.Vars()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Vars() = %v, want %v", got, want)
	}
}

func TestEval_ClampRate(t *testing.T) {
	// rate = num/max(size, num) must stay within [0,1] and hit 1 exactly
	// when num >= size > 0.
	e := MustParse("num/max(size, num)")
	cases := []struct {
		num, size float64
		want      float64
	}{
		{0, 100, 0},
		{50, 100, 0.5},
		{100, 100, 1},
		{250, 100, 1},
		{10, 0, 1},
	}
	for _, tc := range cases {
		got, err := e.Eval(map[string]float64{"num": tc.num, "size": tc.size})
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("num=%v size=%v: rate = %v, want %v", tc.num, tc.size, got, tc.want)
		}
		if got < 0 || got > 1 {
			t.Errorf("num=%v size=%v: rate %v outside [0,1]", tc.num, tc.size, got)
		}
	}
}

func TestEval_MissingVariable(t *testing.T) {
	e := MustParse("a + b")
	if _, err := e.Eval(map[string]float64{"a": 1}); err == nil {
		t.Fatal("expected error for unbound variable")
	}
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{"", "1 +", "min(1)", "foo(2)", "1 2", "(1", "1..2"} {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q): expected error", src)
		}
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	// The language follows IEEE semantics; the engine layers its own 0/0
	// handling on top.
	if got := evalOK(t, "1/0", nil); !math.IsInf(got, 1) {
		t.Errorf("1/0 = %v, want +Inf", got)
	}
	if got := evalOK(t, "0/0", nil); !math.IsNaN(got) {
		t.Errorf("0/0 = %v, want NaN", got)
	}
}
