package framework

import (
	"strings"
	"testing"
)

const careDoc = `
name: hypertension-care
compartments:
  - name: undx
    display: Undiagnosed
  - name: scr
    display: Screened
  - name: dx
    display: Diagnosed
  - name: tx
    display: Treated
  - name: con
    display: Controlled
characteristics:
  - name: all_people
    display: All people
    components: [undx, scr, dx, tx, con]
    default: 100000
  - name: diagnosed_or_later
    display: Diagnosed or later
    components: [dx, tx, con]
parameters:
  - name: num_screen
    display: Number screened per year
    units: number
    default: 5000
  - name: screen
    display: Screening probability
    units: probability
    min: 0
    max: 1
    function: num_screen/max(undx,num_screen)
  - name: diag
    display: Diagnosis probability
    units: probability
    default: 0.4
  - name: initiate
    display: Treatment initiation probability
    units: probability
    default: 0.3
  - name: control
    display: Control probability
    units: probability
    default: 0.25
transitions:
  - {from: undx, to: scr, parameter: screen}
  - {from: scr, to: dx, parameter: diag}
  - {from: dx, to: tx, parameter: initiate}
  - {from: tx, to: con, parameter: control}
cascades:
  - name: care
    stages:
      - {name: Prevalent, constituents: [all_people]}
      - {name: Screened, constituents: [scr, dx, tx, con]}
      - {name: Diagnosed, constituents: [diagnosed_or_later]}
      - {name: Treated, constituents: [tx, con]}
      - {name: Controlled, constituents: [con]}
`

func loadCare(t *testing.T) *Framework {
	t.Helper()
	f, err := Load([]byte(careDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return f
}

func TestLoad_CareModel(t *testing.T) {
	f := loadCare(t)
	if len(f.Compartments) != 5 || len(f.Parameters) != 5 || len(f.Transitions) != 4 {
		t.Fatalf("unexpected entity counts: %d comps, %d pars, %d edges",
			len(f.Compartments), len(f.Parameters), len(f.Transitions))
	}
	p, err := f.Par("screen")
	if err != nil {
		t.Fatal(err)
	}
	if !p.HasFunction() || p.Compiled() == nil {
		t.Fatal("screen formula was not compiled")
	}
	deps := p.Compiled().Vars()
	if len(deps) != 2 || deps[0] != "num_screen" || deps[1] != "undx" {
		t.Errorf("screen deps = %v", deps)
	}
	if !f.IsTransitionParameter("screen") || f.IsTransitionParameter("num_screen") {
		t.Error("transition parameter classification wrong")
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "duplicate code name",
			mutate:  func(s string) string { return strings.Replace(s, "name: scr\n", "name: undx\n", 1) },
			wantErr: "duplicate code name",
		},
		{
			name:    "reserved keyword",
			mutate:  func(s string) string { return strings.Replace(s, "name: con\n", "name: dt\n", 1) },
			wantErr: "reserved keyword",
		},
		{
			name:    "unknown transition parameter",
			mutate:  func(s string) string { return strings.Replace(s, "parameter: control}", "parameter: nosuch}", 1) },
			wantErr: "unknown parameter",
		},
		{
			name:    "unknown formula variable",
			mutate:  func(s string) string { return strings.Replace(s, "max(undx,num_screen)", "max(ghost,num_screen)", 1) },
			wantErr: "unknown variable",
		},
		{
			name:    "bad units",
			mutate:  func(s string) string { return strings.Replace(s, "units: number\n", "units: gallons\n", 1) },
			wantErr: "units",
		},
		{
			name: "unknown cascade constituent",
			mutate: func(s string) string {
				return strings.Replace(s, "constituents: [con]}", "constituents: [ghost]}", 1)
			},
			wantErr: "constituent",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.mutate(careDoc)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_SourceSinkJunctionRules(t *testing.T) {
	doc := `
name: births
compartments:
  - {name: birth, source: true}
  - {name: alive}
  - {name: dead, sink: true}
parameters:
  - {name: b_rate, units: number, default: 100}
  - {name: d_rate, units: probability, default: 0.01}
transitions:
  - {from: birth, to: alive, parameter: b_rate}
  - {from: alive, to: dead, parameter: d_rate}
`
	if _, err := Load([]byte(doc)); err != nil {
		t.Fatalf("valid source/sink model rejected: %v", err)
	}

	// Source outflow must be in number units.
	bad := strings.Replace(doc, "name: b_rate, units: number", "name: b_rate, units: probability", 1)
	if _, err := Load([]byte(bad)); err == nil || !strings.Contains(err.Error(), "number") {
		t.Errorf("expected source unit error, got %v", err)
	}

	// Sinks cannot have outflows.
	bad = doc + "  - {from: dead, to: alive, parameter: d_rate}\n"
	if _, err := Load([]byte(bad)); err == nil || !strings.Contains(err.Error(), "sink") {
		t.Errorf("expected sink outflow error, got %v", err)
	}
}

func TestJunctionOrder_CycleRejected(t *testing.T) {
	doc := `
name: loops
compartments:
  - {name: a}
  - {name: j1, junction: true}
  - {name: j2, junction: true}
parameters:
  - {name: w1, units: proportion, default: 1}
  - {name: w2, units: proportion, default: 1}
transitions:
  - {from: j1, to: j2, parameter: w1}
  - {from: j2, to: j1, parameter: w2}
`
	_, err := Load([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected junction cycle error, got %v", err)
	}
}

func TestJunctionOrder_Topological(t *testing.T) {
	doc := `
name: chain
compartments:
  - {name: a}
  - {name: j2, junction: true}
  - {name: j1, junction: true}
  - {name: b}
parameters:
  - {name: w1, units: proportion, default: 1}
  - {name: w2, units: proportion, default: 1}
  - {name: into, units: probability, default: 0.5}
transitions:
  - {from: a, to: j1, parameter: into}
  - {from: j1, to: j2, parameter: w1}
  - {from: j2, to: b, parameter: w2}
`
	f, err := Load([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	order, err := f.JunctionOrder()
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "j1" || order[1] != "j2" {
		t.Errorf("JunctionOrder = %v, want [j1 j2]", order)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	f := loadCare(t)
	data, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	again, err := Load(data)
	if err != nil {
		t.Fatalf("reloading marshalled framework: %v", err)
	}
	if again.Name != f.Name || len(again.Transitions) != len(f.Transitions) {
		t.Error("round trip lost content")
	}
}
