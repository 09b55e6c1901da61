package model

import (
	"errors"
	"math"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

// TestStarterIsValid guards the model written by `fairsim init`.
func TestStarterIsValid(t *testing.T) {
	if err := Starter().Validate(); err != nil {
		t.Fatalf("Starter().Validate() = %v", err)
	}
}

// TestValidateRejects covers every class of malformed definition and checks
// the error names the offending table and row.
func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Model)
		table  string
		row    string
	}{
		{
			name:   "duplicate domain",
			mutate: func(m *Model) { m.Domains = append(m.Domains, Domain{ID: "ORG"}) },
			table:  "domains",
			row:    "ORG",
		},
		{
			name:   "capability with unknown domain",
			mutate: func(m *Model) { m.Capabilities[0].DomainID = "NOPE" },
			table:  "capabilities",
			row:    "ORG-01",
		},
		{
			name:   "difficulty above one",
			mutate: func(m *Model) { m.Capabilities[2].Difficulty = 1.5 },
			table:  "capabilities",
			row:    "NET-01",
		},
		{
			name:   "duplicate scenario id",
			mutate: func(m *Model) { m.Scenarios[1].ID = "ORG-S1" },
			table:  "scenarios",
			row:    "ORG-S1",
		},
		{
			name:   "dangling domain reference",
			mutate: func(m *Model) { m.Scenarios[2].DomainID = "APP" },
			table:  "scenarios",
			row:    "NET-S1",
		},
		{
			name:   "dangling control reference",
			mutate: func(m *Model) { m.Scenarios[0].Controls = []ControlRef{{CapabilityID: "NET-01"}} },
			table:  "scenarios",
			row:    "ORG-S1",
		},
		{
			name:   "pert mode above max",
			mutate: func(m *Model) { m.Scenarios[0].TEF = Dist{Func: FuncPERT, Min: 1, Mode: 9, Max: 5} },
			table:  "scenarios",
			row:    "ORG-S1",
		},
		{
			name:   "tc above one",
			mutate: func(m *Model) { m.Scenarios[0].TC = Dist{Func: FuncUniform, Min: 0.5, Max: 1.2} },
			table:  "scenarios",
			row:    "ORG-S1",
		},
		{
			name:   "unknown func",
			mutate: func(m *Model) { m.Scenarios[1].LM = Dist{Func: "gamma"} },
			table:  "scenarios",
			row:    "ORG-S2",
		},
		{
			name:   "poisson loss magnitude",
			mutate: func(m *Model) { m.Scenarios[1].LM = Dist{Func: FuncPoisson, Mode: 3} },
			table:  "scenarios",
			row:    "ORG-S2",
		},
		{
			name:   "nan difficulty",
			mutate: func(m *Model) { m.Capabilities[0].Difficulty = math.NaN() },
			table:  "capabilities",
			row:    "ORG-01",
		},
		{
			name:   "nan pert min",
			mutate: func(m *Model) { m.Scenarios[0].LM = Dist{Func: FuncPERT, Min: math.NaN(), Mode: 10, Max: 20} },
			table:  "scenarios",
			row:    "ORG-S1",
		},
		{
			name:   "infinite pert max",
			mutate: func(m *Model) { m.Scenarios[0].LM = Dist{Func: FuncPERT, Min: 0, Mode: 10, Max: math.Inf(1)} },
			table:  "scenarios",
			row:    "ORG-S1",
		},
		{
			name:   "nan pert shape",
			mutate: func(m *Model) { m.Scenarios[0].TEF.Shape = math.NaN() },
			table:  "scenarios",
			row:    "ORG-S1",
		},
		{
			name:   "infinite lognormal sdlog",
			mutate: func(m *Model) { m.Scenarios[1].LM.SdLog = math.Inf(1) },
			table:  "scenarios",
			row:    "ORG-S2",
		},
		{
			name:   "nan constant",
			mutate: func(m *Model) { m.Scenarios[2].TEF = Dist{Func: FuncConstant, Value: math.NaN()} },
			table:  "scenarios",
			row:    "NET-S1",
		},
		{
			name:   "nan control weight",
			mutate: func(m *Model) { m.Scenarios[1].Controls[1].Weight = math.NaN() },
			table:  "scenarios",
			row:    "ORG-S2",
		},
		{
			name:   "infinite control weight",
			mutate: func(m *Model) { m.Scenarios[1].Controls[1].Weight = math.Inf(1) },
			table:  "scenarios",
			row:    "ORG-S2",
		},
		{
			name:   "no scenarios",
			mutate: func(m *Model) { m.Scenarios = nil },
			table:  "scenarios",
			row:    "-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Starter()
			tt.mutate(m)
			err := m.Validate()
			if !errors.Is(err, ErrModelInvalid) {
				t.Fatalf("Validate() = %v, want ErrModelInvalid", err)
			}
			var ie *InvalidError
			if !errors.As(err, &ie) {
				t.Fatalf("error %T is not *InvalidError", err)
			}
			if ie.Table != tt.table || ie.Row != tt.row {
				t.Errorf("got %s[%s], want %s[%s] (%v)", ie.Table, ie.Row, tt.table, tt.row, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// TestAppliedControlsDefaultsWeight verifies that an unset weight counts as 1.
func TestAppliedControlsDefaultsWeight(t *testing.T) {
	m := Starter()
	s, ok := m.Scenario("ORG-S2")
	if !ok {
		t.Fatal("ORG-S2 missing from starter model")
	}
	diffs, weights, err := m.AppliedControls(s)
	if err != nil {
		t.Fatalf("AppliedControls: %v", err)
	}
	if len(diffs) != 2 || diffs[0] != 0.35 || diffs[1] != 0.55 {
		t.Errorf("difficulties = %v, want [0.35 0.55]", diffs)
	}
	if weights[0] != 1 || weights[1] != 2 {
		t.Errorf("weights = %v, want [1 2]", weights)
	}
}

// ---------------------------------------------------------------------------
// YAML
// ---------------------------------------------------------------------------

// TestControlRefAcceptsScalarAndMapping verifies both spellings of a control
// reference decode to the same structure.
func TestControlRefAcceptsScalarAndMapping(t *testing.T) {
	src := `
domain_id: ORG
scenario_id: S1
tef: {func: constant, value: 1}
tc: {func: constant, value: 0.5}
lm: {func: constant, value: 100}
controls:
  - ORG-01
  - {capability_id: ORG-02, weight: 3}
`
	var s Scenario
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(src)), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []ControlRef{{CapabilityID: "ORG-01"}, {CapabilityID: "ORG-02", Weight: 3}}
	if len(s.Controls) != len(want) {
		t.Fatalf("controls = %+v, want %+v", s.Controls, want)
	}
	for i := range want {
		if s.Controls[i] != want[i] {
			t.Errorf("controls[%d] = %+v, want %+v", i, s.Controls[i], want[i])
		}
	}
}
