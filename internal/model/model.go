// Package model defines a FAIR risk model: the organizational domains, the
// control capabilities scoped to them, and the qualitative threat scenarios
// that drive simulation.
//
// A Model is loaded once (see internal/store) and treated as immutable by
// every downstream component.
package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrModelInvalid is the sentinel wrapped by every validation failure.
var ErrModelInvalid = errors.New("model invalid")

// InvalidError names the table and row of a malformed model definition.
type InvalidError struct {
	Table  string // "domains" | "capabilities" | "scenarios"
	Row    string // offending id, or positional index when the id is empty
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("model invalid: %s[%s]: %s", e.Table, e.Row, e.Reason)
}

func (e *InvalidError) Unwrap() error { return ErrModelInvalid }

func invalid(table, row, format string, args ...any) error {
	return &InvalidError{Table: table, Row: row, Reason: fmt.Sprintf(format, args...)}
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

// Model is the root definition stored as <models_dir>/<name>/model.yaml.
type Model struct {
	Name         string       `json:"-" yaml:"-"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Domains      []Domain     `json:"domains" yaml:"domains"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`
	Scenarios    []Scenario   `json:"scenarios" yaml:"scenarios"`
}

// Domain is an organizational asset grouping.
type Domain struct {
	ID   string `json:"domain_id" yaml:"domain_id"`
	Name string `json:"name" yaml:"name"`
}

// Capability is a control capability scoped to a domain. Difficulty in [0,1]
// is the control strength used as resistance strength.
type Capability struct {
	DomainID   string  `json:"domain_id" yaml:"domain_id"`
	ID         string  `json:"capability_id" yaml:"capability_id"`
	Name       string  `json:"name" yaml:"name"`
	Difficulty float64 `json:"difficulty" yaml:"difficulty"`
}

// ControlRef points a scenario at one applied capability. Weight is only
// consulted by the weighted resistance policy; zero means 1.
type ControlRef struct {
	CapabilityID string  `json:"capability_id" yaml:"capability_id"`
	Weight       float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Scenario is one qualitative threat scenario.
type Scenario struct {
	DomainID        string       `json:"domain_id" yaml:"domain_id"`
	ID              string       `json:"scenario_id" yaml:"scenario_id"`
	Description     string       `json:"description" yaml:"description"`
	ThreatCommunity string       `json:"threat_community" yaml:"threat_community"`
	TEF             Dist         `json:"tef" yaml:"tef"`
	TC              Dist         `json:"tc" yaml:"tc"`
	LM              Dist         `json:"lm" yaml:"lm"`
	Controls        []ControlRef `json:"controls,omitempty" yaml:"controls,omitempty"`
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// Domain returns the domain with the given id.
func (m *Model) Domain(id string) (Domain, bool) {
	for _, d := range m.Domains {
		if d.ID == id {
			return d, true
		}
	}
	return Domain{}, false
}

// Capability returns the capability with the given id inside domainID.
func (m *Model) Capability(domainID, id string) (Capability, bool) {
	for _, c := range m.Capabilities {
		if c.DomainID == domainID && c.ID == id {
			return c, true
		}
	}
	return Capability{}, false
}

// Scenario returns the scenario with the given id.
func (m *Model) Scenario(id string) (Scenario, bool) {
	for _, s := range m.Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// AppliedControls resolves a scenario's control references into the
// difficulties and weights the sampler combines into a resistance strength.
func (m *Model) AppliedControls(s Scenario) (difficulties, weights []float64, err error) {
	for _, ref := range s.Controls {
		c, ok := m.Capability(s.DomainID, ref.CapabilityID)
		if !ok {
			return nil, nil, invalid("scenarios", s.ID, "control %q not found in domain %q", ref.CapabilityID, s.DomainID)
		}
		w := ref.Weight
		if w == 0 {
			w = 1
		}
		difficulties = append(difficulties, c.Difficulty)
		weights = append(weights, w)
	}
	return difficulties, weights, nil
}

// DomainIDs returns the ids of all domains in sorted order.
func (m *Model) DomainIDs() []string {
	ids := make([]string, 0, len(m.Domains))
	for _, d := range m.Domains {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks referential integrity and every distribution spec. The
// first problem found is returned as an *InvalidError.
func (m *Model) Validate() error {
	if len(m.Scenarios) == 0 {
		return invalid("scenarios", "-", "model has no scenarios")
	}

	domains := make(map[string]bool, len(m.Domains))
	for i, d := range m.Domains {
		if d.ID == "" {
			return invalid("domains", fmt.Sprint(i), "empty domain_id")
		}
		if domains[d.ID] {
			return invalid("domains", d.ID, "duplicate domain_id")
		}
		domains[d.ID] = true
	}

	caps := make(map[string]bool, len(m.Capabilities))
	for i, c := range m.Capabilities {
		row := c.ID
		if row == "" {
			return invalid("capabilities", fmt.Sprint(i), "empty capability_id")
		}
		if !domains[c.DomainID] {
			return invalid("capabilities", row, "unknown domain %q", c.DomainID)
		}
		key := c.DomainID + "/" + c.ID
		if caps[key] {
			return invalid("capabilities", row, "duplicate capability_id in domain %q", c.DomainID)
		}
		caps[key] = true
		if math.IsNaN(c.Difficulty) || c.Difficulty < 0 || c.Difficulty > 1 {
			return invalid("capabilities", row, "difficulty %g outside [0,1]", c.Difficulty)
		}
	}

	// Samples are keyed by scenario id, so ids must be unique model-wide.
	scenarios := make(map[string]bool, len(m.Scenarios))
	for i, s := range m.Scenarios {
		row := s.ID
		if row == "" {
			return invalid("scenarios", fmt.Sprint(i), "empty scenario_id")
		}
		if scenarios[row] {
			return invalid("scenarios", row, "duplicate scenario_id")
		}
		scenarios[row] = true
		if !domains[s.DomainID] {
			return invalid("scenarios", row, "unknown domain %q", s.DomainID)
		}
		if err := s.TEF.validate(KindTEF); err != nil {
			return invalid("scenarios", row, "tef: %v", err)
		}
		if err := s.TC.validate(KindTC); err != nil {
			return invalid("scenarios", row, "tc: %v", err)
		}
		if err := s.LM.validate(KindLM); err != nil {
			return invalid("scenarios", row, "lm: %v", err)
		}
		for _, ref := range s.Controls {
			if !caps[s.DomainID+"/"+ref.CapabilityID] {
				return invalid("scenarios", row, "control %q not found in domain %q", ref.CapabilityID, s.DomainID)
			}
			if math.IsNaN(ref.Weight) || math.IsInf(ref.Weight, 0) || ref.Weight < 0 {
				return invalid("scenarios", row, "control %q weight %g is not a finite non-negative number", ref.CapabilityID, ref.Weight)
			}
		}
	}
	return nil
}
