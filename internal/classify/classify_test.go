package classify

import (
	"testing"

	"fairsim/internal/summary"
)

// TestImpactBoundaries checks both sides of every impact boundary: the
// boundary value itself belongs to the higher bin.
func TestImpactBoundaries(t *testing.T) {
	tests := []struct {
		v    float64
		want Impact
	}{
		{0, ImpactLow},
		{1_999_999, ImpactLow},
		{2_000_000, ImpactMedium},
		{4_999_999, ImpactMedium},
		{5_000_000, ImpactHigh},
		{14_999_999, ImpactHigh},
		{15_000_000, ImpactSerious},
		{39_999_999, ImpactSerious},
		{40_000_000, ImpactExtreme},
		{1e12, ImpactExtreme},
	}
	for _, tt := range tests {
		if got := ClassifyImpact(tt.v); got != tt.want {
			t.Errorf("ClassifyImpact(%g) = %s, want %s", tt.v, got, tt.want)
		}
	}
}

func TestLikelihoodBoundaries(t *testing.T) {
	tests := []struct {
		v    float64
		want Likelihood
	}{
		{0, LikelihoodRare},
		{0.0499, LikelihoodRare},
		{0.05, LikelihoodUnlikely},
		{0.2999, LikelihoodUnlikely},
		{0.30, LikelihoodPossible},
		{0.4999, LikelihoodPossible},
		{0.50, LikelihoodLikely},
		{0.7999, LikelihoodLikely},
		{0.80, LikelihoodAlmostCertain},
		{1.0, LikelihoodAlmostCertain},
		{3.5, LikelihoodAlmostCertain},
	}
	for _, tt := range tests {
		if got := ClassifyLikelihood(tt.v); got != tt.want {
			t.Errorf("ClassifyLikelihood(%g) = %s, want %s", tt.v, got, tt.want)
		}
	}
}

// TestDomainSummaryBoundary: a domain at exactly 2M VaR is Medium impact,
// one dollar less is Low.
func TestDomainSummaryBoundary(t *testing.T) {
	at := summary.DomainSummary{DomainID: "D", LossStats: summary.LossStats{ALEVaR: 2_000_000, LossEventsMean: 0.3}}
	below := summary.DomainSummary{DomainID: "D", LossStats: summary.LossStats{ALEVaR: 1_999_999, LossEventsMean: 0.3}}

	if got := Classify(at.LossStats); got != (Cell{ImpactMedium, LikelihoodPossible}) {
		t.Errorf("Classify(2,000,000) = %+v, want Medium/Possible", got)
	}
	if got := Classify(below.LossStats); got.Impact != ImpactLow {
		t.Errorf("Classify(1,999,999).Impact = %s, want Low", got.Impact)
	}
}

func TestToleranceTiers(t *testing.T) {
	tol := Tolerances{Medium: 100, High: 500}
	tests := []struct {
		v      float64
		level  Level
		status string
	}{
		{0, LevelLow, "success"},
		{99.99, LevelLow, "success"},
		{100, LevelMedium, "warning"},
		{499, LevelMedium, "warning"},
		{500, LevelHigh, "danger"},
		{5000, LevelHigh, "danger"},
	}
	for _, tt := range tests {
		got := tol.Tier(tt.v)
		if got.Level != tt.level || got.Status != tt.status {
			t.Errorf("Tier(%g) = %+v, want %s/%s", tt.v, got, tt.level, tt.status)
		}
	}
}

func TestTolerancesValidate(t *testing.T) {
	if err := DefaultTolerances.Validate(); err != nil {
		t.Errorf("DefaultTolerances.Validate() = %v", err)
	}
	if err := (Tolerances{Medium: 10, High: 5}).Validate(); err == nil {
		t.Error("expected error when high < medium")
	}
	rows := DefaultTolerances.Table()
	if len(rows) != 3 || rows[0].Level != LevelHigh || rows[2].Level != LevelLow {
		t.Errorf("Table() = %+v, want high, medium, low", rows)
	}
}

func TestScenarioMatrixCounts(t *testing.T) {
	rows := []summary.ScenarioSummary{
		{ScenarioID: "A", LossStats: summary.LossStats{ALEVaR: 1_000, LossEventsMean: 0.01}},
		{ScenarioID: "B", LossStats: summary.LossStats{ALEVaR: 1_500, LossEventsMean: 0.02}},
		{ScenarioID: "C", LossStats: summary.LossStats{ALEVaR: 50_000_000, LossEventsMean: 2}},
	}
	m := ScenarioMatrix(rows, DefaultTolerances)
	if got := m.Count(ImpactLow, LikelihoodRare); got != 2 {
		t.Errorf("Low/Rare count = %d, want 2", got)
	}
	if got := m.Count(ImpactExtreme, LikelihoodAlmostCertain); got != 1 {
		t.Errorf("Extreme/Almost Certain count = %d, want 1", got)
	}
	if len(m.Entries) != 3 || m.Entries[2].Tier.Level != LevelHigh {
		t.Errorf("entries = %+v", m.Entries)
	}
}

func TestMatrixRowsCoverGrid(t *testing.T) {
	m := ScenarioMatrix([]summary.ScenarioSummary{
		{ScenarioID: "A", LossStats: summary.LossStats{ALEVaR: 3_000_000, LossEventsMean: 0.6}},
	}, DefaultTolerances)
	rows := m.Rows()
	if len(rows) != len(Impacts)*len(Likelihoods) {
		t.Fatalf("got %d rows, want %d", len(rows), len(Impacts)*len(Likelihoods))
	}
	var total int
	for _, r := range rows {
		total += r.Count
		if r.Count == 1 && (r.Impact != ImpactMedium || r.Likelihood != LikelihoodLikely) {
			t.Errorf("entry placed in %s/%s, want Medium/Likely", r.Impact, r.Likelihood)
		}
	}
	if total != 1 {
		t.Errorf("total count = %d, want 1", total)
	}
}
