package rank

import (
	"errors"
	"fmt"
	"testing"

	"fairsim/internal/engine"
	"fairsim/internal/model"
	"fairsim/internal/sampler"
	"fairsim/internal/summary"
)

func scenarioRow(id string, aleVaR float64) summary.ScenarioSummary {
	return summary.ScenarioSummary{ScenarioID: id, LossStats: summary.LossStats{ALEVaR: aleVaR, ALEMean: aleVaR / 2}}
}

// TestTopNOrdersByVaRThenID builds 12 rows with several VaR ties and checks
// the first 10 come back descending by VaR, ties ascending by id.
func TestTopNOrdersByVaRThenID(t *testing.T) {
	var rows []summary.ScenarioSummary
	for i, v := range []float64{5, 9, 9, 1, 7, 9, 3, 7, 2, 8, 6, 4} {
		rows = append(rows, scenarioRow(fmt.Sprintf("S%02d", 12-i), v))
	}

	got := TopN(rows, 10, ByVaR)
	if len(got) != 10 {
		t.Fatalf("TopN returned %d rows, want 10", len(got))
	}
	wantIDs := []string{"S07", "S10", "S11", "S03", "S05", "S08", "S02", "S12", "S01", "S06"}
	for i, r := range got {
		if r.ScenarioID != wantIDs[i] {
			t.Errorf("row %d = %s (VaR %g), want %s", i, r.ScenarioID, r.ALEVaR, wantIDs[i])
		}
		if i > 0 && r.ALEVaR > got[i-1].ALEVaR {
			t.Errorf("row %d VaR %g above row %d VaR %g", i, r.ALEVaR, i-1, got[i-1].ALEVaR)
		}
	}
	if rows[0].ScenarioID != "S12" {
		t.Error("TopN reordered its input")
	}
}

func TestTopNBounds(t *testing.T) {
	rows := []summary.ScenarioSummary{scenarioRow("A", 1), scenarioRow("B", 2)}
	if got := TopN(rows, 5, ByVaR); len(got) != 2 {
		t.Errorf("TopN(n > len) returned %d rows, want 2", len(got))
	}
	if got := TopN(rows, 0, ByVaR); len(got) != 0 {
		t.Errorf("TopN(0) returned %d rows, want 0", len(got))
	}
}

func TestTopNByMean(t *testing.T) {
	rows := []summary.ScenarioSummary{
		{ScenarioID: "A", LossStats: summary.LossStats{ALEVaR: 10, ALEMean: 1}},
		{ScenarioID: "B", LossStats: summary.LossStats{ALEVaR: 1, ALEMean: 10}},
	}
	if got := TopN(rows, 1, ByMean); got[0].ScenarioID != "B" {
		t.Errorf("TopN by mean = %s, want B", got[0].ScenarioID)
	}
}

func TestParseSortKey(t *testing.T) {
	if k, err := ParseSortKey(""); err != nil || k != ByVaR {
		t.Errorf("ParseSortKey(\"\") = %q, %v", k, err)
	}
	if _, err := ParseSortKey("ale_min"); err == nil {
		t.Error("expected error for unsupported key")
	}
}

// ---------------------------------------------------------------------------
// ClusterScenarioLoss
// ---------------------------------------------------------------------------

func clusterResults(ale map[string][]float64) *engine.Results {
	res := &engine.Results{
		Model: &model.Model{
			Domains: []model.Domain{{ID: "D1"}, {ID: "D2"}},
			Scenarios: []model.Scenario{
				{DomainID: "D1", ID: "A"},
				{DomainID: "D1", ID: "B"},
				{DomainID: "D2", ID: "C"},
			},
		},
		Samples: map[string][]sampler.LossSample{},
	}
	for id, xs := range ale {
		for i, x := range xs {
			res.Samples[id] = append(res.Samples[id], sampler.LossSample{ScenarioID: id, Iteration: i + 1, ALE: x})
		}
		res.Iterations = len(xs)
	}
	return res
}

func TestClusterExcludesZeroLossScenarios(t *testing.T) {
	res := clusterResults(map[string][]float64{
		"A": {0, 0, 0},
		"B": {0, 50, 0},
		"C": {0, 0, 0},
	})
	groups, err := ClusterScenarioLoss(res)
	if err != nil {
		t.Fatalf("ClusterScenarioLoss: %v", err)
	}
	if len(groups) != 1 || groups[0].DomainID != "D1" {
		t.Fatalf("groups = %+v, want only D1", groups)
	}
	if len(groups[0].Scenarios) != 1 || groups[0].Scenarios[0].ScenarioID != "B" {
		t.Errorf("D1 scenarios = %+v, want only B", groups[0].Scenarios)
	}
	if groups[0].Scenarios[0].TotalLoss != 50 {
		t.Errorf("B total = %g, want 50", groups[0].Scenarios[0].TotalLoss)
	}
}

func TestClusterAllZeroIsEmptyResultSet(t *testing.T) {
	res := clusterResults(map[string][]float64{"A": {0, 0}, "B": {0, 0}, "C": {0, 0}})
	groups, err := ClusterScenarioLoss(res)
	if !errors.Is(err, ErrEmptyResultSet) {
		t.Fatalf("err = %v, want ErrEmptyResultSet", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups = %+v, want none", groups)
	}
}
