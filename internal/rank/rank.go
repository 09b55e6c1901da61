// Package rank orders scenarios by loss and groups their samples for
// comparative plotting.
package rank

import (
	"errors"
	"fmt"
	"sort"

	"fairsim/internal/engine"
	"fairsim/internal/summary"
)

// ErrEmptyResultSet means no scenario produced any loss. It is a valid,
// degenerate outcome: callers omit the plot instead of failing.
var ErrEmptyResultSet = errors.New("empty result set: no scenario produced a loss")

// SortKey selects the statistic TopN ranks by.
type SortKey string

const (
	ByVaR            SortKey = "ale_var"
	ByMean           SortKey = "ale_mean"
	ByMax            SortKey = "ale_max"
	ByLossEventsMean SortKey = "loss_events_mean"
)

// ParseSortKey accepts the column names above; empty means ByVaR.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return ByVaR, nil
	case ByVaR, ByMean, ByMax, ByLossEventsMean:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

func (k SortKey) value(s summary.ScenarioSummary) float64 {
	switch k {
	case ByMean:
		return s.ALEMean
	case ByMax:
		return s.ALEMax
	case ByLossEventsMean:
		return s.LossEventsMean
	default:
		return s.ALEVaR
	}
}

// TopN returns the n scenarios with the highest value of by, descending,
// ties broken by scenario id ascending. The input is not modified.
func TopN(rows []summary.ScenarioSummary, n int, by SortKey) []summary.ScenarioSummary {
	if n <= 0 {
		return nil
	}
	out := append([]summary.ScenarioSummary(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := by.value(out[i]), by.value(out[j])
		if vi != vj {
			return vi > vj
		}
		return out[i].ScenarioID < out[j].ScenarioID
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// ScenarioLoss is one scenario's ALE samples, in iteration order.
type ScenarioLoss struct {
	ScenarioID string    `json:"scenario_id"`
	ALE        []float64 `json:"ale"`
	TotalLoss  float64   `json:"total_loss"`
}

// LossGroup collects the scenarios of one domain for a side-by-side
// distribution plot.
type LossGroup struct {
	DomainID  string         `json:"domain_id"`
	Scenarios []ScenarioLoss `json:"scenarios"`
}

// ClusterScenarioLoss groups scenario ALE samples by domain, in model order.
// Scenarios whose samples total exactly zero carry no information and are
// left out, as are domains left with no scenarios. When nothing remains the
// result is empty and ErrEmptyResultSet is returned alongside it.
func ClusterScenarioLoss(res *engine.Results) ([]LossGroup, error) {
	byDomain := make(map[string][]ScenarioLoss)
	for _, sc := range res.Model.Scenarios {
		samples := res.Samples[sc.ID]
		ale := make([]float64, len(samples))
		var total float64
		for i, s := range samples {
			ale[i] = s.ALE
			total += s.ALE
		}
		if total == 0 {
			continue
		}
		byDomain[sc.DomainID] = append(byDomain[sc.DomainID], ScenarioLoss{
			ScenarioID: sc.ID,
			ALE:        ale,
			TotalLoss:  total,
		})
	}

	var groups []LossGroup
	for _, d := range res.Model.Domains {
		if scs := byDomain[d.ID]; len(scs) > 0 {
			groups = append(groups, LossGroup{DomainID: d.ID, Scenarios: scs})
		}
	}
	if len(groups) == 0 {
		return nil, ErrEmptyResultSet
	}
	return groups, nil
}
