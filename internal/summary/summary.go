// Package summary reduces a run's raw loss samples into per-scenario,
// per-domain and overall statistics.
//
// Domain figures are computed on the per-iteration sum of the domain's
// scenarios, never by combining scenario statistics: the 95th percentile of
// a sum is not the sum of 95th percentiles.
package summary

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"fairsim/internal/engine"
	"fairsim/internal/sampler"
)

// VaRLevel is the percentile reported as value at risk.
const VaRLevel = 0.95

// ExceedanceProbabilities is the probability grid of the loss exceedance
// curve.
var ExceedanceProbabilities = []float64{0.99, 0.95, 0.90, 0.80, 0.70, 0.60, 0.50, 0.40, 0.30, 0.20, 0.10, 0.05, 0.01}

// ErrIncompleteResults reports a sample set that is not a complete run.
var ErrIncompleteResults = errors.New("incomplete results")

// LossStats is the statistics block shared by scenario and domain rows.
type LossStats struct {
	ALEMin           float64 `json:"ale_min" yaml:"ale_min"`
	ALEMedian        float64 `json:"ale_median" yaml:"ale_median"`
	ALEMean          float64 `json:"ale_mean" yaml:"ale_mean"`
	ALEMax           float64 `json:"ale_max" yaml:"ale_max"`
	ALESD            float64 `json:"ale_sd" yaml:"ale_sd"`
	ALEVaR           float64 `json:"ale_var" yaml:"ale_var"`
	LossEventsMean   float64 `json:"loss_events_mean" yaml:"loss_events_mean"`
	LossEventsMin    int     `json:"loss_events_min" yaml:"loss_events_min"`
	LossEventsMax    int     `json:"loss_events_max" yaml:"loss_events_max"`
	MeanTCExceedance float64 `json:"mean_tc_exceedance" yaml:"mean_tc_exceedance"`
	MeanVuln         float64 `json:"mean_vuln" yaml:"mean_vuln"`
	SLEMin           float64 `json:"sle_min" yaml:"sle_min"`
	SLEMedian        float64 `json:"sle_median" yaml:"sle_median"`
	SLEMean          float64 `json:"sle_mean" yaml:"sle_mean"`
	SLEMax           float64 `json:"sle_max" yaml:"sle_max"`
}

type ScenarioSummary struct {
	ScenarioID string `json:"scenario_id" yaml:"scenario_id"`
	DomainID   string `json:"domain_id" yaml:"domain_id"`
	LossStats  `yaml:",inline"`
}

type DomainSummary struct {
	DomainID  string `json:"domain_id" yaml:"domain_id"`
	Name      string `json:"name" yaml:"name"`
	LossStats `yaml:",inline"`
}

// IterationSummary totals one simulated year across the whole model.
type IterationSummary struct {
	Iteration  int     `json:"iteration" yaml:"iteration"`
	ALESum     float64 `json:"ale_sum" yaml:"ale_sum"`
	LossEvents int     `json:"loss_events" yaml:"loss_events"`
}

// ExceedancePoint is one point of the loss exceedance curve: the annual
// total loss that is met or exceeded with the given probability.
type ExceedancePoint struct {
	Probability float64 `json:"probability" yaml:"probability"`
	Loss        float64 `json:"loss" yaml:"loss"`
}

// Result holds every reduction of one run.
type Result struct {
	Scenarios  []ScenarioSummary  `json:"scenario_summary"`
	Domains    []DomainSummary    `json:"domain_summary"`
	Iterations []IterationSummary `json:"iteration_summary"`
	Exceedance []ExceedancePoint  `json:"exceedance"`
	// VaR is the 95th percentile of per-iteration total loss.
	VaR float64 `json:"var"`
	// MedianLossEvents is the median of per-iteration total loss events.
	MedianLossEvents float64 `json:"median_loss_events"`
}

// year is one iteration's outcome for a scenario, a domain, or the model.
type year struct {
	ale        float64
	lossEvents int
	tcExceeded bool
}

// Summarize computes every reduction over res. Scenario rows follow the
// model's scenario order and domain rows the model's domain order.
func Summarize(res *engine.Results) (*Result, error) {
	if res == nil || res.Model == nil {
		return nil, fmt.Errorf("%w: no model", ErrIncompleteResults)
	}
	n := res.Iterations
	if n < 1 {
		return nil, fmt.Errorf("%w: %d iterations", ErrIncompleteResults, n)
	}

	out := &Result{}
	domainYears := make(map[string][]year, len(res.Model.Domains))
	for _, d := range res.Model.Domains {
		domainYears[d.ID] = make([]year, n)
	}
	totals := make([]year, n)

	for _, sc := range res.Model.Scenarios {
		years, err := scenarioYears(sc.ID, res.Samples[sc.ID], n)
		if err != nil {
			return nil, err
		}
		out.Scenarios = append(out.Scenarios, ScenarioSummary{
			ScenarioID: sc.ID,
			DomainID:   sc.DomainID,
			LossStats:  computeStats(years),
		})
		dy := domainYears[sc.DomainID]
		for i, y := range years {
			dy[i] = dy[i].add(y)
			totals[i] = totals[i].add(y)
		}
	}

	for _, d := range res.Model.Domains {
		out.Domains = append(out.Domains, DomainSummary{
			DomainID:  d.ID,
			Name:      d.Name,
			LossStats: computeStats(domainYears[d.ID]),
		})
	}

	sums := make([]float64, n)
	events := make([]float64, n)
	out.Iterations = make([]IterationSummary, n)
	for i, y := range totals {
		out.Iterations[i] = IterationSummary{Iteration: i + 1, ALESum: y.ale, LossEvents: y.lossEvents}
		sums[i] = y.ale
		events[i] = float64(y.lossEvents)
	}
	sort.Float64s(sums)
	sort.Float64s(events)
	out.VaR = percentileSorted(sums, VaRLevel)
	out.MedianLossEvents = percentileSorted(events, 0.5)
	for _, p := range ExceedanceProbabilities {
		out.Exceedance = append(out.Exceedance, ExceedancePoint{
			Probability: p,
			Loss:        percentileSorted(sums, 1-p),
		})
	}
	return out, nil
}

// add combines two outcomes of the same year. Loss and loss events sum; a
// domain or the model counts as TC-exceeded when any of its scenarios was,
// so a domain's mean_tc_exceedance is the share of years in which at least
// one scenario's threat capability beat its resistance.
func (y year) add(o year) year {
	return year{
		ale:        y.ale + o.ale,
		lossEvents: y.lossEvents + o.lossEvents,
		tcExceeded: y.tcExceeded || o.tcExceeded,
	}
}

// scenarioYears places samples by their iteration index, rejecting a set
// that is short, padded, or has gaps.
func scenarioYears(id string, samples []sampler.LossSample, n int) ([]year, error) {
	if len(samples) != n {
		return nil, fmt.Errorf("%w: scenario %q has %d samples, want %d", ErrIncompleteResults, id, len(samples), n)
	}
	years := make([]year, n)
	seen := make([]bool, n)
	for _, s := range samples {
		i := s.Iteration - 1
		if i < 0 || i >= n || seen[i] {
			return nil, fmt.Errorf("%w: scenario %q has bad or repeated iteration %d", ErrIncompleteResults, id, s.Iteration)
		}
		seen[i] = true
		years[i] = year{ale: s.ALE, lossEvents: s.LossEvents, tcExceeded: s.TCExceeded}
	}
	return years, nil
}

func computeStats(years []year) LossStats {
	n := len(years)
	ale := make([]float64, n)
	var events, exceeded, vulnerable float64
	minEvents, maxEvents := math.MaxInt, 0
	var sle []float64
	for i, y := range years {
		ale[i] = y.ale
		events += float64(y.lossEvents)
		minEvents = min(minEvents, y.lossEvents)
		maxEvents = max(maxEvents, y.lossEvents)
		if y.tcExceeded {
			exceeded++
		}
		if y.lossEvents > 0 {
			vulnerable++
			sle = append(sle, y.ale/float64(y.lossEvents))
		}
	}

	sort.Float64s(ale)
	st := LossStats{
		ALEMin:           ale[0],
		ALEMedian:        percentileSorted(ale, 0.5),
		ALEMean:          stat.Mean(ale, nil),
		ALEMax:           ale[n-1],
		ALEVaR:           percentileSorted(ale, VaRLevel),
		LossEventsMean:   events / float64(n),
		LossEventsMin:    minEvents,
		LossEventsMax:    maxEvents,
		MeanTCExceedance: exceeded / float64(n),
		MeanVuln:         vulnerable / float64(n),
	}
	if n > 1 {
		st.ALESD = stat.StdDev(ale, nil)
	}
	if len(sle) > 0 {
		sort.Float64s(sle)
		st.SLEMin = floats.Min(sle)
		st.SLEMedian = percentileSorted(sle, 0.5)
		st.SLEMean = stat.Mean(sle, nil)
		st.SLEMax = floats.Max(sle)
	}
	return st
}
