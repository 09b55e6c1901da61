// Package classify places aggregated loss statistics on the fixed
// impact × likelihood risk matrix and on the configured tolerance tiers.
//
// Every bin is half-open: its lower bound is inclusive and its upper bound
// exclusive, so a value sitting exactly on a boundary belongs to the higher
// bin.
package classify

import (
	"fmt"

	"fairsim/internal/summary"
)

type Impact string

const (
	ImpactLow     Impact = "Low"
	ImpactMedium  Impact = "Medium"
	ImpactHigh    Impact = "High"
	ImpactSerious Impact = "Serious"
	ImpactExtreme Impact = "Extreme"
)

type Likelihood string

const (
	LikelihoodRare          Likelihood = "Rare"
	LikelihoodUnlikely      Likelihood = "Unlikely"
	LikelihoodPossible      Likelihood = "Possible"
	LikelihoodLikely        Likelihood = "Likely"
	LikelihoodAlmostCertain Likelihood = "Almost Certain"
)

// Impacts and Likelihoods list the bins from lowest to highest.
var (
	Impacts     = []Impact{ImpactLow, ImpactMedium, ImpactHigh, ImpactSerious, ImpactExtreme}
	Likelihoods = []Likelihood{LikelihoodRare, LikelihoodUnlikely, LikelihoodPossible, LikelihoodLikely, LikelihoodAlmostCertain}
)

// Lower bounds of the bins above the first.
var (
	impactBounds     = []float64{2_000_000, 5_000_000, 15_000_000, 40_000_000}
	likelihoodBounds = []float64{0.05, 0.30, 0.50, 0.80}
)

// bin returns the index of the highest bound that v meets.
func bin(v float64, bounds []float64) int {
	i := 0
	for i < len(bounds) && v >= bounds[i] {
		i++
	}
	return i
}

// ClassifyImpact bins a value at risk.
func ClassifyImpact(aleVaR float64) Impact {
	return Impacts[bin(aleVaR, impactBounds)]
}

// ClassifyLikelihood bins a mean annual loss event count, read as a
// probability-like rate. Rates of 1 and above are Almost Certain.
func ClassifyLikelihood(lossEventsMean float64) Likelihood {
	return Likelihoods[bin(lossEventsMean, likelihoodBounds)]
}

// Cell is one position on the risk matrix.
type Cell struct {
	Impact     Impact     `json:"impact"`
	Likelihood Likelihood `json:"likelihood"`
}

// Classify places a stats block on the matrix.
func Classify(st summary.LossStats) Cell {
	return Cell{
		Impact:     ClassifyImpact(st.ALEVaR),
		Likelihood: ClassifyLikelihood(st.LossEventsMean),
	}
}

// ---------------------------------------------------------------------------
// Tolerance tiers
// ---------------------------------------------------------------------------

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// RiskTolerance is the VaR at which a tolerance level begins.
type RiskTolerance struct {
	Level  Level   `json:"level" yaml:"level"`
	Amount float64 `json:"amount" yaml:"amount"`
}

// Tolerances holds the medium and high thresholds; everything below medium
// is low.
type Tolerances struct {
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

// DefaultTolerances are used when settings do not override them.
var DefaultTolerances = Tolerances{Medium: 10_000_000, High: 30_000_000}

// Validate requires 0 <= medium <= high.
func (t Tolerances) Validate() error {
	if t.Medium < 0 || t.High < t.Medium {
		return fmt.Errorf("risk tolerances must satisfy 0 <= medium <= high (got medium=%g, high=%g)", t.Medium, t.High)
	}
	return nil
}

// Table lists the tolerances as rows, highest first.
func (t Tolerances) Table() []RiskTolerance {
	return []RiskTolerance{
		{Level: LevelHigh, Amount: t.High},
		{Level: LevelMedium, Amount: t.Medium},
		{Level: LevelLow, Amount: 0},
	}
}

// Tier is a tolerance level plus the status name dashboards color by.
type Tier struct {
	Level  Level  `json:"level"`
	Status string `json:"status"` // "danger" | "warning" | "success"
}

// Tier compares a VaR against the high then the medium threshold; the
// first one met wins.
func (t Tolerances) Tier(aleVaR float64) Tier {
	switch {
	case aleVaR >= t.High:
		return Tier{Level: LevelHigh, Status: "danger"}
	case aleVaR >= t.Medium:
		return Tier{Level: LevelMedium, Status: "warning"}
	default:
		return Tier{Level: LevelLow, Status: "success"}
	}
}

// ---------------------------------------------------------------------------
// Matrix
// ---------------------------------------------------------------------------

// MatrixEntry is one classified scenario or domain.
type MatrixEntry struct {
	ID   string `json:"id"`
	Cell Cell   `json:"cell"`
	Tier Tier   `json:"tier"`
}

// Matrix counts entries per cell and keeps the per-entry placement.
type Matrix struct {
	Counts  map[Cell]int  `json:"-"`
	Entries []MatrixEntry `json:"entries"`
}

// Count returns how many entries fell in cell (impact, likelihood).
func (m *Matrix) Count(impact Impact, likelihood Likelihood) int {
	return m.Counts[Cell{Impact: impact, Likelihood: likelihood}]
}

// ScenarioMatrix classifies every scenario summary.
func ScenarioMatrix(rows []summary.ScenarioSummary, t Tolerances) *Matrix {
	m := &Matrix{Counts: make(map[Cell]int)}
	for _, r := range rows {
		m.add(r.ScenarioID, r.LossStats, t)
	}
	return m
}

// DomainMatrix classifies every domain summary.
func DomainMatrix(rows []summary.DomainSummary, t Tolerances) *Matrix {
	m := &Matrix{Counts: make(map[Cell]int)}
	for _, r := range rows {
		m.add(r.DomainID, r.LossStats, t)
	}
	return m
}

func (m *Matrix) add(id string, st summary.LossStats, t Tolerances) {
	cell := Classify(st)
	m.Counts[cell]++
	m.Entries = append(m.Entries, MatrixEntry{ID: id, Cell: cell, Tier: t.Tier(st.ALEVaR)})
}

// MatrixRow is one cell of the matrix with its count.
type MatrixRow struct {
	Impact     Impact     `json:"impact"`
	Likelihood Likelihood `json:"likelihood"`
	Count      int        `json:"count"`
}

// Rows lists all cells, impact-major from the lowest bins, including empty
// ones, so a renderer can lay out the full grid.
func (m *Matrix) Rows() []MatrixRow {
	rows := make([]MatrixRow, 0, len(Impacts)*len(Likelihoods))
	for _, imp := range Impacts {
		for _, lh := range Likelihoods {
			rows = append(rows, MatrixRow{Impact: imp, Likelihood: lh, Count: m.Count(imp, lh)})
		}
	}
	return rows
}
