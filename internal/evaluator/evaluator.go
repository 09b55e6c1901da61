// Package evaluator is the engine API the presentation layer consumes: it
// ties the model store, the simulation engine and the aggregator together
// and shapes their output into a Summary for rendering.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"fairsim/internal/classify"
	"fairsim/internal/engine"
	"fairsim/internal/logger"
	"fairsim/internal/model"
	"fairsim/internal/rank"
	"fairsim/internal/sampler"
	"fairsim/internal/store"
	"fairsim/internal/summary"
)

// Summary is everything a dashboard shows for one run. It is immutable once
// built; renderers format it but never modify it.
type Summary struct {
	RunID      string         `json:"run_id"`
	Model      string         `json:"model"`
	Iterations int            `json:"iterations"`
	Seed       uint64         `json:"seed"`
	Policy     sampler.Policy `json:"policy"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`

	DomainSummary    []summary.DomainSummary    `json:"domain_summary"`
	ScenarioSummary  []summary.ScenarioSummary  `json:"scenario_summary"`
	Scenarios        []model.Scenario           `json:"scenarios"`
	IterationSummary []summary.IterationSummary `json:"iteration_summary"`
	Exceedance       []summary.ExceedancePoint  `json:"exceedance"`
	VaR              float64                    `json:"var"`
	MedianLossEvents float64                    `json:"median_loss_events"`
	RiskTolerances   []classify.RiskTolerance   `json:"risk_tolerances"`
	Tier             classify.Tier              `json:"tier"`

	results    *engine.Results
	aggregate  *summary.Result
	tolerances classify.Tolerances
}

// Results returns the raw run behind the summary.
func (s *Summary) Results() *engine.Results { return s.results }

// Aggregate returns the statistics the summary was built from.
func (s *Summary) Aggregate() *summary.Result { return s.aggregate }

// Top ranks the run's scenarios.
func (s *Summary) Top(n int, by rank.SortKey) []summary.ScenarioSummary {
	return rank.TopN(s.ScenarioSummary, n, by)
}

// ScenarioMatrix places every scenario on the risk matrix.
func (s *Summary) ScenarioMatrix() *classify.Matrix {
	return classify.ScenarioMatrix(s.ScenarioSummary, s.tolerances)
}

// DomainMatrix places every domain on the risk matrix.
func (s *Summary) DomainMatrix() *classify.Matrix {
	return classify.DomainMatrix(s.DomainSummary, s.tolerances)
}

// Clusters groups the run's scenario samples by domain. See
// rank.ClusterScenarioLoss for the empty-result case.
func (s *Summary) Clusters() ([]rank.LossGroup, error) {
	return rank.ClusterScenarioLoss(s.results)
}

// Service runs and loads simulations for models in a store.
type Service struct {
	store      *store.Store
	engine     *engine.Engine
	tolerances classify.Tolerances
	log        *logger.Logger
}

// New returns a service. Zero tolerances fall back to
// classify.DefaultTolerances.
func New(st *store.Store, eng *engine.Engine, tol classify.Tolerances, log *logger.Logger) *Service {
	if tol == (classify.Tolerances{}) {
		tol = classify.DefaultTolerances
	}
	return &Service{store: st, engine: eng, tolerances: tol, log: logger.OrNop(log)}
}

// ListModels returns the names of the models in the store.
func (s *Service) ListModels() ([]string, error) {
	return s.store.List()
}

// RunModelSimulation loads and validates the named model and simulates it
// for the given number of iterations.
func (s *Service) RunModelSimulation(ctx context.Context, name string, iterations int) (*engine.Results, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("%w: %d (must be >= 1)", engine.ErrInvalidIterationCount, iterations)
	}
	m, err := s.store.Load(name)
	if err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, m, iterations)
}

// SummarizeModelSimulation reduces a run to its dashboard summary.
func (s *Service) SummarizeModelSimulation(res *engine.Results) (*Summary, error) {
	agg, err := summary.Summarize(res)
	if err != nil {
		return nil, err
	}
	return &Summary{
		RunID:            res.RunID,
		Model:            res.ModelName,
		Iterations:       res.Iterations,
		Seed:             res.Seed,
		Policy:           res.Policy,
		StartedAt:        res.StartedAt,
		FinishedAt:       res.FinishedAt,
		DomainSummary:    agg.Domains,
		ScenarioSummary:  agg.Scenarios,
		Scenarios:        res.Model.Scenarios,
		IterationSummary: agg.Iterations,
		Exceedance:       agg.Exceedance,
		VaR:              agg.VaR,
		MedianLossEvents: agg.MedianLossEvents,
		RiskTolerances:   s.tolerances.Table(),
		Tier:             s.tolerances.Tier(agg.VaR),
		results:          res,
		aggregate:        agg,
		tolerances:       s.tolerances,
	}, nil
}

// LoadSimulationModel summarizes the model's last saved run without
// simulating. Missing results wrap store.ErrResultsNotFound.
func (s *Service) LoadSimulationModel(name string) (*Summary, error) {
	res, err := s.store.LoadResults(name)
	if err != nil {
		return nil, err
	}
	sum, err := s.SummarizeModelSimulation(res)
	if err != nil {
		return nil, fmt.Errorf("saved results for %q: %w", name, err)
	}
	s.log.Info("results loaded", "model", name, "run_id", res.RunID)
	return sum, nil
}

// SaveResults persists a run and its summary as the model's saved results.
func (s *Service) SaveResults(name string, sum *Summary) error {
	if err := s.store.SaveResults(name, sum.results, sum.aggregate); err != nil {
		return err
	}
	s.log.Info("results saved", "model", name, "run_id", sum.RunID)
	return nil
}
