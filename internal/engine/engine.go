// Package engine runs the sampler across every scenario of a model.
//
// Work is split one scenario per unit on an engine-owned worker pool. Each
// scenario fills its own sample buffer from its own random stream, so there
// is no shared mutable state during generation, and the outcome does not
// depend on worker count or completion order. Run returns only after every
// scenario has finished; on any failure or cancellation nothing is returned.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fairsim/internal/logger"
	"fairsim/internal/model"
	"fairsim/internal/sampler"
)

var (
	ErrInvalidIterationCount = errors.New("invalid iteration count")
	ErrSimulationFailure     = errors.New("simulation failure")
)

// cancelCheckEvery is how many iterations a worker draws between context
// checks.
const cancelCheckEvery = 1024

// SimulationError attributes a failed run to the scenario that broke it.
type SimulationError struct {
	ScenarioID string
	Err        error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failure: scenario %q: %v", e.ScenarioID, e.Err)
}

func (e *SimulationError) Unwrap() []error { return []error{ErrSimulationFailure, e.Err} }

// Config controls the engine's pool and the run's random behavior.
type Config struct {
	// Workers caps concurrently simulated scenarios. Zero means GOMAXPROCS.
	Workers int
	// Seed keys every scenario's random stream. Zero draws a fresh seed,
	// which is recorded on the Results.
	Seed   uint64
	Policy sampler.Policy
}

// Results is the raw output of one complete run.
type Results struct {
	RunID      string
	ModelName  string
	Model      *model.Model
	Iterations int
	Seed       uint64
	Policy     sampler.Policy
	StartedAt  time.Time
	FinishedAt time.Time
	// Samples maps scenario id to exactly Iterations samples, in iteration
	// order (1-based).
	Samples map[string][]sampler.LossSample
}

// Engine owns the worker pool configuration.
type Engine struct {
	cfg Config
	log *logger.Logger
}

// New returns an engine. An empty policy falls back to sampler.DefaultPolicy.
func New(cfg Config, log *logger.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Policy == (sampler.Policy{}) {
		cfg.Policy = sampler.DefaultPolicy
	}
	return &Engine{cfg: cfg, log: logger.OrNop(log)}
}

// Run simulates iterations years for every scenario in m.
func (e *Engine) Run(ctx context.Context, m *model.Model, iterations int) (*Results, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidIterationCount, iterations)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	// Build every sampler up front so a malformed scenario fails the run
	// before any work is scheduled.
	samplers := make([]*sampler.Sampler, len(m.Scenarios))
	for i, sc := range m.Scenarios {
		s, err := sampler.New(m, sc, e.cfg.Policy, sampler.Source(seed, sc.DomainID, sc.ID))
		if err != nil {
			return nil, &SimulationError{ScenarioID: sc.ID, Err: err}
		}
		samplers[i] = s
	}

	res := &Results{
		RunID:      uuid.NewString(),
		ModelName:  m.Name,
		Model:      m,
		Iterations: iterations,
		Seed:       seed,
		Policy:     e.cfg.Policy,
		StartedAt:  time.Now().UTC(),
	}
	log := e.log.With("run_id", res.RunID, "model", m.Name)
	log.Info("simulation started",
		"scenarios", len(m.Scenarios),
		"iterations", iterations,
		"workers", e.cfg.Workers,
		"seed", seed)

	buffers := make([][]sampler.LossSample, len(m.Scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range samplers {
		g.Go(func() error {
			buf, err := simulateScenario(gctx, samplers[i], iterations)
			if err != nil {
				if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
					return err
				}
				return &SimulationError{ScenarioID: m.Scenarios[i].ID, Err: err}
			}
			buffers[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("simulation aborted", "error", err)
		return nil, err
	}
	// errgroup hides a parent cancellation that landed after the last
	// worker returned cleanly; a cancelled run is never reported complete.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Samples = make(map[string][]sampler.LossSample, len(buffers))
	for i, sc := range m.Scenarios {
		res.Samples[sc.ID] = buffers[i]
	}
	res.FinishedAt = time.Now().UTC()
	log.Info("simulation finished", "elapsed", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

func simulateScenario(ctx context.Context, s *sampler.Sampler, iterations int) ([]sampler.LossSample, error) {
	buf := make([]sampler.LossSample, iterations)
	for i := range buf {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ls, err := s.Draw(i + 1)
		if err != nil {
			return nil, err
		}
		buf[i] = ls
	}
	return buf, nil
}
