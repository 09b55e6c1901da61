package evaluator_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"fairsim/internal/classify"
	"fairsim/internal/engine"
	"fairsim/internal/evaluator"
	"fairsim/internal/model"
	"fairsim/internal/rank"
	"fairsim/internal/store"
	"fairsim/internal/summary"
)

const fixedSeed = 20240601

// newService returns a service over a temp store holding the starter model
// as "acme".
func newService(t *testing.T, workers int) (*evaluator.Service, *store.Store) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "models"))
	if err := st.Init("acme", nil); err != nil {
		t.Fatal(err)
	}
	eng := engine.New(engine.Config{Workers: workers, Seed: fixedSeed}, nil)
	return evaluator.New(st, eng, classify.Tolerances{}, nil), st
}

func runAndSummarize(t *testing.T, svc *evaluator.Service, name string, iterations int) *evaluator.Summary {
	t.Helper()
	res, err := svc.RunModelSimulation(context.Background(), name, iterations)
	if err != nil {
		t.Fatalf("RunModelSimulation: %v", err)
	}
	sum, err := svc.SummarizeModelSimulation(res)
	if err != nil {
		t.Fatalf("SummarizeModelSimulation: %v", err)
	}
	return sum
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

// TestEndToEndDeterministic runs the two-domain, three-scenario starter model
// for 1000 iterations under a fixed seed. The iteration summary must not
// depend on worker count or on repetition, and the headline VaR must be the
// 95th percentile of the raw per-iteration totals.
func TestEndToEndDeterministic(t *testing.T) {
	serial, _ := newService(t, 1)
	parallel, _ := newService(t, 4)

	a := runAndSummarize(t, serial, "acme", 1000)
	b := runAndSummarize(t, parallel, "acme", 1000)
	c := runAndSummarize(t, parallel, "acme", 1000)

	if len(a.DomainSummary) != 2 || len(a.ScenarioSummary) != 3 {
		t.Fatalf("got %d domains / %d scenarios, want 2 / 3", len(a.DomainSummary), len(a.ScenarioSummary))
	}
	if len(a.IterationSummary) != 1000 {
		t.Fatalf("iteration summary has %d rows, want 1000", len(a.IterationSummary))
	}
	if diff := cmp.Diff(a.IterationSummary, b.IterationSummary); diff != "" {
		t.Errorf("1 vs 4 workers differ (-serial +parallel):\n%s", diff)
	}
	if diff := cmp.Diff(b.IterationSummary, c.IterationSummary); diff != "" {
		t.Errorf("repeated runs differ:\n%s", diff)
	}
	if diff := cmp.Diff(a.ScenarioSummary, b.ScenarioSummary); diff != "" {
		t.Errorf("scenario summaries differ:\n%s", diff)
	}

	totals := make([]float64, len(a.IterationSummary))
	for i, r := range a.IterationSummary {
		totals[i] = r.ALESum
	}
	if want := summary.Percentile(totals, summary.VaRLevel); a.VaR != want {
		t.Errorf("VaR = %v, want %v", a.VaR, want)
	}
	if a.Tier != classify.DefaultTolerances.Tier(a.VaR) {
		t.Errorf("Tier = %+v for VaR %v", a.Tier, a.VaR)
	}
	if a.Seed != fixedSeed || a.Model != "acme" || a.RunID == "" || a.RunID == b.RunID {
		t.Errorf("run metadata = %s/%s/%d", a.RunID, a.Model, a.Seed)
	}
}

// TestEndToEndReference pins the starter model's 1000-year run under
// fixedSeed to reference figures. Any change to stream keying, draw order,
// distribution parameters or the percentile method moves them.
func TestEndToEndReference(t *testing.T) {
	svc, _ := newService(t, 3)
	sum := runAndSummarize(t, svc, "acme", 1000)

	const relTol = 1e-6
	near := func(name string, got, want float64) {
		t.Helper()
		if math.Abs(got-want) > relTol*math.Abs(want) {
			t.Errorf("%s = %.10g, want %.10g", name, got, want)
		}
	}

	near("VaR", sum.VaR, 14483778.152312532)
	near("MedianLossEvents", sum.MedianLossEvents, 10)

	rows := []summary.IterationSummary{
		{Iteration: 1, ALESum: 9015493.54560852, LossEvents: 11},
		{Iteration: 2, ALESum: 4731677.383889764, LossEvents: 12},
		{Iteration: 3, ALESum: 10206768.544292603, LossEvents: 15},
		{Iteration: 500, ALESum: 5857951.191600664, LossEvents: 7},
		{Iteration: 1000, ALESum: 1924280.2175266678, LossEvents: 5},
	}
	for _, want := range rows {
		got := sum.IterationSummary[want.Iteration-1]
		if got.Iteration != want.Iteration || got.LossEvents != want.LossEvents {
			t.Errorf("iteration %d = %+v, want %+v", want.Iteration, got, want)
		}
		near("ALESum", got.ALESum, want.ALESum)
	}

	scenarios := []struct {
		id              string
		aleMean, aleVaR float64
		lossEventsMean  float64
	}{
		{"ORG-S1", 2023531.0610647532, 3976055.8525788113, 6.785},
		{"ORG-S2", 1140107.0479198303, 4632033.58289547, 1.177},
		{"NET-S1", 3967324.7114356128, 9927975.230597164, 2.137},
	}
	for i, want := range scenarios {
		got := sum.ScenarioSummary[i]
		if got.ScenarioID != want.id {
			t.Fatalf("scenario %d = %s, want %s", i, got.ScenarioID, want.id)
		}
		near(want.id+" ALEMean", got.ALEMean, want.aleMean)
		near(want.id+" ALEVaR", got.ALEVaR, want.aleVaR)
		near(want.id+" LossEventsMean", got.LossEventsMean, want.lossEventsMean)
	}
}

// TestSamplesPerScenario checks a run of k iterations yields exactly k
// samples for every scenario, numbered 1..k, and the sample invariants hold.
func TestSamplesPerScenario(t *testing.T) {
	svc, _ := newService(t, 2)
	const k = 137
	res, err := svc.RunModelSimulation(context.Background(), "acme", k)
	if err != nil {
		t.Fatal(err)
	}
	for _, sc := range model.Starter().Scenarios {
		samples := res.Samples[sc.ID]
		if len(samples) != k {
			t.Fatalf("%s: %d samples, want %d", sc.ID, len(samples), k)
		}
		for i, s := range samples {
			if s.Iteration != i+1 {
				t.Errorf("%s: sample %d has iteration %d", sc.ID, i, s.Iteration)
			}
			if s.ALE < 0 || s.LossEvents < 0 || (s.LossEvents == 0 && s.ALE != 0) {
				t.Errorf("%s iteration %d: invalid sample %+v", sc.ID, s.Iteration, s)
			}
		}
	}
}

// TestVaRConverges uses one loss event per year with a uniform [0, 1000]
// loss, whose 95th percentile is 950.
func TestVaRConverges(t *testing.T) {
	svc, st := newService(t, 0)
	m := &model.Model{
		Domains: []model.Domain{{ID: "D", Name: "Only"}},
		Scenarios: []model.Scenario{{
			DomainID: "D",
			ID:       "U",
			TEF:      model.Dist{Func: model.FuncConstant, Value: 1},
			TC:       model.Dist{Func: model.FuncConstant, Value: 1},
			LM:       model.Dist{Func: model.FuncUniform, Min: 0, Max: 1000},
		}},
	}
	if err := st.Init("uniform", m); err != nil {
		t.Fatal(err)
	}

	sum := runAndSummarize(t, svc, "uniform", 20000)
	if math.Abs(sum.VaR-950) > 30 {
		t.Errorf("VaR = %v, want about 950", sum.VaR)
	}
	if got := sum.ScenarioSummary[0].ALEVaR; got != sum.VaR {
		t.Errorf("single-scenario VaR %v differs from headline %v", got, sum.VaR)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestRunModelSimulationErrors(t *testing.T) {
	svc, _ := newService(t, 1)

	if _, err := svc.RunModelSimulation(context.Background(), "acme", 0); !errors.Is(err, engine.ErrInvalidIterationCount) {
		t.Errorf("iterations 0: err = %v, want ErrInvalidIterationCount", err)
	}
	if _, err := svc.RunModelSimulation(context.Background(), "nope", 10); !errors.Is(err, store.ErrModelNotFound) {
		t.Errorf("unknown model: err = %v, want ErrModelNotFound", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.RunModelSimulation(ctx, "acme", 10); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// Save / load
// ---------------------------------------------------------------------------

// TestLoadSimulationModelMatchesSaved saves a run and checks loading it back
// yields the same summary without simulating again.
func TestLoadSimulationModelMatchesSaved(t *testing.T) {
	svc, _ := newService(t, 2)

	if _, err := svc.LoadSimulationModel("acme"); !errors.Is(err, store.ErrResultsNotFound) {
		t.Fatalf("before save: err = %v, want ErrResultsNotFound", err)
	}

	sum := runAndSummarize(t, svc, "acme", 300)
	if err := svc.SaveResults("acme", sum); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	loaded, err := svc.LoadSimulationModel("acme")
	if err != nil {
		t.Fatalf("LoadSimulationModel: %v", err)
	}
	opts := cmp.Options{
		cmpopts.IgnoreUnexported(evaluator.Summary{}),
		cmpopts.EquateApproxTime(0),
	}
	if diff := cmp.Diff(sum, loaded, opts...); diff != "" {
		t.Errorf("loaded summary differs (-saved +loaded):\n%s", diff)
	}
}

func TestSummaryViews(t *testing.T) {
	svc, _ := newService(t, 2)
	sum := runAndSummarize(t, svc, "acme", 200)

	top := sum.Top(2, rank.ByVaR)
	if len(top) != 2 || top[0].ALEVaR < top[1].ALEVaR {
		t.Errorf("Top(2) = %+v", top)
	}

	m := sum.ScenarioMatrix()
	total := 0
	for _, r := range m.Rows() {
		total += r.Count
	}
	if total != 3 {
		t.Errorf("scenario matrix holds %d entries, want 3", total)
	}
	if n := len(sum.DomainMatrix().Entries); n != 2 {
		t.Errorf("domain matrix holds %d entries, want 2", n)
	}

	groups, err := sum.Clusters()
	if err != nil && !errors.Is(err, rank.ErrEmptyResultSet) {
		t.Fatalf("Clusters: %v", err)
	}
	for _, g := range groups {
		for _, sl := range g.Scenarios {
			if len(sl.ALE) != 200 || sl.TotalLoss == 0 {
				t.Errorf("%s/%s: %d samples, total %v", g.DomainID, sl.ScenarioID, len(sl.ALE), sl.TotalLoss)
			}
		}
	}
}
