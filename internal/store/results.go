package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"fairsim/internal/engine"
	"fairsim/internal/model"
	"fairsim/internal/sampler"
	"fairsim/internal/summary"
)

const manifestVersion = 1

// RunManifest is results/run.yaml.
type RunManifest struct {
	Version    int            `json:"-" yaml:"version"`
	RunID      string         `json:"run_id" yaml:"run_id"`
	Model      string         `json:"model" yaml:"model"`
	Iterations int            `json:"iterations" yaml:"iterations"`
	Seed       uint64         `json:"seed" yaml:"seed"`
	Policy     sampler.Policy `json:"policy" yaml:"policy"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
}

// SaveResults replaces the model's saved results with res and its summary.
// Tables are staged in a sibling directory and swapped in, so a reader never
// sees a mix of two runs.
func (s *Store) SaveResults(name string, res *engine.Results, sum *summary.Result) error {
	dir, err := s.modelDir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, modelFile)); err != nil {
		return fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}

	stage, err := os.MkdirTemp(dir, ".results-")
	if err != nil {
		return fmt.Errorf("stage results: %w", err)
	}
	defer os.RemoveAll(stage)

	manifest := RunManifest{
		Version:    manifestVersion,
		RunID:      res.RunID,
		Model:      name,
		Iterations: res.Iterations,
		Seed:       res.Seed,
		Policy:     res.Policy,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if err := writeYAML(filepath.Join(stage, "run.yaml"), manifest); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(stage, modelFile), res.Model); err != nil {
		return err
	}
	if err := WriteTables(stage, res, sum); err != nil {
		return err
	}

	target := filepath.Join(dir, resultsDir)
	old := target + ".old"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, old); err != nil {
			return fmt.Errorf("retire previous results: %w", err)
		}
	}
	if err := os.Rename(stage, target); err != nil {
		_ = os.Rename(old, target)
		return fmt.Errorf("publish results: %w", err)
	}
	_ = os.RemoveAll(old)
	return nil
}

// LoadResults reads the model's latest saved run back into engine.Results,
// with the model definition as it was simulated. Summaries are derived from
// the samples by the caller.
func (s *Store) LoadResults(name string) (*engine.Results, error) {
	manifest, rdir, err := s.manifest(name)
	if err != nil {
		return nil, err
	}

	m, err := readModel(filepath.Join(rdir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("results for %q: %w", name, err)
	}
	m.Name = name
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("results for %q: %w", name, err)
	}

	samples, err := readSamples(filepath.Join(rdir, "samples.csv"))
	if err != nil {
		return nil, fmt.Errorf("results for %q: %w", name, err)
	}
	for id := range samples {
		if _, ok := m.Scenario(id); !ok {
			return nil, fmt.Errorf("results for %q: %w", name,
				&model.InvalidError{Table: "samples", Row: id, Reason: "scenario not in the simulated model"})
		}
	}
	return &engine.Results{
		RunID:      manifest.RunID,
		ModelName:  name,
		Model:      m,
		Iterations: manifest.Iterations,
		Seed:       manifest.Seed,
		Policy:     manifest.Policy,
		StartedAt:  manifest.StartedAt,
		FinishedAt: manifest.FinishedAt,
		Samples:    samples,
	}, nil
}

// Manifest reads the metadata of the model's saved run without loading its
// samples.
func (s *Store) Manifest(name string) (*RunManifest, error) {
	m, _, err := s.manifest(name)
	return m, err
}

func (s *Store) manifest(name string) (*RunManifest, string, error) {
	dir, err := s.modelDir(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	if _, err := os.Stat(filepath.Join(dir, modelFile)); err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	rdir := filepath.Join(dir, resultsDir)

	var manifest RunManifest
	if err := readYAML(filepath.Join(rdir, "run.yaml"), &manifest); err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w for model %q", ErrResultsNotFound, name)
		}
		return nil, "", err
	}
	if manifest.Version != manifestVersion {
		return nil, "", fmt.Errorf("results for %q: unsupported manifest version %d", name, manifest.Version)
	}
	return &manifest, rdir, nil
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

var (
	sampleHeader = []string{"scenario_id", "iteration", "threat_events", "loss_events", "tc_exceeded", "vuln", "ale", "sle"}
	statsHeader  = []string{
		"ale_min", "ale_median", "ale_mean", "ale_max", "ale_sd", "ale_var",
		"loss_events_mean", "loss_events_min", "loss_events_max",
		"mean_tc_exceedance", "mean_vuln",
		"sle_min", "sle_median", "sle_mean", "sle_max",
	}
	scenarioHeader  = append([]string{"scenario_id", "domain_id"}, statsHeader...)
	domainHeader    = append([]string{"domain_id", "name"}, statsHeader...)
	iterationHeader = []string{"iteration", "ale_sum", "loss_events"}
)

// WriteTables writes samples.csv, scenario_summary.csv, domain_summary.csv
// and iteration_summary.csv for a run into dir, which must exist.
func WriteTables(dir string, res *engine.Results, sum *summary.Result) error {
	tables := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"samples.csv", sampleHeader, sampleRows(res)},
		{"scenario_summary.csv", scenarioHeader, scenarioRows(sum)},
		{"domain_summary.csv", domainHeader, domainRows(sum)},
		{"iteration_summary.csv", iterationHeader, iterationRows(sum)},
	}
	for _, t := range tables {
		if err := writeCSV(filepath.Join(dir, t.name), t.header, t.rows); err != nil {
			return err
		}
	}
	return nil
}

// ftoa formats with the shortest representation that parses back exactly.
func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func sampleRows(res *engine.Results) [][]string {
	var rows [][]string
	for _, sc := range res.Model.Scenarios {
		for _, ls := range res.Samples[sc.ID] {
			rows = append(rows, []string{
				ls.ScenarioID,
				strconv.Itoa(ls.Iteration),
				strconv.Itoa(ls.ThreatEvents),
				strconv.Itoa(ls.LossEvents),
				strconv.FormatBool(ls.TCExceeded),
				ftoa(ls.Vuln),
				ftoa(ls.ALE),
				ftoa(ls.SLE),
			})
		}
	}
	return rows
}

func statsRow(st summary.LossStats) []string {
	return []string{
		ftoa(st.ALEMin), ftoa(st.ALEMedian), ftoa(st.ALEMean), ftoa(st.ALEMax), ftoa(st.ALESD), ftoa(st.ALEVaR),
		ftoa(st.LossEventsMean), strconv.Itoa(st.LossEventsMin), strconv.Itoa(st.LossEventsMax),
		ftoa(st.MeanTCExceedance), ftoa(st.MeanVuln),
		ftoa(st.SLEMin), ftoa(st.SLEMedian), ftoa(st.SLEMean), ftoa(st.SLEMax),
	}
}

func scenarioRows(sum *summary.Result) [][]string {
	rows := make([][]string, 0, len(sum.Scenarios))
	for _, r := range sum.Scenarios {
		rows = append(rows, append([]string{r.ScenarioID, r.DomainID}, statsRow(r.LossStats)...))
	}
	return rows
}

func domainRows(sum *summary.Result) [][]string {
	rows := make([][]string, 0, len(sum.Domains))
	for _, r := range sum.Domains {
		rows = append(rows, append([]string{r.DomainID, r.Name}, statsRow(r.LossStats)...))
	}
	return rows
}

func iterationRows(sum *summary.Result) [][]string {
	rows := make([][]string, 0, len(sum.Iterations))
	for _, r := range sum.Iterations {
		rows = append(rows, []string{strconv.Itoa(r.Iteration), ftoa(r.ALESum), strconv.Itoa(r.LossEvents)})
	}
	return rows
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func readSamples(path string) (map[string][]sampler.LossSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open samples: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(sampleHeader)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("samples.csv: missing header")
	}

	out := make(map[string][]sampler.LossSample)
	for i, rec := range records[1:] {
		ls, err := parseSample(rec)
		if err != nil {
			return nil, fmt.Errorf("samples.csv line %d: %w", i+2, err)
		}
		out[ls.ScenarioID] = append(out[ls.ScenarioID], ls)
	}
	return out, nil
}

func parseSample(rec []string) (sampler.LossSample, error) {
	var (
		ls  = sampler.LossSample{ScenarioID: rec[0]}
		err error
	)
	if ls.Iteration, err = strconv.Atoi(rec[1]); err != nil {
		return ls, err
	}
	if ls.ThreatEvents, err = strconv.Atoi(rec[2]); err != nil {
		return ls, err
	}
	if ls.LossEvents, err = strconv.Atoi(rec[3]); err != nil {
		return ls, err
	}
	if ls.TCExceeded, err = strconv.ParseBool(rec[4]); err != nil {
		return ls, err
	}
	if ls.Vuln, err = strconv.ParseFloat(rec[5], 64); err != nil {
		return ls, err
	}
	if ls.ALE, err = strconv.ParseFloat(rec[6], 64); err != nil {
		return ls, err
	}
	if ls.SLE, err = strconv.ParseFloat(rec[7], 64); err != nil {
		return ls, err
	}
	return ls, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
