package report

// report.go renders a results summary into a markdown report directory.
//
// Report layout:
//   index.md              run metadata, headline VaR, tolerances, top scenarios, exceedance curve
//   domains/<id>.md       one per domain, with its scenarios
//   matrix.md             impact × likelihood grid for scenarios and domains
//   clusters.md           per-domain scenario loss distributions
//   clusters.png          box plot of the same, omitted when no scenario lost anything
//   data/*.csv            samples and summary tables

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"fairsim/internal/evaluator"
	"fairsim/internal/rank"
	"fairsim/internal/store"
)

// DefaultTopN is how many scenarios index.md ranks.
const DefaultTopN = 10

// Options tunes report content.
type Options struct {
	TopN int
	By   rank.SortKey
}

// Bundle holds generated report files (path → content). Paths are relative
// to the output directory, using forward slashes.
type Bundle struct {
	files map[string][]byte
	sum   *evaluator.Summary
}

// Paths lists the bundle's files in sorted order.
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// File returns the content at path.
func (b *Bundle) File(path string) ([]byte, bool) {
	data, ok := b.files[path]
	return data, ok
}

// Generate builds every report page for sum. No files are written.
func Generate(sum *evaluator.Summary, opts Options) (*Bundle, error) {
	if sum == nil || sum.Results() == nil {
		return nil, fmt.Errorf("report: no results")
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.By == "" {
		opts.By = rank.ByVaR
	}

	files := make(map[string][]byte)
	add := func(path string, meta pageMeta, body string) error {
		data, err := withFrontmatter(meta, body)
		if err != nil {
			return fmt.Errorf("report: %s: %w", path, err)
		}
		files[path] = data
		return nil
	}

	if err := add("index.md", indexMeta(sum), buildIndexPage(sum, opts)); err != nil {
		return nil, err
	}
	for _, d := range sum.DomainSummary {
		path := "domains/" + sanitizeFilename(d.DomainID) + ".md"
		if err := add(path, domainMeta(sum, d), buildDomainPage(sum, d)); err != nil {
			return nil, err
		}
	}
	if err := add("matrix.md", pageMeta{Tags: []string{"fairsim/matrix"}, Model: sum.Model, RunID: sum.RunID}, buildMatrixPage(sum)); err != nil {
		return nil, err
	}

	groups, err := sum.Clusters()
	if err != nil && !errors.Is(err, rank.ErrEmptyResultSet) {
		return nil, fmt.Errorf("report: clusters: %w", err)
	}
	if err := add("clusters.md", pageMeta{Tags: []string{"fairsim/clusters"}, Model: sum.Model, RunID: sum.RunID}, buildClustersPage(groups)); err != nil {
		return nil, err
	}
	if len(groups) > 0 {
		png, err := plotClusters(groups)
		if err != nil {
			return nil, fmt.Errorf("report: plot: %w", err)
		}
		files["clusters.png"] = png
	}

	return &Bundle{files: files, sum: sum}, nil
}

// Write writes every file in bundle to outputDir, in sorted path order, plus
// the run's CSV tables under data/.
func Write(bundle *Bundle, outputDir string) error {
	for _, sub := range []string{"domains", "data"} {
		if err := os.MkdirAll(filepath.Join(outputDir, sub), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", sub, err)
		}
	}
	for _, p := range bundle.Paths() {
		abs := filepath.Join(outputDir, filepath.FromSlash(p))
		if err := writeFile(abs, bundle.files[p]); err != nil {
			return err
		}
	}
	return store.WriteTables(filepath.Join(outputDir, "data"), bundle.sum.Results(), bundle.sum.Aggregate())
}

// Export generates and writes a report in one step.
func Export(sum *evaluator.Summary, outputDir string, opts Options) error {
	bundle, err := Generate(sum, opts)
	if err != nil {
		return err
	}
	return Write(bundle, outputDir)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
