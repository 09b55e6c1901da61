package report

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fairsim/internal/classify"
	"fairsim/internal/evaluator"
	"fairsim/internal/rank"
	"fairsim/internal/summary"
)

// pageMeta is the YAML frontmatter every markdown page carries.
type pageMeta struct {
	Tags       []string `yaml:"tags"`
	Model      string   `yaml:"model,omitempty"`
	RunID      string   `yaml:"run_id,omitempty"`
	DomainID   string   `yaml:"domain_id,omitempty"`
	Iterations int      `yaml:"iterations,omitempty"`
	VaR        float64  `yaml:"var,omitempty"`
	Tier       string   `yaml:"tier,omitempty"`
}

// withFrontmatter prefixes body with meta between --- delimiters. Tags are
// sorted alphabetically.
func withFrontmatter(meta pageMeta, body string) ([]byte, error) {
	meta.Tags = append([]string(nil), meta.Tags...)
	sort.Strings(meta.Tags)
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

func indexMeta(sum *evaluator.Summary) pageMeta {
	return pageMeta{
		Tags:       []string{"fairsim/index", "tier-" + string(sum.Tier.Level)},
		Model:      sum.Model,
		RunID:      sum.RunID,
		Iterations: sum.Iterations,
		VaR:        sum.VaR,
		Tier:       string(sum.Tier.Level),
	}
}

func domainMeta(sum *evaluator.Summary, d summary.DomainSummary) pageMeta {
	tier := tierOf(sum, d.ALEVaR)
	return pageMeta{
		Tags:     []string{"domain", "tier-" + string(tier.Level)},
		Model:    sum.Model,
		RunID:    sum.RunID,
		DomainID: d.DomainID,
		VaR:      d.ALEVaR,
		Tier:     string(tier.Level),
	}
}

// tierOf classifies v against the summary's tolerance table.
func tierOf(sum *evaluator.Summary, v float64) classify.Tier {
	var t classify.Tolerances
	for _, rt := range sum.RiskTolerances {
		switch rt.Level {
		case classify.LevelMedium:
			t.Medium = rt.Amount
		case classify.LevelHigh:
			t.High = rt.Amount
		}
	}
	return t.Tier(v)
}

// ---------------------------------------------------------------------------
// Page builders
// ---------------------------------------------------------------------------

// buildIndexPage builds index.md, the report entry point.
func buildIndexPage(sum *evaluator.Summary, opts Options) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Risk Report: %s\n\n", sum.Model))
	b.WriteString(fmt.Sprintf("- **Run**: `%s`\n", sum.RunID))
	b.WriteString(fmt.Sprintf("- **Iterations**: %d\n", sum.Iterations))
	b.WriteString(fmt.Sprintf("- **Seed**: %d\n", sum.Seed))
	b.WriteString(fmt.Sprintf("- **Policy**: resistance `%s`, loss `%s`\n", sum.Policy.Resistance, sum.Policy.Loss))
	if !sum.FinishedAt.IsZero() {
		b.WriteString(fmt.Sprintf("- **Simulated**: %s\n", sum.FinishedAt.UTC().Format(time.RFC3339)))
	}

	b.WriteString("\n## Headline\n\n")
	b.WriteString(fmt.Sprintf("- **Value at risk (95%%)**: %s (%s, %s)\n", Money(sum.VaR), sum.Tier.Level, sum.Tier.Status))
	b.WriteString(fmt.Sprintf("- **Median loss events per year**: %s\n", number(sum.MedianLossEvents)))

	b.WriteString("\n## Risk Tolerances\n\n")
	b.WriteString("| Level | VaR from |\n")
	b.WriteString("|-------|----------|\n")
	for _, rt := range sum.RiskTolerances {
		b.WriteString(fmt.Sprintf("| %s | %s |\n", rt.Level, Money(rt.Amount)))
	}

	b.WriteString("\n## Domains\n\n")
	b.WriteString("| Domain | Name | VaR | Mean ALE | Loss events/yr | Tier |\n")
	b.WriteString("|--------|------|-----|----------|----------------|------|\n")
	for _, d := range sum.DomainSummary {
		b.WriteString(fmt.Sprintf("| [[domains/%s|%s]] | %s | %s | %s | %s | %s |\n",
			sanitizeFilename(d.DomainID), d.DomainID, d.Name,
			Money(d.ALEVaR), Money(d.ALEMean), number(d.LossEventsMean), tierOf(sum, d.ALEVaR).Level))
	}

	b.WriteString(fmt.Sprintf("\n## Top Scenarios by %s\n\n", opts.By))
	b.WriteString("| # | Scenario | Domain | VaR | Mean ALE | Loss events/yr |\n")
	b.WriteString("|---|----------|--------|-----|----------|----------------|\n")
	for i, s := range rank.TopN(sum.ScenarioSummary, opts.TopN, opts.By) {
		b.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
			i+1, s.ScenarioID, s.DomainID, Money(s.ALEVaR), Money(s.ALEMean), number(s.LossEventsMean)))
	}

	b.WriteString("\n## Loss Exceedance\n\n")
	b.WriteString("| Probability | Annual loss at least |\n")
	b.WriteString("|-------------|----------------------|\n")
	for _, p := range sum.Exceedance {
		b.WriteString(fmt.Sprintf("| %s | %s |\n", percent(p.Probability), Money(p.Loss)))
	}

	b.WriteString("\nSee also [[matrix|Risk Matrix]] and [[clusters|Scenario Loss Clusters]].\n")
	return b.String()
}

// buildDomainPage builds domains/<id>.md for one domain.
func buildDomainPage(sum *evaluator.Summary, d summary.DomainSummary) string {
	var b strings.Builder
	title := d.DomainID
	if d.Name != "" {
		title += ": " + d.Name
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", title))
	cell := classify.Classify(d.LossStats)
	b.WriteString(fmt.Sprintf("**Matrix cell**: %s impact, %s likelihood\n\n", cell.Impact, cell.Likelihood))
	writeStats(&b, d.LossStats)

	descriptions := make(map[string]string, len(sum.Scenarios))
	for _, sc := range sum.Scenarios {
		descriptions[sc.ID] = sc.Description
	}

	b.WriteString("\n## Scenarios\n\n")
	b.WriteString("| Scenario | Description | VaR | Mean ALE | Impact | Likelihood | Tier |\n")
	b.WriteString("|----------|-------------|-----|----------|--------|------------|------|\n")
	for _, s := range sum.ScenarioSummary {
		if s.DomainID != d.DomainID {
			continue
		}
		c := classify.Classify(s.LossStats)
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
			s.ScenarioID, descriptions[s.ScenarioID], Money(s.ALEVaR), Money(s.ALEMean),
			c.Impact, c.Likelihood, tierOf(sum, s.ALEVaR).Level))
	}
	return b.String()
}

func writeStats(b *strings.Builder, st summary.LossStats) {
	b.WriteString("| Statistic | ALE | SLE |\n")
	b.WriteString("|-----------|-----|-----|\n")
	b.WriteString(fmt.Sprintf("| Min | %s | %s |\n", Money(st.ALEMin), Money(st.SLEMin)))
	b.WriteString(fmt.Sprintf("| Median | %s | %s |\n", Money(st.ALEMedian), Money(st.SLEMedian)))
	b.WriteString(fmt.Sprintf("| Mean | %s | %s |\n", Money(st.ALEMean), Money(st.SLEMean)))
	b.WriteString(fmt.Sprintf("| Max | %s | %s |\n", Money(st.ALEMax), Money(st.SLEMax)))
	b.WriteString(fmt.Sprintf("| SD | %s | |\n", Money(st.ALESD)))
	b.WriteString(fmt.Sprintf("| VaR 95%% | %s | |\n", Money(st.ALEVaR)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("- **Loss events/yr**: mean %s, min %d, max %d\n", number(st.LossEventsMean), st.LossEventsMin, st.LossEventsMax))
	b.WriteString(fmt.Sprintf("- **TC exceedance**: %s\n", percent(st.MeanTCExceedance)))
	b.WriteString(fmt.Sprintf("- **Vulnerability**: %s\n", percent(st.MeanVuln)))
}

// buildMatrixPage builds matrix.md with one grid for scenarios and one for
// domains, highest impact first.
func buildMatrixPage(sum *evaluator.Summary) string {
	var b strings.Builder
	b.WriteString("# Risk Matrix\n\n")
	b.WriteString("## Scenarios\n\n")
	writeGrid(&b, sum.ScenarioMatrix())
	b.WriteString("\n## Domains\n\n")
	writeGrid(&b, sum.DomainMatrix())
	return b.String()
}

func writeGrid(b *strings.Builder, m *classify.Matrix) {
	b.WriteString("| Impact |")
	for _, lh := range classify.Likelihoods {
		b.WriteString(" " + string(lh) + " |")
	}
	b.WriteString("\n|--------|")
	for range classify.Likelihoods {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	for i := len(classify.Impacts) - 1; i >= 0; i-- {
		imp := classify.Impacts[i]
		b.WriteString("| " + string(imp) + " |")
		for _, lh := range classify.Likelihoods {
			b.WriteString(fmt.Sprintf(" %d |", m.Count(imp, lh)))
		}
		b.WriteString("\n")
	}
}

// buildClustersPage builds clusters.md. groups may be empty.
func buildClustersPage(groups []rank.LossGroup) string {
	var b strings.Builder
	b.WriteString("# Scenario Loss Clusters\n\n")
	if len(groups) == 0 {
		b.WriteString("_No scenario produced a loss._\n")
		return b.String()
	}
	b.WriteString("![Scenario loss by domain](clusters.png)\n")
	for _, g := range groups {
		b.WriteString(fmt.Sprintf("\n## [[domains/%s|%s]]\n\n", sanitizeFilename(g.DomainID), g.DomainID))
		b.WriteString("| Scenario | Total loss | P5 | Median | P95 | Max |\n")
		b.WriteString("|----------|------------|----|--------|-----|-----|\n")
		for _, s := range g.Scenarios {
			q := quantiles(s.ALE)
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
				s.ScenarioID, Money(s.TotalLoss), Money(q.p5), Money(q.p50), Money(q.p95), Money(q.max)))
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type boxStats struct {
	min, p5, p25, p50, p75, p95, max float64
}

func quantiles(xs []float64) boxStats {
	if len(xs) == 0 {
		return boxStats{}
	}
	return boxStats{
		min: summary.Percentile(xs, 0),
		p5:  summary.Percentile(xs, 0.05),
		p25: summary.Percentile(xs, 0.25),
		p50: summary.Percentile(xs, 0.50),
		p75: summary.Percentile(xs, 0.75),
		p95: summary.Percentile(xs, 0.95),
		max: summary.Percentile(xs, 1),
	}
}

// Money renders v rounded to whole currency units with thousands
// separators: 1234567.8 → "$1,234,568".
func Money(v float64) string {
	return "$" + groupThousands(int64(math.Round(v)))
}

// number renders a rate with two decimals.
func number(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// percent renders a probability: 0.05 → "5%".
func percent(p float64) string {
	return strconv.FormatFloat(math.Round(p*1e6)/1e4, 'f', -1, 64) + "%"
}

func groupThousands(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

// sanitizeFilename replaces / . and spaces with -, collapses consecutive - to
// one, and trims leading/trailing -.
func sanitizeFilename(s string) string {
	s = strings.NewReplacer("/", "-", ".", "-", " ", "-").Replace(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
