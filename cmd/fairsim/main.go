package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"

	"fairsim/internal/config"
	"fairsim/internal/engine"
	"fairsim/internal/evaluator"
	"fairsim/internal/logger"
	"fairsim/internal/rank"
	"fairsim/internal/report"
	"fairsim/internal/store"
	"fairsim/internal/summary"
)

// command describes a CLI subcommand.
type command struct {
	name  string
	short string
	usage string
	long  string
	run   func(args []string) error
}

var commands = []command{
	{
		name:  "list",
		short: "List the models in the models directory",
		usage: "fairsim list",
		long: `List every model under the models directory (settings models_dir,
default ~/.fairsim/models), marking those with saved results.
`,
		run: runList,
	},
	{
		name:  "init",
		short: "Create a new model from the starter template",
		usage: "fairsim init <model>",
		long: `Create <models_dir>/<model>/model.yaml holding a small two-domain,
three-scenario starter model to edit.

Errors if the model already exists.
`,
		run: runInit,
	},
	{
		name:  "remove",
		short: "Delete a model and its saved results",
		usage: "fairsim remove <model>",
		long: `Delete <models_dir>/<model>/ including any saved results.
`,
		run: runRemove,
	},
	{
		name:  "run",
		short: "Simulate a model",
		usage: "fairsim run <model> [--iterations N] [--seed S] [--workers W] [--save]",
		long: `Simulate every scenario of the model for N years and print the headline
value at risk and the top scenarios.

Flags:
  --iterations N   simulated years (default: settings iterations)
  --seed S         random seed; 0 derives one from the clock
  --workers W      scenarios simulated concurrently (default: all CPUs)
  --save           keep the run as the model's saved results
`,
		run: runRun,
	},
	{
		name:  "summary",
		short: "Render the saved results of a model",
		usage: "fairsim summary <model> [--raw]",
		long: `Render the report overview of the model's saved results in the terminal.

Flags:
  --raw   print the markdown unstyled
`,
		run: runSummary,
	},
	{
		name:  "top",
		short: "Rank the scenarios of a model's saved results",
		usage: "fairsim top <model> [-n N] [--by key]",
		long: `Print the N highest-ranked scenarios of the saved results.

Flags:
  -n N       number of scenarios (default 10)
  --by key   ale_var, ale_mean, ale_max or loss_events_mean (default ale_var)
`,
		run: runTop,
	},
	{
		name:  "export",
		short: "Write a markdown report of a model's saved results",
		usage: "fairsim export <model> <dir> [-n N] [--by key]",
		long: `Write the saved results as a markdown report directory: index.md,
one page per domain, the risk matrix, scenario loss clusters with a box
plot, and the CSV tables under data/.

Flags:
  -n N       scenarios ranked on index.md (default 10)
  --by key   ranking key (default ale_var)
`,
		run: runExport,
	},
	{
		name:  "view",
		short: "Browse a model's results in the terminal",
		usage: "fairsim view <model> [--iterations N]",
		long: `Open an interactive results viewer. Saved results are shown when present,
otherwise the model is simulated first.

Keys: r re-runs the simulation, s re-runs and saves it, l reloads saved
results, tab switches between scenarios and domains, q quits.
`,
		run: runView,
	},
	{
		name:  "serve",
		short: "Serve results over HTTP",
		usage: "fairsim serve [--addr ADDR] [--load MODEL] [--watch]",
		long: `Serve the JSON API for an external dashboard.

Flags:
  --addr ADDR    listen address (default: settings addr)
  --load MODEL   publish MODEL's saved results at startup
  --watch        reload results saved by other processes and re-simulate
                 the shown model when its model.yaml changes
`,
		run: runServe,
	},
}

// out receives command output.
var out io.Writer = os.Stdout

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "fairsim: FAIR loss-exposure simulation\n\n")
	fmt.Fprintf(w, "Usage:\n  fairsim <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.short)
	}
	fmt.Fprintf(w, "\nRun 'fairsim help <command>' for details on a specific command.\n")
}

func printCommandHelp(w io.Writer, name string) {
	for _, cmd := range commands {
		if cmd.name == name {
			fmt.Fprintf(w, "Usage: %s\n\n%s", cmd.usage, cmd.long)
			return
		}
	}
	fmt.Fprintf(w, "fairsim: unknown command %q\n\nRun 'fairsim help' for usage.\n", name)
}

func dispatch(args []string) error {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(out)
		return nil
	}
	if args[0] == "help" {
		if len(args) >= 2 {
			printCommandHelp(out, args[1])
		} else {
			printUsage(out)
		}
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(args[1:])
		}
	}
	return fmt.Errorf("unknown command %q\n\nRun 'fairsim help' for usage.", args[0])
}

// ---------------------------------------------------------------------------
// Environment
// ---------------------------------------------------------------------------

// app is what every command needs: settings, a logger and the model store.
type app struct {
	settings *config.Settings
	log      *logger.Logger
	store    *store.Store
}

func newApp() (*app, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(settings.LogMode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &app{settings: settings, log: log, store: store.New(settings.ModelsDir)}, nil
}

// service builds an evaluator; zero seed and workers fall back to settings.
func (a *app) service(seed uint64, workers int) *evaluator.Service {
	if seed == 0 {
		seed = a.settings.Seed
	}
	if workers == 0 {
		workers = a.settings.Workers
	}
	eng := engine.New(engine.Config{Workers: workers, Seed: seed, Policy: a.settings.Policy()}, a.log)
	return evaluator.New(a.store, eng, a.settings.RiskTolerances, a.log)
}

// parseFlags parses args after the positional arguments the command needs.
func parseFlags(fs *pflag.FlagSet, args []string, positional int, usage string) ([]string, error) {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%v\nusage: %s", err, usage)
	}
	if fs.NArg() != positional {
		return nil, fmt.Errorf("usage: %s", usage)
	}
	return fs.Args(), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// list / init
// ---------------------------------------------------------------------------

func runList(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: fairsim list")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	names, err := a.store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(out, "no models in %s\n", a.store.Dir)
		return nil
	}
	for _, name := range names {
		m, err := a.store.Manifest(name)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%-20s saved run %s (%d iterations, %s)\n", name, m.RunID, m.Iterations, m.FinishedAt.Local().Format("2006-01-02 15:04"))
		case errors.Is(err, store.ErrResultsNotFound):
			fmt.Fprintf(out, "%-20s no saved results\n", name)
		default:
			fmt.Fprintf(out, "%-20s %v\n", name, err)
		}
	}
	return nil
}

func runInit(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: fairsim init <model>")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	name := args[0]
	if err := a.store.Init(name, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "created model %q at %s\n", name, filepath.Join(a.store.Dir, name, "model.yaml"))
	return nil
}

func runRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: fairsim remove <model>")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	if err := a.store.Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "removed model %q\n", args[0])
	return nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runRun(args []string) error {
	const usage = "fairsim run <model> [--iterations N] [--seed S] [--workers W] [--save]"
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	iterations := fs.Int("iterations", a.settings.Iterations, "simulated years")
	seed := fs.Uint64("seed", 0, "random seed")
	workers := fs.Int("workers", 0, "concurrent scenarios")
	save := fs.Bool("save", false, "save the results")
	pos, err := parseFlags(fs, args, 1, usage)
	if err != nil {
		return err
	}
	name := pos[0]

	ctx, stop := signalContext()
	defer stop()

	svc := a.service(*seed, *workers)
	res, err := svc.RunModelSimulation(ctx, name, *iterations)
	if err != nil {
		return err
	}
	sum, err := svc.SummarizeModelSimulation(res)
	if err != nil {
		return err
	}
	if *save {
		if err := svc.SaveResults(name, sum); err != nil {
			return err
		}
	}

	printHeadline(out, sum)
	fmt.Fprintln(out)
	fmt.Fprintln(out, scenarioTable(sum.Top(10, rank.ByVaR)))
	if *save {
		fmt.Fprintf(out, "\nsaved to %s\n", filepath.Join(a.store.Dir, name, "results"))
	}
	return nil
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	tierStyles = map[string]lipgloss.Style{
		"danger":  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		"warning": lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		"success": lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
	}
)

func tierText(sum *evaluator.Summary) string {
	return tierStyles[sum.Tier.Status].Render(string(sum.Tier.Level))
}

func printHeadline(w io.Writer, sum *evaluator.Summary) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Model:"), sum.Model)
	fmt.Fprintf(w, "%s %s (%d iterations, seed %d)\n", labelStyle.Render("Run:"), sum.RunID, sum.Iterations, sum.Seed)
	fmt.Fprintf(w, "%s %s  %s\n", labelStyle.Render("VaR 95%:"), report.Money(sum.VaR), tierText(sum))
	fmt.Fprintf(w, "%s %.2f\n", labelStyle.Render("Median loss events/yr:"), sum.MedianLossEvents)
}

func scenarioTable(rows []summary.ScenarioSummary) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "Scenario", "Domain", "VaR", "Mean ALE", "Max ALE", "Loss events/yr")
	for i, s := range rows {
		t.Row(fmt.Sprint(i+1), s.ScenarioID, s.DomainID, report.Money(s.ALEVaR), report.Money(s.ALEMean), report.Money(s.ALEMax), fmt.Sprintf("%.2f", s.LossEventsMean))
	}
	return t.String()
}

// ---------------------------------------------------------------------------
// summary / top / export
// ---------------------------------------------------------------------------

func runSummary(args []string) error {
	const usage = "fairsim summary <model> [--raw]"
	fs := pflag.NewFlagSet("summary", pflag.ContinueOnError)
	raw := fs.Bool("raw", false, "print unstyled markdown")
	pos, err := parseFlags(fs, args, 1, usage)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	sum, err := a.service(0, 0).LoadSimulationModel(pos[0])
	if err != nil {
		return err
	}
	bundle, err := report.Generate(sum, report.Options{})
	if err != nil {
		return err
	}
	index, _ := bundle.File("index.md")
	md := stripFrontmatter(string(index))
	if *raw {
		fmt.Fprint(out, md)
		return nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("renderer: %w", err)
	}
	rendered, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	fmt.Fprint(out, rendered)
	return nil
}

// stripFrontmatter drops a leading --- delimited YAML block.
func stripFrontmatter(s string) string {
	if !strings.HasPrefix(s, "---\n") {
		return s
	}
	end := strings.Index(s[4:], "\n---\n")
	if end < 0 {
		return s
	}
	return strings.TrimLeft(s[4+end+5:], "\n")
}

func runTop(args []string) error {
	const usage = "fairsim top <model> [-n N] [--by key]"
	fs := pflag.NewFlagSet("top", pflag.ContinueOnError)
	n := fs.IntP("n", "n", 10, "number of scenarios")
	by := fs.String("by", string(rank.ByVaR), "ranking key")
	pos, err := parseFlags(fs, args, 1, usage)
	if err != nil {
		return err
	}
	key, err := rank.ParseSortKey(*by)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	sum, err := a.service(0, 0).LoadSimulationModel(pos[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, scenarioTable(sum.Top(*n, key)))
	return nil
}

func runExport(args []string) error {
	const usage = "fairsim export <model> <dir> [-n N] [--by key]"
	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	n := fs.IntP("n", "n", report.DefaultTopN, "scenarios ranked on index.md")
	by := fs.String("by", string(rank.ByVaR), "ranking key")
	pos, err := parseFlags(fs, args, 2, usage)
	if err != nil {
		return err
	}
	key, err := rank.ParseSortKey(*by)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	sum, err := a.service(0, 0).LoadSimulationModel(pos[0])
	if err != nil {
		return err
	}
	if err := report.Export(sum, pos[1], report.Options{TopN: *n, By: key}); err != nil {
		return err
	}
	fmt.Fprintf(out, "report written to %s\n", pos[1])
	return nil
}

func main() {
	if err := dispatch(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fairsim: %v\n", err)
		os.Exit(1)
	}
}
