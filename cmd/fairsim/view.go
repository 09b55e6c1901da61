package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"fairsim/internal/classify"
	"fairsim/internal/evaluator"
	"fairsim/internal/logger"
	"fairsim/internal/report"
	"fairsim/internal/runner"
	"fairsim/internal/store"
)

// viewRunner is the part of runner.Runner the viewer drives.
type viewRunner interface {
	Submit(req runner.Request) (string, error)
	Current() *evaluator.Summary
}

type eventMsg runner.Event

type eventsClosedMsg struct{}

// waitEvent delivers the next runner event as a message.
func waitEvent(events <-chan runner.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// viewModel shows the runner's current snapshot and submits requests on
// key presses.
type viewModel struct {
	model      string
	iterations int
	runner     viewRunner
	events     <-chan runner.Event

	pending string // request id awaiting its event
	status  string
	err     error

	sum         *evaluator.Summary
	showDomains bool
	table       table.Model
	spinner     spinner.Model
}

func newViewModel(name string, iterations int, r viewRunner, events <-chan runner.Event) viewModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	t := table.New(table.WithFocused(true), table.WithHeight(12))
	t.SetColumns(scenarioColumns)
	return viewModel{
		model:      name,
		iterations: iterations,
		runner:     r,
		events:     events,
		table:      t,
		spinner:    sp,
	}
}

func (m viewModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitEvent(m.events))
}

// submit sends req and records it as the request the status line tracks.
func (m *viewModel) submit(req runner.Request, status string) {
	id, err := m.runner.Submit(req)
	if err != nil {
		m.err = err
		return
	}
	m.pending, m.status, m.err = id, status, nil
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			m.submit(runner.RunSimulationRequest{Model: m.model, Iterations: m.iterations}, "simulating")
			return m, nil
		case "s":
			m.submit(runner.RunSimulationRequest{Model: m.model, Iterations: m.iterations, Save: true}, "simulating and saving")
			return m, nil
		case "l":
			m.submit(runner.LoadResultsRequest{Model: m.model}, "loading saved results")
			return m, nil
		case "tab":
			m.showDomains = !m.showDomains
			m.refreshTable()
			return m, nil
		}

	case eventMsg:
		ev := runner.Event(msg)
		if ev.RequestID == m.pending {
			m.pending, m.status = "", ""
			if ev.Err != nil && !ev.Superseded {
				m.err = ev.Err
			}
		}
		if ev.Err == nil {
			m.sum = m.runner.Current()
			m.refreshTable()
		}
		return m, waitEvent(m.events)

	case eventsClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

var (
	scenarioColumns = []table.Column{
		{Title: "Scenario", Width: 12},
		{Title: "Domain", Width: 8},
		{Title: "VaR", Width: 14},
		{Title: "Mean ALE", Width: 14},
		{Title: "Events/yr", Width: 9},
		{Title: "Impact", Width: 8},
		{Title: "Likelihood", Width: 14},
	}
	domainColumns = []table.Column{
		{Title: "Domain", Width: 8},
		{Title: "Name", Width: 18},
		{Title: "VaR", Width: 14},
		{Title: "Mean ALE", Width: 14},
		{Title: "Events/yr", Width: 9},
		{Title: "Tier", Width: 8},
	}
)

func (m *viewModel) refreshTable() {
	var (
		cols []table.Column
		rows []table.Row
	)
	switch {
	case m.showDomains:
		cols = domainColumns
		if m.sum != nil {
			tiers := tiersOf(m.sum)
			for _, d := range m.sum.DomainSummary {
				rows = append(rows, table.Row{
					d.DomainID, d.Name, report.Money(d.ALEVaR), report.Money(d.ALEMean),
					fmt.Sprintf("%.2f", d.LossEventsMean), string(tiers.Tier(d.ALEVaR).Level),
				})
			}
		}
	default:
		cols = scenarioColumns
		if m.sum != nil {
			for _, s := range m.sum.ScenarioSummary {
				cell := classify.Classify(s.LossStats)
				rows = append(rows, table.Row{
					s.ScenarioID, s.DomainID, report.Money(s.ALEVaR), report.Money(s.ALEMean),
					fmt.Sprintf("%.2f", s.LossEventsMean), string(cell.Impact), string(cell.Likelihood),
				})
			}
		}
	}
	// Rows go first so they never outnumber the columns being rendered.
	m.table.SetRows(nil)
	m.table.SetColumns(cols)
	m.table.SetRows(rows)
}

// tiersOf rebuilds the tolerance table a summary was classified with.
func tiersOf(sum *evaluator.Summary) classify.Tolerances {
	var t classify.Tolerances
	for _, rt := range sum.RiskTolerances {
		switch rt.Level {
		case classify.LevelMedium:
			t.Medium = rt.Amount
		case classify.LevelHigh:
			t.High = rt.Amount
		}
	}
	return t
}

func (m viewModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("fairsim: "+m.model) + "\n")
	if m.sum != nil {
		fmt.Fprintf(&b, "run %s  %d iterations  VaR 95%% %s  %s\n\n",
			m.sum.RunID, m.sum.Iterations, report.Money(m.sum.VaR), tierText(m.sum))
		b.WriteString(m.table.View() + "\n")
	} else {
		b.WriteString("\nno results yet\n")
	}
	if m.pending != "" {
		b.WriteString("\n" + m.spinner.View() + " " + m.status + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(statusStyle.Render("\nr run  s run+save  l load  tab scenarios/domains  q quit") + "\n")
	return b.String()
}

// ---------------------------------------------------------------------------
// view
// ---------------------------------------------------------------------------

func runView(args []string) error {
	const usage = "fairsim view <model> [--iterations N]"
	a, err := newApp()
	if err != nil {
		return err
	}
	// The terminal belongs to the viewer.
	a.log = logger.Nop()

	fs := pflag.NewFlagSet("view", pflag.ContinueOnError)
	iterations := fs.Int("iterations", a.settings.Iterations, "simulated years")
	pos, err := parseFlags(fs, args, 1, usage)
	if err != nil {
		return err
	}
	name := pos[0]
	if _, err := a.store.Load(name); err != nil {
		return err
	}

	r := runner.New(a.service(0, 0), a.log)
	defer r.Close()
	events, unsubscribe := r.Subscribe()
	defer unsubscribe()

	m := newViewModel(name, *iterations, r, events)
	switch _, err := a.store.Manifest(name); {
	case err == nil:
		m.submit(runner.LoadResultsRequest{Model: name}, "loading saved results")
	case errors.Is(err, store.ErrResultsNotFound):
		m.submit(runner.RunSimulationRequest{Model: name, Iterations: *iterations}, "simulating")
	default:
		return err
	}

	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
