package runconsole

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/usecase/dispatch"
)

const (
	maxAuditLines = 8
	progressWidth = 30
)

// RunSource is the part of the dispatch service the console drives.
type RunSource interface {
	ListRuns(ctx context.Context, input dispatch.ListRunsInput) ([]dispatch.Run, error)
	GetRun(ctx context.Context, runID string) (dispatch.RunDetail, error)
	CalculateStoreCounts(ctx context.Context, input dispatch.CalculateInput) (dispatch.CalculateResult, error)
	Allocate(ctx context.Context, input dispatch.AllocateInput) (dispatch.AllocateResult, error)
}

type Options struct {
	StatusFilter    string
	Actor           string
	Limit           int
	RefreshInterval time.Duration
}

type runModel struct {
	ctx             context.Context
	source          RunSource
	statusFilter    string
	actor           string
	limit           int
	refreshInterval time.Duration

	runs          []dispatch.Run
	selectedIndex int
	detail        dispatch.RunDetail
	hasDetail     bool
	busyRunID     string
	status        string
	auditLogs     []string
}

type runsLoadedMsg struct {
	items []dispatch.Run
	err   error
}

type runDetailLoadedMsg struct {
	runID  string
	detail dispatch.RunDetail
	err    error
}

type tickMsg struct{}

type actionDoneMsg struct {
	action string
	runID  string
	result string
	err    error
}

func NewRunModel(ctx context.Context, source RunSource, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	limit := options.Limit
	if limit <= 0 {
		limit = 20
	}

	return &runModel{
		ctx:             ctx,
		source:          source,
		statusFilter:    strings.TrimSpace(options.StatusFilter),
		actor:           strings.TrimSpace(options.Actor),
		limit:           limit,
		refreshInterval: interval,
		status:          "loading",
	}
}

func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.loadRunsCmd(), m.tickCmd())
}

func (m *runModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadRunsCmd(), m.tickCmd())
	case runsLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.runs = msg.items
		if len(m.runs) == 0 {
			m.selectedIndex = 0
			m.hasDetail = false
			m.status = "no runs"
			return m, nil
		}
		if m.selectedIndex >= len(m.runs) {
			m.selectedIndex = len(m.runs) - 1
		}
		if m.busyRunID == "" {
			m.status = fmt.Sprintf("refreshed, %d runs", len(m.runs))
		}
		return m, m.loadSelectedRunDetailCmd()
	case runDetailLoadedMsg:
		if !m.isCurrentSelectedRun(msg.runID) {
			return m, nil
		}
		if msg.err != nil {
			m.hasDetail = false
			m.status = "detail failed: " + msg.err.Error()
			return m, nil
		}
		m.detail = msg.detail
		m.hasDetail = true
		return m, nil
	case actionDoneMsg:
		m.busyRunID = ""
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
			m.appendAuditLog(msg.action, msg.runID, "failed", msg.err)
		} else {
			m.status = fmt.Sprintf("%s done: %s", msg.action, msg.result)
			m.appendAuditLog(msg.action, msg.runID, msg.result, nil)
		}
		return m, m.loadRunsCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadRunsCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadSelectedRunDetailCmd()
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.runs)-1 {
				m.selectedIndex++
				return m, m.loadSelectedRunDetailCmd()
			}
			return m, nil
		case "c":
			return m, m.calculateCmd()
		case "a":
			return m, m.allocateCmd()
		}
	}
	return m, nil
}

func (m *runModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Dispatch Runs"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf(
		"status=%s limit=%d refresh=%s",
		firstNonEmpty(m.statusFilter, "all"),
		m.limit,
		m.refreshInterval,
	)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Runs"))
	builder.WriteString("\n")
	if len(m.runs) == 0 {
		builder.WriteString(dimStyle.Render("- no runs"))
		builder.WriteString("\n\n")
	} else {
		for index, run := range m.runs {
			line := fmt.Sprintf("%s [%s] %s by=%s", shortID(run.RunID), run.Status, run.Name, firstNonEmpty(run.CreatedBy, "-"))
			if run.RunID == m.busyRunID {
				line += " (working)"
			}
			if index == m.selectedIndex {
				builder.WriteString(selectedStyle.Render("> " + line))
			} else {
				builder.WriteString("  " + line)
			}
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Detail"))
	builder.WriteString("\n")
	if !m.hasDetail {
		builder.WriteString(dimStyle.Render("- no detail"))
		builder.WriteString("\n\n")
	} else {
		run := m.detail.Run
		builder.WriteString(fmt.Sprintf("Run: %s\n", run.RunID))
		builder.WriteString(fmt.Sprintf("Status: %s\n", run.Status))
		builder.WriteString(fmt.Sprintf("Parameters: #%d min_reference=%d min_ean=%d\n",
			run.ParametersID, run.Parameters.MinReferenceQuantity, run.Parameters.MinEanQuantity))
		builder.WriteString(fmt.Sprintf("Procedure: %s (%s)\n", firstNonEmpty(run.Procedure.Name, "-"), firstNonEmpty(run.Procedure.Kind, "-")))
		builder.WriteString(fmt.Sprintf("Line items: %d  Records: %d\n", m.detail.LineItems, m.detail.AllocationRecords))
		if run.DistributionID != "" {
			builder.WriteString(fmt.Sprintf("Distribution: %s\n", run.DistributionID))
		}
		builder.WriteString("\nProgress:\n")
		if len(m.detail.Progress) == 0 {
			builder.WriteString("- none\n")
		}
		for _, progress := range m.detail.Progress {
			builder.WriteString(fmt.Sprintf("- %-9s %s %3d%% (%d/%d)", progress.Stage, progressBar(progress.Percent), progress.Percent, progress.Processed, progress.Total))
			if progress.Error != "" {
				builder.WriteString(" " + errorStyle.Render(progress.Error))
			}
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Audit Log"))
	builder.WriteString("\n")
	if len(m.auditLogs) == 0 {
		builder.WriteString(dimStyle.Render("- no actions"))
		builder.WriteString("\n\n")
	} else {
		for _, line := range m.auditLogs {
			builder.WriteString("- " + line)
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(dimStyle.Render("Keys: up/k down/j move  g refresh  c calculate  a allocate  q quit"))
	return builder.String()
}

func (m *runModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *runModel) loadRunsCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.source.ListRuns(m.ctx, dispatch.ListRunsInput{Status: m.statusFilter, Limit: m.limit})
		return runsLoadedMsg{items: items, err: err}
	}
}

func (m *runModel) loadSelectedRunDetailCmd() tea.Cmd {
	selected, ok := m.selectedRun()
	if !ok {
		return nil
	}

	return func() tea.Msg {
		detail, err := m.source.GetRun(m.ctx, selected.RunID)
		return runDetailLoadedMsg{runID: selected.RunID, detail: detail, err: err}
	}
}

func (m *runModel) calculateCmd() tea.Cmd {
	selected, ok := m.selectedRun()
	if !ok {
		m.status = "no run selected"
		return nil
	}
	if err := m.checkActionAllowed("calculate", selected, domaindispatch.StatusStoreCountsCalculated); err != nil {
		m.status = err.Error()
		return nil
	}
	m.busyRunID = selected.RunID
	m.status = "calculating " + shortID(selected.RunID)

	return func() tea.Msg {
		result, err := m.source.CalculateStoreCounts(m.ctx, dispatch.CalculateInput{RunID: selected.RunID})
		if err != nil {
			return actionDoneMsg{action: "calculate", runID: selected.RunID, err: err}
		}
		return actionDoneMsg{
			action: "calculate",
			runID:  selected.RunID,
			result: fmt.Sprintf("%d line items bounded", result.Processed),
		}
	}
}

func (m *runModel) allocateCmd() tea.Cmd {
	selected, ok := m.selectedRun()
	if !ok {
		m.status = "no run selected"
		return nil
	}
	if err := m.checkActionAllowed("allocate", selected, domaindispatch.StatusDistributed); err != nil {
		m.status = err.Error()
		return nil
	}
	m.busyRunID = selected.RunID
	m.status = "allocating " + shortID(selected.RunID)

	return func() tea.Msg {
		result, err := m.source.Allocate(m.ctx, dispatch.AllocateInput{RunID: selected.RunID, Actor: m.actor})
		if err != nil {
			return actionDoneMsg{action: "allocate", runID: selected.RunID, err: err}
		}
		return actionDoneMsg{
			action: "allocate",
			runID:  selected.RunID,
			result: fmt.Sprintf("distribution %s with %d records", result.DistributionID, result.Records),
		}
	}
}

// checkActionAllowed only screens the listed status; the service re-checks against the stored run.
func (m *runModel) checkActionAllowed(action string, run dispatch.Run, target domaindispatch.Status) error {
	if m.busyRunID != "" {
		return fmt.Errorf("%s blocked: run %s is still working", action, shortID(m.busyRunID))
	}
	if err := domaindispatch.ValidateTransition(run.Status, target); err != nil {
		return fmt.Errorf("%s not allowed: %w", action, err)
	}
	return nil
}

func (m *runModel) selectedRun() (dispatch.Run, bool) {
	if len(m.runs) == 0 || m.selectedIndex < 0 || m.selectedIndex >= len(m.runs) {
		return dispatch.Run{}, false
	}
	return m.runs[m.selectedIndex], true
}

func (m *runModel) isCurrentSelectedRun(runID string) bool {
	selected, ok := m.selectedRun()
	return ok && selected.RunID == runID
}

func (m *runModel) appendAuditLog(action string, runID string, result string, opErr error) {
	line := fmt.Sprintf("%s %s run=%s result=%s", time.Now().Format("15:04:05"), action, shortID(runID), result)
	m.auditLogs = append(m.auditLogs, line)
	if len(m.auditLogs) > maxAuditLines {
		m.auditLogs = m.auditLogs[len(m.auditLogs)-maxAuditLines:]
	}

	attrs := []slog.Attr{
		slog.String("action", action),
		slog.String("run_id", runID),
		slog.String("result", result),
	}
	logCtx := logging.WithAttrs(m.ctx, slog.String("component", "console.runs"))
	if opErr != nil {
		logging.Warn(logCtx, "console action failed", append(attrs, slog.String("err", opErr.Error()))...)
		return
	}
	logging.Info(logCtx, "console action done", attrs...)
}

func progressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * progressWidth / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", progressWidth-filled) + "]"
}

func shortID(runID string) string {
	if len(runID) <= 8 {
		return runID
	}
	return runID[:8]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
