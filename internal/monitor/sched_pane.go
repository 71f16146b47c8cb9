package monitor

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/astrosched/astrosched/internal/events"
)

// SchedPaneModel shows scheduler progress for the current run. Tick events
// carry per-scan deltas, so the pane accumulates settled counts itself;
// pending is a gauge and the finish event is authoritative.
type SchedPaneModel struct {
	runID     string
	plan      string
	total     int
	pending   int
	resumed   int
	succeeded int
	failed    int
	cancelled int
	finished  bool
	width     int
	height    int
	focused   bool
}

// NewSchedPaneModel creates a new scheduler pane model.
func NewSchedPaneModel() SchedPaneModel {
	return SchedPaneModel{}
}

// Update handles messages for the scheduler pane.
func (m SchedPaneModel) Update(msg tea.Msg) (SchedPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.SequenceStarted:
		m.runID = msg.RunID
		m.plan = msg.Plan
		m.total = msg.Tasks
		m.pending = msg.Tasks
		m.resumed = 0
		m.succeeded = 0
		m.failed = 0
		m.cancelled = 0
		m.finished = false

	case events.SchedulerTick:
		m.pending = msg.Pending
		m.resumed = msg.Resumed
		m.succeeded += msg.Succeeded
		m.failed += msg.Failed
		m.cancelled += msg.Cancelled

	case events.SequenceFinished:
		m.succeeded = msg.Succeeded
		m.failed = msg.Failed
		m.cancelled = msg.Cancelled
		m.pending = 0
		m.resumed = 0
		m.finished = true
	}

	return m, nil
}

// View renders the scheduler pane.
func (m SchedPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Scheduler")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.runID == "" {
		b.WriteString(StyleStatusPending.Render("No run yet."))
	} else {
		run := fmt.Sprintf("Run %s  plan %s", m.runID, m.plan)
		if m.finished {
			run += "  (finished)"
		}
		b.WriteString(run)
		b.WriteString("\n\n")

		b.WriteString(fmt.Sprintf("Succeeded: %s\n", StyleStatusSucceeded.Render(fmt.Sprintf("%d", m.succeeded))))
		b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
		b.WriteString(fmt.Sprintf("Cancelled: %s\n", StyleStatusCancelled.Render(fmt.Sprintf("%d", m.cancelled))))
		b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending))))
		b.WriteString(fmt.Sprintf("Resumed:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.resumed))))

		b.WriteString("\n")

		total := m.barTotal()
		if total > 0 {
			barWidth := min(m.width-4, 40)
			succeededWidth := (m.succeeded * barWidth) / total
			failedWidth := (m.failed * barWidth) / total
			cancelledWidth := (m.cancelled * barWidth) / total
			pendingWidth := barWidth - succeededWidth - failedWidth - cancelledWidth

			bar := StyleStatusSucceeded.Render(strings.Repeat("=", max(0, succeededWidth)))
			bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
			bar += StyleStatusCancelled.Render(strings.Repeat("-", max(0, cancelledWidth)))
			bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

			settled := m.succeeded + m.failed + m.cancelled
			b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, settled, total))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// barTotal sizes the progress bar. Pipeline follow-ups are scheduled while
// a run executes, so the settled and pending counts can outgrow the task
// count announced at start.
func (m SchedPaneModel) barTotal() int {
	seen := m.succeeded + m.failed + m.cancelled + m.pending
	return max(m.total, seen)
}

// SetSize updates the pane dimensions.
func (m *SchedPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *SchedPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
