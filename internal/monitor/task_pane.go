package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/astrosched/astrosched/internal/events"
)

// TaskState tracks a single scheduled task for display.
type TaskState struct {
	ID        string
	Name      string
	DependsOn []string
	Status    string // "pending", "running", "succeeded", "failed", "cancelled"
	Trail     []string
	StartedAt time.Time
	Duration  time.Duration
}

// TaskPaneModel shows the task list and the selected task's progress trail.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // task ID -> state
	taskOrder   []string              // insertion order for display
	selectedIdx int                   // which task is selected in list
	viewport    viewport.Model        // scrollable trail viewport
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	vp := viewport.New(0, 0)
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: vp,
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskScheduled:
		if _, exists := m.tasks[msg.ID]; !exists {
			t := &TaskState{
				ID:        msg.ID,
				Name:      msg.Name,
				DependsOn: msg.DependsOn,
				Status:    "pending",
				Trail:     make([]string, 0),
				StartedAt: msg.At,
			}
			if len(msg.DependsOn) > 0 {
				t.Trail = append(t.Trail, fmt.Sprintf("waiting on %s", strings.Join(msg.DependsOn, ", ")))
			}
			m.tasks[msg.ID] = t
			m.taskOrder = append(m.taskOrder, msg.ID)
			// Auto-select first task
			if len(m.taskOrder) == 1 {
				m.selectedIdx = 0
				m.updateViewportContent()
			}
		}

	case events.TaskProgress:
		if t, exists := m.tasks[msg.ID]; exists {
			t.Status = "running"
			t.Trail = append(t.Trail, fmt.Sprintf("%v", msg.Value))
			if m.getSelectedID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case events.TaskCompleted:
		if t, exists := m.tasks[msg.ID]; exists {
			t.Status = "succeeded"
			t.Duration = msg.At.Sub(t.StartedAt)
			line := fmt.Sprintf("\n[Completed in %v]", t.Duration.Round(time.Millisecond))
			if msg.Value != nil {
				line += fmt.Sprintf(" %v", msg.Value)
			}
			t.Trail = append(t.Trail, line)
			if m.getSelectedID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case events.TaskFailed:
		if t, exists := m.tasks[msg.ID]; exists {
			t.Status = "failed"
			t.Duration = msg.At.Sub(t.StartedAt)
			t.Trail = append(t.Trail, fmt.Sprintf("\n[Failed: %v]", msg.Err))
			if m.getSelectedID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case events.TaskCancelled:
		if t, exists := m.tasks[msg.ID]; exists {
			t.Status = "cancelled"
			t.Duration = msg.At.Sub(t.StartedAt)
			t.Trail = append(t.Trail, fmt.Sprintf("\n[Cancelled: %v]", msg.Reason))
			if m.getSelectedID() == msg.ID {
				m.updateViewportContent()
			}
		}
	}

	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	// Split into two columns: task list (left) and trail viewport (right)
	listWidth := 25
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	listContent := m.renderTaskList(listWidth)
	viewportContent := m.viewport.View()

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		listContent,
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(viewportContent),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderTaskList renders the task list column.
func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.taskOrder {
			task := m.tasks[id]
			icon := m.StatusIcon(task.Status)
			name := task.Name
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", icon, name)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m TaskPaneModel) StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "succeeded":
		return StyleStatusSucceeded.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "cancelled":
		return StyleStatusCancelled.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

// getSelectedID returns the ID of the currently selected task.
func (m TaskPaneModel) getSelectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// updateViewportContent updates the viewport with the selected task's trail.
func (m *TaskPaneModel) updateViewportContent() {
	id := m.getSelectedID()
	if id == "" {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	task, exists := m.tasks[id]
	if !exists {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	m.viewport.SetContent(strings.Join(task.Trail, "\n"))
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *TaskPaneModel) resizeViewport() {
	listWidth := 25
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4 // account for borders

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
