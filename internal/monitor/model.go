package monitor

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/astrosched/astrosched/internal/config"
	"github.com/astrosched/astrosched/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneDevices
	PaneScheduler
)

// Model is the root Bubble Tea model for the monitor.
type Model struct {
	taskPane          TaskPaneModel
	devicePane        DevicePaneModel
	schedPane         SchedPaneModel
	settingsPane      SettingsPaneModel
	focusedPane       PaneID
	eventSub          <-chan events.Event
	width             int
	height            int
	quitting          bool
	showSettings      bool
	config            *config.Config
	globalConfigPath  string
	projectConfigPath string
}

// New creates a new monitor model subscribed to every event on the bus.
func New(bus *events.Bus, cfg *config.Config, globalPath, projectPath string) Model {
	return Model{
		taskPane:          NewTaskPaneModel(),
		devicePane:        NewDevicePaneModel(),
		schedPane:         NewSchedPaneModel(),
		settingsPane:      NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:       PaneTasks,
		eventSub:          bus.SubscribeAll(256),
		showSettings:      false,
		config:            cfg,
		globalConfigPath:  globalPath,
		projectConfigPath: projectPath,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			switch msg.String() {
			case KeySettings, "esc":
				// Toggle settings off
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			default:
				// Route to settings pane
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)

				// Check if settings pane closed itself (after save)
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		// Normal mode (settings not open)
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			// Toggle settings on
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			// Cycle forward
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			// Cycle backward
			m.focusedPane = (m.focusedPane + 2) % 3 // +2 is equivalent to -1 mod 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneDevices
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneScheduler
			m.updateFocusStates()

		default:
			// Delegate to focused pane
			switch m.focusedPane {
			case PaneTasks:
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneDevices:
				var cmd tea.Cmd
				m.devicePane, cmd = m.devicePane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneScheduler:
				var cmd tea.Cmd
				m.schedPane, cmd = m.schedPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.TaskScheduled, events.TaskProgress, events.TaskCompleted, events.TaskFailed, events.TaskCancelled:
		// Forward task events to the task pane
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		// Also wait for next event
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.SchedulerTick, events.SequenceStarted, events.SequenceFinished:
		// Forward run progress to the scheduler pane
		var cmd tea.Cmd
		m.schedPane, cmd = m.schedPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.DeviceCommand:
		var cmd tea.Cmd
		m.devicePane, cmd = m.devicePane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the monitor.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	// If settings panel is visible, render it full-screen
	if m.showSettings {
		return m.settingsPane.View()
	}

	// Render left pane (task list + trail)
	leftPane := m.taskPane.View()

	// Render right panes (device log above scheduler progress)
	rightTop := m.devicePane.View()
	rightBottom := m.schedPane.View()
	rightPane := lipgloss.JoinVertical(lipgloss.Left, rightTop, rightBottom)

	// Join left and right horizontally
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	// Add help bar at bottom
	helpBar := HelpView()

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, helpBar)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 35) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar
	rightTopHeight := (availableHeight * 60) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	// Task pane takes the full left side
	m.taskPane.SetSize(leftWidth, availableHeight)

	// Device log takes right-top, scheduler progress right-bottom
	m.devicePane.SetSize(rightWidth, rightTopHeight)
	m.schedPane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.devicePane.SetFocused(m.focusedPane == PaneDevices)
	m.schedPane.SetFocused(m.focusedPane == PaneScheduler)
}
