package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/astrosched/astrosched/internal/events"
)

// deviceHistory bounds how many finished commands the pane remembers.
const deviceHistory = 200

// DevicePaneModel shows a rolling log of finished device commands.
type DevicePaneModel struct {
	lines   []string
	width   int
	height  int
	focused bool
}

// NewDevicePaneModel creates a new device pane model.
func NewDevicePaneModel() DevicePaneModel {
	return DevicePaneModel{}
}

// Update handles messages for the device pane.
func (m DevicePaneModel) Update(msg tea.Msg) (DevicePaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.DeviceCommand:
		line := fmt.Sprintf("%s  %-8s %-10s %v",
			msg.At.Format("15:04:05"),
			msg.Device,
			msg.Action,
			msg.Duration.Round(time.Millisecond))
		if msg.Err != nil {
			line += "  " + StyleDeviceError.Render(msg.Err.Error())
		}
		m.lines = append(m.lines, line)
		if len(m.lines) > deviceHistory {
			m.lines = m.lines[len(m.lines)-deviceHistory:]
		}
	}

	return m, nil
}

// View renders the device pane.
func (m DevicePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Device Commands")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.lines) == 0 {
		b.WriteString(StyleStatusPending.Render("No commands yet."))
	} else {
		// Show the newest lines that fit the pane.
		visible := max(m.height-7, 1)
		start := max(len(m.lines)-visible, 0)
		b.WriteString(strings.Join(m.lines[start:], "\n"))
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

// SetSize updates the pane dimensions.
func (m *DevicePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DevicePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
