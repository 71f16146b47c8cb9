package monitor

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/astrosched/astrosched/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget       string
	qualityThreshold string
	maxAttempts      string
	adjustFactor     string
	pollIntervalMS   string
	framesRoot       string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		visible:     false,
		saved:       false,

		// Initialize form field values from config
		saveTarget:       "global",
		qualityThreshold: strconv.FormatFloat(cfg.Exposure.QualityThreshold, 'f', -1, 64),
		maxAttempts:      strconv.Itoa(cfg.Exposure.MaxAttempts),
		adjustFactor:     strconv.FormatFloat(cfg.Exposure.AdjustFactor, 'f', -1, 64),
		pollIntervalMS:   strconv.Itoa(cfg.Scheduler.PollIntervalMS),
		framesRoot:       cfg.Frames.Root,
	}

	m.buildForm()
	return m
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.astrosched/config.json)", "global"),
					huh.NewOption("Project (.astrosched/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("qualityThreshold").
				Title("Quality Threshold").
				Value(&m.qualityThreshold).
				Placeholder("0.7"),

			huh.NewInput().
				Key("maxAttempts").
				Title("Max Attempts").
				Value(&m.maxAttempts).
				Placeholder("5"),

			huh.NewInput().
				Key("adjustFactor").
				Title("Adjust Factor").
				Value(&m.adjustFactor).
				Placeholder("1.5"),
		).Title("Exposure Settings"),

		huh.NewGroup(
			huh.NewInput().
				Key("pollIntervalMS").
				Title("Poll Interval (ms)").
				Value(&m.pollIntervalMS).
				Placeholder("100"),

			huh.NewInput().
				Key("framesRoot").
				Title("Frames Root").
				Value(&m.framesRoot).
				Placeholder("frames"),
		).Title("Scheduler & Storage"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			// Cancel without saving
			m.visible = false
			m.saved = false
			return m, nil
		}
	}

	// Delegate to form
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	// Check if form is completed
	if m.form.State == huh.StateCompleted {
		if err := m.applyFormToConfig(); err != nil {
			m.err = err
			m.saved = false
			return m, cmd
		}

		// Determine save path
		targetPath := m.globalPath
		if m.saveTarget == "project" {
			targetPath = m.projectPath
		}

		// Save config
		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
		}

		// Hide form after successful save
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig parses the form fields back into the config struct.
// The config is only touched when every field parses and the result
// validates.
func (m *SettingsPaneModel) applyFormToConfig() error {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(m.qualityThreshold), 64)
	if err != nil {
		return fmt.Errorf("quality threshold: %w", err)
	}
	attempts, err := strconv.Atoi(strings.TrimSpace(m.maxAttempts))
	if err != nil {
		return fmt.Errorf("max attempts: %w", err)
	}
	factor, err := strconv.ParseFloat(strings.TrimSpace(m.adjustFactor), 64)
	if err != nil {
		return fmt.Errorf("adjust factor: %w", err)
	}
	poll, err := strconv.Atoi(strings.TrimSpace(m.pollIntervalMS))
	if err != nil {
		return fmt.Errorf("poll interval: %w", err)
	}

	next := *m.config
	next.Exposure.QualityThreshold = threshold
	next.Exposure.MaxAttempts = attempts
	next.Exposure.AdjustFactor = factor
	next.Scheduler.PollIntervalMS = poll
	next.Frames.Root = strings.TrimSpace(m.framesRoot)

	if err := next.Validate(); err != nil {
		return err
	}

	*m.config = next
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string

	// Show saved message if just saved
	if m.saved && m.form.State == huh.StateCompleted {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved successfully!")
	} else if m.err != nil {
		// Show error if parsing or saving failed
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Not saved: %v", m.err))
	} else {
		// Render form
		content = m.form.View()
	}

	// Wrap in styled border
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	body := style.Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Reset form state when showing
	if v && m.form != nil {
		// Rebuild form to reset state
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
