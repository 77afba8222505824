package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/metrics"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg carries an updated supervisor snapshot.
type StatusMsg struct {
	Status    supervisor.Status
	Connected bool
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Sources
// =============================================================================

// StatusSource provides supervisor snapshots.
type StatusSource interface {
	Status() supervisor.Status
}

// OutputSource provides captured OpenVPN output.
type OutputSource interface {
	RecentLines(n int) []string
	CountErrors() map[string]int
}

// SummarySource provides lifecycle counters and tunnel state.
type SummarySource interface {
	GenerateSummary() *metrics.Summary
	Connected() bool
}

// =============================================================================
// Model
// =============================================================================

// summaryLines is the output tail shown on the main view.
const summaryLines = 5

// Model represents the TUI state.
type Model struct {
	// Configuration
	command     string
	metricsAddr string

	// Current state
	status     supervisor.Status
	connected  bool
	summary    *metrics.Summary
	lines      []string
	errors     map[string]int
	startTime  time.Time
	lastUpdate time.Time
	showLog    bool

	// Display options
	width  int
	height int

	// Sources, all optional
	statusSource  StatusSource
	outputSource  OutputSource
	summarySource SummarySource

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Command     string // display form of the OpenVPN command line
	MetricsAddr string
	Status      StatusSource
	Output      OutputSource
	Summary     SummarySource
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		command:       cfg.Command,
		metricsAddr:   cfg.MetricsAddr,
		statusSource:  cfg.Status,
		outputSource:  cfg.Output,
		summarySource: cfg.Summary,
		startTime:     time.Now(),
		lastUpdate:    time.Now(),
		width:         80,
		height:        24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "l":
			m.showLog = !m.showLog
			return m, nil
		case "r":
			return m.refresh(), nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		return m.refresh(), tickCmd()

	case StatusMsg:
		m.status = msg.Status
		m.connected = msg.Connected
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest state from every configured source.
func (m Model) refresh() Model {
	if m.statusSource != nil {
		m.status = m.statusSource.Status()
	}
	if m.summarySource != nil {
		m.summary = m.summarySource.GenerateSummary()
		m.connected = m.summarySource.Connected()
	}
	if m.outputSource != nil {
		m.lines = m.outputSource.RecentLines(m.tailLength())
		m.errors = m.outputSource.CountErrors()
	}
	m.lastUpdate = time.Now()
	return m
}

// tailLength is how many output lines the current view can show.
func (m Model) tailLength() int {
	if !m.showLog {
		return summaryLines
	}
	// header, box borders, section header, footer
	if n := m.height - 8; n > summaryLines {
		return n
	}
	return summaryLines
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.showLog {
		return m.renderLogView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the launcher started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Status returns the last supervisor snapshot.
func (m Model) Status() supervisor.Status {
	return m.status
}

// Connected reports whether the tunnel was up at the last refresh.
func (m Model) Connected() bool {
	return m.connected
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStatus sends a status update to the TUI.
func SendStatus(p *tea.Program, status supervisor.Status, connected bool) {
	if p != nil {
		p.Send(StatusMsg{Status: status, Connected: connected})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumberWithCommas formats a number with thousand separators.
func formatNumberWithCommas(n int64) string {
	if n < 0 {
		return "0"
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// truncate shortens s to width runes, marking the cut with "…".
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}
