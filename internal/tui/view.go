package tui

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderSession(),
		m.renderLifecycle(),
	}

	// Errors section (only if there are errors)
	if m.hasErrors() {
		sections = append(sections, m.renderErrors())
	}

	sections = append(sections, m.renderOutput(summaryLines))
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderLogView renders the output tail using the whole screen.
func (m Model) renderLogView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderOutput(m.tailLength()),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	label := GetConnectionLabel(GetConnectionStatus(m.status.State, m.connected))

	header := fmt.Sprintf(
		" go-openvpn-launcher │ %s │ Restarts: %d │ Elapsed: %s ",
		label,
		m.status.Restarts,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Session
// =============================================================================

func (m Model) renderSession() string {
	st := m.status

	session := "-"
	if st.SessionID != "" {
		session = st.SessionID
	}
	pid := "-"
	if st.Pid > 0 {
		pid = strconv.Itoa(st.Pid)
	}

	command := st.Command
	if command == "" {
		command = m.command
	}

	rows := []string{
		sectionHeaderStyle.Render("Session"),
		RenderKeyValue("State", st.State.String()),
		RenderKeyValue("Session", session),
		RenderKeyValue("PID", pid),
		RenderKeyValue("Uptime", formatDuration(st.Uptime())),
		RenderKeyValue("Command", truncate(command, m.innerWidth()-16)),
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Lifecycle
// =============================================================================

func (m Model) renderLifecycle() string {
	rows := []string{sectionHeaderStyle.Render("Lifecycle")}

	if m.summary != nil {
		s := m.summary
		rows = append(rows,
			RenderKeyValue("Starts", formatNumberWithCommas(s.TotalStarts)),
			RenderKeyValue("Restarts", formatNumberWithCommas(s.TotalRestarts)),
			RenderKeyValue("Spawn failures", formatNumberWithCommas(s.SpawnFailures)),
		)
		if s.UptimeP50 > 0 || s.UptimeP95 > 0 {
			rows = append(rows,
				RenderKeyValue("Uptime P50", formatDuration(s.UptimeP50)),
				RenderKeyValue("Uptime P95", formatDuration(s.UptimeP95)),
			)
		}
	} else {
		rows = append(rows, RenderKeyValue("Restarts", strconv.Itoa(m.status.Restarts)))
	}

	if m.status.Restarts > 0 || (m.summary != nil && len(m.summary.ExitCodes) > 0) {
		code := m.status.LastExitCode
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Last exit:"),
			GetExitCodeStyle(code).Render(strconv.Itoa(code)),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Errors
// =============================================================================

func (m Model) hasErrors() bool {
	for _, n := range m.errors {
		if n > 0 {
			return true
		}
	}
	return false
}

func (m Model) renderErrors() string {
	patterns := make([]string, 0, len(m.errors))
	for p, n := range m.errors {
		if n > 0 {
			patterns = append(patterns, p)
		}
	}
	sort.Strings(patterns)

	rows := []string{sectionHeaderStyle.Render("Errors")}
	for _, p := range patterns {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			valueBadStyle.Render(fmt.Sprintf("%6d ", m.errors[p])),
			baseStyle.Render(p),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Output
// =============================================================================

func (m Model) renderOutput(n int) string {
	rows := []string{sectionHeaderStyle.Render("OpenVPN Output")}

	lines := m.lines
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 0 {
		rows = append(rows, dimStyle.Render("(no output yet)"))
	}
	width := m.innerWidth()
	for _, line := range lines {
		rows = append(rows, GetLineStyle(line).Render(truncate(line, width)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	help := "q: quit │ l: toggle log │ r: refresh"
	if m.metricsAddr != "" {
		help += " │ metrics: http://" + m.metricsAddr + "/metrics"
	}
	return footerStyle.Render(help)
}

// innerWidth is the usable text width inside a box.
func (m Model) innerWidth() int {
	// border + padding on both sides
	if w := m.width - 6; w > 10 {
		return w
	}
	return 10
}
