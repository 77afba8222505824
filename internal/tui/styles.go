// Package tui provides a live terminal dashboard for a supervised OpenVPN
// connection.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays the connection state, the current session, restart history
// and the tail of OpenVPN's output.
package tui

import (
	"log/slog"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/logging"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/supervisor"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	baseStyle = lipgloss.NewStyle().
			Foreground(colorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(16)
)

// =============================================================================
// Connection State Indicator
// =============================================================================

// ConnectionStatus is the state shown in the header.
type ConnectionStatus int

const (
	ConnectionStarting ConnectionStatus = iota
	ConnectionConnecting
	ConnectionUp
	ConnectionReconnecting
	ConnectionDisconnecting
	ConnectionStopped
)

// GetConnectionStatus combines the supervisor state with the tunnel state
// reported in OpenVPN's output.
func GetConnectionStatus(state supervisor.State, connected bool) ConnectionStatus {
	switch state {
	case supervisor.StateRunning:
		if connected {
			return ConnectionUp
		}
		return ConnectionConnecting
	case supervisor.StateBackoff:
		return ConnectionReconnecting
	case supervisor.StateStopping:
		return ConnectionDisconnecting
	case supervisor.StateStopped:
		return ConnectionStopped
	default:
		return ConnectionStarting
	}
}

// GetConnectionLabel returns a styled label for the connection status.
func GetConnectionLabel(status ConnectionStatus) string {
	switch status {
	case ConnectionUp:
		return statusOK.Render("● Connected")
	case ConnectionConnecting:
		return statusInfo.Render("● Connecting")
	case ConnectionReconnecting:
		return statusWarning.Render("● Reconnecting")
	case ConnectionDisconnecting:
		return statusWarning.Render("● Disconnecting")
	case ConnectionStopped:
		return statusError.Render("● Stopped")
	default:
		return mutedStyle.Render("● Starting")
	}
}

// =============================================================================
// Exit Code Indicator
// =============================================================================

// GetExitCodeStyle returns a style for a process exit code.
func GetExitCodeStyle(code int) lipgloss.Style {
	switch {
	case code == 0:
		return valueGoodStyle
	case code > 128:
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// GetLineStyle colours a line of OpenVPN output by its log level.
func GetLineStyle(line string) lipgloss.Style {
	level, _ := logging.Classify(line)
	switch {
	case level >= slog.LevelError:
		return statusError
	case level >= slog.LevelWarn:
		return statusWarning
	case level >= slog.LevelInfo:
		return baseStyle
	default:
		return dimStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}
