package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept for the exit summary.
	MaxBufferedLines = 100

	// maxScanLength bounds a single read; longer lines are truncated, not fatal.
	maxScanLength = 64 * 1024
)

// Event is a notable state transition reported in OpenVPN's log output.
type Event int

const (
	// EventNone marks an ordinary line.
	EventNone Event = iota

	// EventConnected is logged once the tunnel is fully up.
	EventConnected

	// EventAuthFailed means the server rejected the credentials.
	EventAuthFailed

	// EventRestart means OpenVPN is restarting the connection internally.
	EventRestart

	// EventError is any other fatal or connection-level error.
	EventError

	// EventWarning is a non-fatal warning.
	EventWarning
)

// String returns the label used in logs and metrics.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventConnected:
		return "connected"
	case EventAuthFailed:
		return "auth_failed"
	case EventRestart:
		return "restart"
	case EventError:
		return "error"
	case EventWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// EventFunc is called for every line that carries an Event.
type EventFunc func(event Event, line string)

// OutputHandler consumes the captured stdout/stderr of OpenVPN.
// It keeps recent lines for the exit summary, logs them, and reports
// connection events.
type OutputHandler struct {
	logger  *slog.Logger
	verbose bool
	onEvent EventFunc

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	counts map[string]int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler. onEvent may be nil.
func NewOutputHandler(logger *slog.Logger, verbose bool, onEvent EventFunc) *OutputHandler {
	return &OutputHandler{
		logger:  logger,
		verbose: verbose,
		onEvent: onEvent,
		buffer:  make([]string, MaxBufferedLines),
		counts:  make(map[string]int),
	}
}

// HandleReader reads lines from r until EOF and processes each of them.
// stream names the source ("stdout" or "stderr") in log records.
// This should be run in a goroutine.
func (h *OutputHandler) HandleReader(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, MaxLineLength), maxScanLength)

	for scanner.Scan() {
		h.HandleLine(stream, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		h.logger.Debug("openvpn_output_read_error", "stream", stream, "error", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// HandleLine processes a single line of output.
func (h *OutputHandler) HandleLine(stream, line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	level, event := Classify(line)

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	for _, pattern := range ErrorPatterns {
		if strings.Contains(line, pattern) {
			h.counts[pattern]++
		}
	}
	h.mu.Unlock()

	// In non-verbose mode, only log noteworthy lines
	if h.verbose || level > slog.LevelDebug {
		h.logger.Log(context.Background(), level, "openvpn_output",
			"stream", stream,
			"line", line,
		)
	}

	if event != EventNone && h.onEvent != nil {
		h.onEvent(event, line)
	}
}

// Classify determines the log level and event for a line of OpenVPN output.
func Classify(line string) (slog.Level, Event) {
	switch {
	case strings.Contains(line, "Initialization Sequence Completed"):
		return slog.LevelInfo, EventConnected

	case strings.Contains(line, "AUTH_FAILED"):
		return slog.LevelError, EventAuthFailed

	case strings.Contains(line, "SIGUSR1[") ||
		strings.Contains(line, "SIGHUP[") ||
		strings.Contains(line, "Restart pause"):
		return slog.LevelWarn, EventRestart

	case strings.Contains(line, "Exiting due to fatal error") ||
		strings.Contains(line, "Options error") ||
		strings.Contains(line, "ERROR:") ||
		strings.Contains(line, "TLS Error") ||
		strings.Contains(line, "Connection refused") ||
		strings.Contains(line, "RESOLVE: Cannot resolve") ||
		strings.Contains(line, "Cannot open TUN/TAP"):
		return slog.LevelError, EventError

	case strings.Contains(line, "WARNING"):
		return slog.LevelWarn, EventWarning

	case strings.Contains(line, "Peer Connection Initiated") ||
		strings.HasPrefix(strings.TrimSpace(line), "OpenVPN "):
		return slog.LevelInfo, EventNone
	}

	return slog.LevelDebug, EventNone
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n <= 0 {
		return nil
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// ErrorPatterns are counted across every line seen, for the exit summary.
var ErrorPatterns = []string{
	"AUTH_FAILED",
	"TLS Error",
	"TLS handshake failed",
	"Connection refused",
	"Connection reset",
	"RESOLVE: Cannot resolve",
	"Inactivity timeout",
	"Cannot open TUN/TAP",
}

// CountErrors returns how often each error pattern has been seen.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int, len(h.counts))
	for k, v := range h.counts {
		counts[k] = v
	}
	return counts
}
