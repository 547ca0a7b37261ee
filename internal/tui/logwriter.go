package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// LogWriter is an io.Writer that sends each written line as a DebugLogMsg
// to a Bubble Tea program. Use it as the console output of the logger.
type LogWriter struct {
	program *tea.Program
}

// NewLogWriter creates a LogWriter that sends log lines to the given program.
func NewLogWriter(p *tea.Program) *LogWriter {
	return &LogWriter{program: p}
}

// Write implements io.Writer. Each call parses the log line into structured
// fields and sends a DebugLogMsg. The send is done in a goroutine to avoid
// deadlocking when called from inside a Bubble Tea command function.
func (w *LogWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		entry := parseLine(line)
		go w.program.Send(DebugLogMsg{Entry: entry})
	}
	return len(b), nil
}

// parseLine extracts time, category, and message from a console log line.
// Expected format: "HH:MM:SS.mmm LVL message key=value ..."
// Category is the component= field when present, else the level.
func parseLine(line string) DebugEntry {
	entry := DebugEntry{Category: "log", Message: line}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 || len(parts[0]) < 8 || parts[0][2] != ':' || parts[0][5] != ':' {
		return entry
	}
	entry.Time = parts[0]
	entry.Category = strings.ToLower(parts[1])
	entry.Message = parts[2]

	var kept []string
	for _, field := range strings.Fields(parts[2]) {
		if c, ok := strings.CutPrefix(field, "component="); ok {
			entry.Category = c
			continue
		}
		kept = append(kept, field)
	}
	if len(kept) > 0 {
		entry.Message = strings.Join(kept, " ")
	}
	return entry
}
