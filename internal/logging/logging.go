package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// TimeFormat is the timestamp layout of console lines.
const TimeFormat = "15:04:05.000"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger writing human-readable lines to console and JSON
// lines to file. Either may be empty/nil. Level "none" disables logging.
// The returned Closer closes the log file.
func New(level, file string, console io.Writer) (zerolog.Logger, io.Closer, error) {
	if strings.EqualFold(level, "none") {
		return zerolog.Nop(), nopCloser{}, nil
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: TimeFormat,
			NoColor:    console != os.Stderr && console != os.Stdout,
		})
	}

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	multi := zerolog.MultiLevelWriter(writers...)
	return zerolog.New(multi).Level(lvl).With().Timestamp().Logger(), closer, nil
}

// ParseLevel maps a config level name to a zerolog level. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
