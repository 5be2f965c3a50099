// Package logging builds the charmbracelet logger shared by every codedrop
// process. Loggers are passed down explicitly; there is no package-level
// instance.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New returns a logger writing to w at the given level. Unknown levels fall
// back to info and unknown formats to text.
func New(w io.Writer, level, format string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "codedrop",
		Level:           ParseLevel(level),
	}
	if strings.EqualFold(format, FormatJSON) {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(w, opts)
}

// ParseLevel maps a config string to a log level.
func ParseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
