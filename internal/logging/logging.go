// Package logging builds the process logger shared by the CLI, the engine and
// the HTTP server.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const appName = "obra"

// New returns a logger writing to w. format is "text", "json" or "logfmt".
func New(w io.Writer, level, format string) (*log.Logger, error) {
	if w == nil {
		w = io.Discard
	}
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", level, err)
	}
	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
