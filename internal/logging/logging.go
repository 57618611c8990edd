// Package logging configures the zerolog logger shared across the harness.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options describes logger configuration supplied at startup.
type Options struct {
	// Level is one of zerolog's named levels ("debug", "info", ...).
	// Empty means info.
	Level string
	// Console enables human-readable console output instead of JSON.
	Console bool
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// New builds the root logger for a process.
func New(opts Options) (zerolog.Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), err
		}
		level = parsed
	}

	var output io.Writer = writer
	if opts.Console {
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = time.RFC3339
		output = console
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}
