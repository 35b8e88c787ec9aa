// Package logging provides the structured logger used across the credential
// core. It is a thin wrapper around log/slog so that callers do not depend on
// a concrete handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKey defines the key used to log errors.
const ErrorKey = "error"

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	name    string
	handler slog.Handler
}

// Options represents the configuration options for the logger.
type Options struct {
	Format string `json:"format"`
	Output io.Writer
}

// New initializes the logger with the given options.
func New(name string, opts Options) (*Logger, error) {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	hopts := &slog.HandlerOptions{Level: slog.LevelDebug}
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(output, hopts)
	case "json":
		handler = slog.NewJSONHandler(output, hopts)
	default:
		return nil, errors.Errorf("unsupported logger.format '%s'", opts.Format)
	}

	return &Logger{
		Logger:  slog.New(handler).With("name", name),
		name:    name,
		handler: handler,
	}, nil
}

// Nop returns a logger that discards everything written to it.
func Nop() *Logger {
	return &Logger{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		name:    "nop",
		handler: slog.NewTextHandler(io.Discard, nil),
	}
}

// GetImpl returns the real implementation of the logger.
func (l *Logger) GetImpl() *slog.Logger {
	return l.Logger
}

// Name returns the name the logger was initialized with.
func (l *Logger) Name() string {
	return l.name
}
