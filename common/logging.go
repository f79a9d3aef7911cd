package common

import (
	"log/slog"
	"os"
)

// PackageName identifies this service in logs and metrics.
const PackageName = "artifactstore"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts controls logger construction in SetupLogger.
type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON switches output to JSON format (text otherwise).
	JSON bool

	// Service is added as a "service" attribute to all log records.
	Service string

	// Version is added as a "version" attribute to all log records.
	Version string
}

// SetupLogger creates a structured logger writing to stderr and installs
// it as the slog default.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}

	slog.SetDefault(logger)
	return logger
}
