// Package logging provides a minimal logging interface and adapters for
// querymesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) taking slog-style key/value pairs. The runtime, collector and
// orchestrator accept a Logger and default to NoOpLogger. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping *slog.Logger
//   - RunLogger, a structured logger with run / component scoping and
//     domain helpers for deliveries, pipeline stages and model calls
//   - RecordDelivery, RecordStage and RecordModelCall, which use those
//     helpers when given a RunLogger and plain lines otherwise
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	rt := runtime.New(func(o *runtime.Options) { o.Logger = logger })
package logging
