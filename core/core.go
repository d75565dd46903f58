package core

import "github.com/hupe1980/querymesh/logging"

// loggerAdapter wraps a logging.Logger and prefixes every entry with a fixed
// set of key/value attributes (agent, message id). It guarantees a non-nil
// logger by substituting a NoOpLogger when constructed with nil.
type loggerAdapter struct {
	logger logging.Logger
	attrs  []any
}

func newLoggerAdapter(l logging.Logger, attrs ...any) *loggerAdapter {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &loggerAdapter{logger: l, attrs: attrs}
}

// Logger returns the underlying logger without the bound attributes.
func (l *loggerAdapter) Logger() logging.Logger {
	return l.logger
}

func (l *loggerAdapter) with(args []any) []any {
	if len(l.attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

// LogDebug logs a debug message.
func (l *loggerAdapter) LogDebug(msg string, args ...any) { l.logger.Debug(msg, l.with(args)...) }

// LogInfo logs an info message.
func (l *loggerAdapter) LogInfo(msg string, args ...any) { l.logger.Info(msg, l.with(args)...) }

// LogWarn logs a warning message.
func (l *loggerAdapter) LogWarn(msg string, args ...any) { l.logger.Warn(msg, l.with(args)...) }

// LogError logs an error message.
func (l *loggerAdapter) LogError(msg string, args ...any) { l.logger.Error(msg, l.with(args)...) }
