package logger

import "github.com/rs/zerolog"

// A RetryableLogger adapts a zerolog.Logger to
// github.com/hashicorp/go-retryablehttp's LeveledLogger interface.
type RetryableLogger struct {
	zl zerolog.Logger
}

func NewRetryableLogger(zl zerolog.Logger) *RetryableLogger {
	return &RetryableLogger{zl: zl}
}

func (l *RetryableLogger) Error(msg string, keysAndValues ...any) {
	l.zl.Error().Fields(keysAndValues).Msg(msg)
}

func (l *RetryableLogger) Info(msg string, keysAndValues ...any) {
	l.zl.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *RetryableLogger) Debug(msg string, keysAndValues ...any) {
	l.zl.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *RetryableLogger) Warn(msg string, keysAndValues ...any) {
	l.zl.Warn().Fields(keysAndValues).Msg(msg)
}
