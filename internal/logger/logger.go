// Package logger builds zerolog loggers for the go-dem binaries and adapts
// them to the logging interfaces of third-party libraries.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	Component string
}

type ctxKey string

const ctxRequestIDKey ctxKey = "request_id"

// Build returns a new logger writing to out, or to os.Stderr if out is nil.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger()
}

// WithRequestID returns a context carrying requestID, generating one if
// requestID is empty.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// RequestID returns the request id in ctx, if any.
func RequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(ctxRequestIDKey).(string)
	return requestID
}

// FromContext returns a child of parent carrying the request id in ctx,
// creating a new request id if ctx has none.
func FromContext(ctx context.Context, parent zerolog.Logger) (context.Context, zerolog.Logger) {
	requestID := RequestID(ctx)
	if requestID == "" {
		ctx = WithRequestID(ctx, "")
		requestID = RequestID(ctx)
	}
	return ctx, parent.With().Str("request_id", requestID).Logger()
}
