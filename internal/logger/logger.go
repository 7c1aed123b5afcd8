package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures the global zerolog logger on stdout and returns it.
func Setup(serviceName, level string, pretty bool) zerolog.Logger {
	return SetupWriter(os.Stdout, serviceName, level, pretty)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, serviceName, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
	zlog.Logger = l
	zerolog.DefaultContextLogger = &zlog.Logger
	return l
}

// WithTrace returns ctx carrying a child logger annotated with the trace id of
// the active span, if there is one.
func WithTrace(ctx context.Context, fields map[string]string) context.Context {
	lc := zlog.Ctx(ctx).With()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		lc = lc.Str("trace_id", sc.TraceID().String())
	}
	for k, v := range fields {
		lc = lc.Str(k, v)
	}
	l := lc.Logger()
	return l.WithContext(ctx)
}
