package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger scoped to a run, a profile or a unit.
type Logger struct {
	zlog zerolog.Logger
}

type loggerContextKey struct{}

// NewLogger creates a logger from cfg. A level left empty means info.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	out, err := logOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if level, err = zerolog.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat(cfg.TimeFormat)}
	} else {
		zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)
	}

	zctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	zlog := zctx.Logger()

	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}

	return &Logger{zlog: zlog}, nil
}

func logOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	case "discard":
		return io.Discard, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	default:
		return time.RFC3339
	}
}

func consoleTimeFormat(format string) string {
	if format == "rfc3339" {
		return time.RFC3339
	}
	return time.StampMilli
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a child logger tagged with component.
func (l *Logger) Component(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithRunID adds the run ID.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("run_id", runID) })
}

// WithProfile adds the profile name.
func (l *Logger) WithProfile(profile string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("profile", profile) })
}

// WithUnit adds the unit name and its plan position.
func (l *Logger) WithUnit(unit string, position int) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context {
		return c.Str("unit", unit).Int("position", position)
	})
}

func (l *Logger) with(fields func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fields(l.zlog.With()).Logger()}
}

// WithContext attaches the logger to ctx. The zerolog logger is attached
// too, so builders can log through zerolog.Ctx without importing this package.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, loggerContextKey{}, l)
	return l.zlog.WithContext(ctx)
}

// FromContext returns the logger attached to ctx, or a stderr logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}
