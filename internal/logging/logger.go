package logging

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger whose methods take a context and prepend its
// correlation fields: trace, chain, iteration and run.
type Logger struct {
	zap *zap.Logger
	// ctx reports the caller of the context methods.
	ctx *zap.Logger
}

func newWrapped(z *zap.Logger) *Logger {
	return &Logger{zap: z, ctx: z.WithOptions(zap.AddCallerSkip(2))}
}

// NewLogger builds the configured pipeline. provider is required only
// when cfg.Output.OTEL is set.
func NewLogger(cfg *Config, provider log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	core, err := newCore(cfg, provider)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller())
	}
	z := zap.New(core, opts...)
	for k, v := range cfg.Fields {
		z = z.With(zap.String(k, v))
	}
	return newWrapped(z), nil
}

// NewNop discards everything.
func NewNop() *Logger {
	return newWrapped(zap.NewNop())
}

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNop()
	}
	return newWrapped(z)
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	if ce := l.ctx.Check(level, msg); ce != nil {
		ce.Write(append(ContextFields(ctx), fields...)...)
	}
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// With returns a child carrying fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return newWrapped(l.zap.With(fields...))
}

// Named returns a child with name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return newWrapped(l.zap.Named(name))
}

// Enabled reports whether level would be written.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Underlying returns the zap logger for packages that take one directly.
// Its calls carry no context fields.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// Sync flushes buffered entries. EINVAL and ENOTTY from syncing a
// terminal or pipe are not errors.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
