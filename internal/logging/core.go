package logging

import (
	"errors"
	"os"
	"sort"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const scopeName = "github.com/fyrsmithlabs/cirecover"

// newCore tees the console sink with the OTEL bridge, then samples.
func newCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, err
	}
	sink := zapcore.Lock(os.Stdout)
	if cfg.Output.Stderr {
		sink = zapcore.Lock(os.Stderr)
	}
	cores := []zapcore.Core{zapcore.NewCore(encoder, sink, cfg.Level)}

	if cfg.Output.OTEL {
		if provider == nil {
			return nil, errors.New("otel output needs a logger provider")
		}
		bridge := otelzap.NewCore(scopeName, otelzap.WithLoggerProvider(provider))
		// The bridge has no level of its own.
		cores = append(cores, &levelRange{Core: bridge, min: cfg.Level, max: zapcore.FatalLevel})
	}

	core := zapcore.NewTee(cores...)
	if cfg.Sampling.Enabled {
		core = sample(core, cfg.Sampling)
	}
	return core, nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// sample gives every configured level its own sampler. Unconfigured
// levels pass through untouched.
func sample(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	levels := make([]zapcore.Level, 0, len(cfg.Levels))
	for l := range cfg.Levels {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	var (
		cores []zapcore.Core
		next  = zapcore.DebugLevel - 10
	)
	for _, l := range levels {
		if next < l {
			cores = append(cores, &levelRange{Core: core, min: next, max: l - 1})
		}
		s := cfg.Levels[l]
		cores = append(cores, zapcore.NewSamplerWithOptions(
			&levelRange{Core: core, min: l, max: l},
			cfg.Tick.Duration(), s.Initial, s.Thereafter))
		next = l + 1
	}
	cores = append(cores, &levelRange{Core: core, min: next, max: zapcore.FatalLevel})
	return zapcore.NewTee(cores...)
}

// levelRange passes only entries with min <= level <= max.
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c *levelRange) Enabled(l zapcore.Level) bool {
	return l >= c.min && l <= c.max && c.Core.Enabled(l)
}

func (c *levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelRange) With(fields []zapcore.Field) zapcore.Core {
	return &levelRange{Core: c.Core.With(fields), min: c.min, max: c.max}
}
