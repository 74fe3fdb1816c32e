package logging

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/cirecover/internal/config"
)

// TraceLevel sits below Debug for per-poll and per-line detail.
const TraceLevel = zapcore.Level(-2)

// ParseLevel accepts the zap level names plus "trace". Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Config describes the zap pipeline.
type Config struct {
	Level     zapcore.Level
	Format    string // json or console
	Output    OutputConfig
	Sampling  SamplingConfig
	Caller    bool
	Fields    map[string]string
	Redaction RedactionConfig
}

// OutputConfig selects the sinks.
type OutputConfig struct {
	// Stderr moves console output off stdout, which the MCP stdio server
	// reserves for the protocol.
	Stderr bool
	// OTEL mirrors records to the OpenTelemetry log provider.
	OTEL bool
}

// SamplingConfig limits identical messages per Tick. Levels without an
// entry, and Error and above, are never sampled.
type SamplingConfig struct {
	Enabled bool
	Tick    config.Duration
	Levels  map[zapcore.Level]LevelSampling
}

// LevelSampling keeps the first Initial entries of a message per tick,
// then every Thereafter-th. Thereafter 0 drops the rest.
type LevelSampling struct {
	Initial    int
	Thereafter int
}

// RedactionConfig masks string fields by key or by value pattern on the
// console sink.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

const maxPatternLen = 200

// NewDefaultConfig is JSON at info with sampling and redaction on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels: map[zapcore.Level]LevelSampling{
				TraceLevel:         {Initial: 1},
				zapcore.DebugLevel: {Initial: 10},
				zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
				zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
			},
		},
		Caller: true,
		Fields: map[string]string{"service": "cirecover"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`gh[pousr]_[A-Za-z0-9]{20,}`,
				`github_pat_[A-Za-z0-9_]{22,}`,
				`xox[baprs]-[A-Za-z0-9-]+`,
			},
		},
	}
}

// Validate checks the config before NewLogger builds it.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			return fmt.Errorf("sampling tick must be positive")
		}
		for level, s := range c.Sampling.Levels {
			if level >= zapcore.ErrorLevel {
				return fmt.Errorf("level %s cannot be sampled", level)
			}
			if s.Initial < 1 || s.Thereafter < 0 {
				return fmt.Errorf("sampling for %s needs initial >= 1 and thereafter >= 0", level)
			}
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				return fmt.Errorf("redaction pattern longer than %d characters: %.40q", maxPatternLen, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q needs a key and a value", k)
		}
	}
	return nil
}
