package logging

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/cirecover/internal/config"
	"github.com/fyrsmithlabs/cirecover/internal/telemetry"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	_ = logger.Sync()
}

func TestNewLogger_OTELNeedsProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = true
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger provider")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logging config")
}

func TestNewLogger_MirrorsToOTEL(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = true
	cfg.Output.Stderr = true
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, tt.LoggerProvider())
	require.NoError(t, err)

	ctx := WithIteration(WithChainID(context.Background(), "gh-991-1"), 2)
	logger.Info(ctx, "fix pushed", zap.String("commit", "9f2c1e0"))
	logger.Debug(ctx, "below the configured level")

	assert.Equal(t, []string{"fix pushed"}, tt.Logs().Bodies())
	id, ok := tt.Logs().Attribute("fix pushed", "chain.id")
	require.True(t, ok)
	assert.Equal(t, "gh-991-1", id)
	commit, ok := tt.Logs().Attribute("fix pushed", "commit")
	require.True(t, ok)
	assert.Equal(t, "9f2c1e0", commit)
}

func TestLogger_LevelsCarryContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(WithChainID(context.Background(), "c-1"), 42)

	tl.Trace(ctx, "trace entry")
	tl.Debug(ctx, "debug entry")
	tl.Info(ctx, "info entry")
	tl.Warn(ctx, "warn entry")
	tl.Error(ctx, "error entry", zap.Int("attempt", 3))

	entries := tl.Entries()
	require.Len(t, entries, 5)
	levels := []zapcore.Level{TraceLevel, zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		assert.Equal(t, levels[i], e.Level)
		assert.Equal(t, "c-1", e.ContextMap()["chain.id"])
		assert.Equal(t, int64(42), e.ContextMap()["run.id"])
	}
	tl.AssertField(t, "error entry", "attempt", int64(3))
}

func TestLogger_ChildrenKeepContextMethods(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("controller").With(zap.String("repository", "octo/app"))

	child.Info(WithChainID(context.Background(), "c-2"), "chain started")

	entries := tl.Messages("chain started")
	require.Len(t, entries, 1)
	assert.Equal(t, "controller", entries[0].LoggerName)
	assert.Equal(t, "octo/app", entries[0].ContextMap()["repository"])
	assert.Equal(t, "c-2", entries[0].ContextMap()["chain.id"])
}

func TestLogger_CallerIsTheCallSite(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := Wrap(zap.New(core, zap.AddCaller()))

	logger.Info(context.Background(), "through the wrapper")
	logger.Underlying().Info("direct")

	entries := observed.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "logger_test.go", filepath.Base(e.Caller.File), e.Message)
	}
}

func TestWrap_NilIsNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Wrap(nil).Info(context.Background(), "dropped")
		NewNop().Error(context.Background(), "dropped")
	})
}

func TestSample(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	sampled := sample(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSampling{
			TraceLevel:        {Initial: 1},
			zapcore.InfoLevel: {Initial: 5},
		},
	})
	logger := Wrap(zap.New(sampled))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		logger.Trace(ctx, "poll")
		logger.Debug(ctx, "job log line")
		logger.Info(ctx, "still pending")
		logger.Warn(ctx, "retrying")
		logger.Error(ctx, "fetch failed")
	}

	count := func(msg string) int { return observed.FilterMessage(msg).Len() }
	assert.Equal(t, 1, count("poll"))
	assert.Equal(t, 20, count("job log line"), "unconfigured levels pass through")
	assert.Equal(t, 5, count("still pending"))
	assert.Equal(t, 20, count("retrying"))
	assert.Equal(t, 20, count("fetch failed"), "errors are never sampled")
}

func TestLevelRange_WithKeepsBounds(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	filtered := (&levelRange{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}).
		With([]zapcore.Field{zap.String("component", "monitor")})
	logger := Wrap(zap.New(filtered))

	logger.Warn(context.Background(), "dropped")
	logger.Error(context.Background(), "kept")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "monitor", entries[0].ContextMap()["component"])
}
