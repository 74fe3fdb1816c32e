package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry at Trace and above in memory.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a Logger whose output can be asserted on.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{Logger: Wrap(zap.New(core)), observed: observed}
}

// Entries returns everything logged so far, context fields included.
func (t *TestLogger) Entries() []observer.LoggedEntry {
	return t.observed.All()
}

// Messages returns the entries whose message contains msg.
func (t *TestLogger) Messages(msg string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, e := range t.observed.All() {
		if strings.Contains(e.Message, msg) {
			out = append(out, e)
		}
	}
	return out
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.Messages(msg) {
		if e.Level == level {
			return
		}
	}
	tb.Errorf("no %s entry containing %q; have %v", level, msg, t.messages())
}

// AssertNotLogged fails tb if any entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.Messages(msg) {
		if e.Level == level {
			tb.Errorf("unexpected %s entry %q", level, e.Message)
		}
	}
}

// AssertField fails tb unless some entry containing msg carries key=want.
// Integer fields compare as int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.Messages(msg) {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("no entry containing %q has %s=%v", msg, key, want)
}

func (t *TestLogger) messages() []string {
	var out []string
	for _, e := range t.observed.All() {
		out = append(out, e.Message)
	}
	return out
}
