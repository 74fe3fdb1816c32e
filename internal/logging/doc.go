// Package logging wraps zap with context-aware methods for cirecover.
//
// The controller tags its context once per step and every entry below it
// carries the correlation:
//
//	ctx = logging.WithChainID(ctx, "gh-991-1")
//	ctx = logging.WithIteration(ctx, 2)
//	ctx = logging.WithRunID(ctx, run.ID)
//	logger.Info(ctx, "fix pushed", zap.String("commit", sha))
//
//	{"level":"info","msg":"fix pushed","chain.id":"gh-991-1",
//	 "chain.iteration":2,"run.id":7311,"commit":"9f2c1e0","trace_id":"..."}
//
// Entries go to stdout (stderr under the MCP server) and, when telemetry
// is on, to the OpenTelemetry log provider through the otelzap bridge.
// Console output masks credential-named fields and token-shaped values,
// including inside messages and error strings. Identical messages are
// sampled per level; Error and above never are.
//
// TestLogger records entries in memory for assertions.
package logging
