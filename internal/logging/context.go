package logging

import (
	"context"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	chainKey     struct{}
	iterationKey struct{}
	runKey       struct{}
)

const maxChainIDLen = 128

// WithChainID tags ctx with the recovery chain. Chain IDs come from
// workflow inputs, so control characters are dropped and the ID is capped
// at 128 bytes. An ID that is empty after cleaning leaves ctx unchanged.
func WithChainID(ctx context.Context, chainID string) context.Context {
	chainID = cleanID(chainID)
	if chainID == "" {
		return ctx
	}
	return context.WithValue(ctx, chainKey{}, chainID)
}

func cleanID(id string) string {
	id = strings.Map(func(r rune) rune {
		if r == unicode.ReplacementChar || unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(id, ""))
	id = strings.TrimSpace(id)
	if len(id) > maxChainIDLen {
		id = strings.ToValidUTF8(id[:maxChainIDLen], "")
	}
	return id
}

// ChainID returns the chain tag, or "".
func ChainID(ctx context.Context) string {
	id, _ := ctx.Value(chainKey{}).(string)
	return id
}

// WithIteration tags ctx with the chain's fix iteration.
func WithIteration(ctx context.Context, iteration int) context.Context {
	return context.WithValue(ctx, iterationKey{}, iteration)
}

// Iteration returns the iteration tag.
func Iteration(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(iterationKey{}).(int)
	return n, ok
}

// WithRunID tags ctx with the CI run under observation. Zero is ignored.
func WithRunID(ctx context.Context, runID int64) context.Context {
	if runID == 0 {
		return ctx
	}
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID returns the run tag, or 0.
func RunID(ctx context.Context) int64 {
	id, _ := ctx.Value(runKey{}).(int64)
	return id
}

// ContextFields returns the correlation fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
	}
	if id := ChainID(ctx); id != "" {
		fields = append(fields, zap.String("chain.id", id))
	}
	if n, ok := Iteration(ctx); ok {
		fields = append(fields, zap.Int("chain.iteration", n))
	}
	if id := RunID(ctx); id != 0 {
		fields = append(fields, zap.Int64("run.id", id))
	}
	return fields
}
