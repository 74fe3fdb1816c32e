package remediation

import (
	"context"
	"time"
)

// Store persists patterns, the pattern event log, guides and chain leases.
type Store interface {
	CreatePattern(ctx context.Context, p *Pattern) error
	GetPattern(ctx context.Context, id string) (*Pattern, error)
	// FindPattern returns the exact-signature pattern for strategy.
	FindPattern(ctx context.Context, signature, strategy string) (*Pattern, error)
	PatternsBySignature(ctx context.Context, signature string) ([]Pattern, error)
	// PredicatePatterns returns every pattern with a non-empty predicate.
	PredicatePatterns(ctx context.Context) ([]Pattern, error)
	ListPatterns(ctx context.Context) ([]Pattern, error)
	MarkApplied(ctx context.Context, chainID string, iteration int, ids []string, at time.Time) error
	// RecordOutcome returns the IDs whose counters actually changed.
	RecordOutcome(ctx context.Context, chainID string, ids []string, succeeded bool, at time.Time) ([]string, error)
	PatternEvents(ctx context.Context, patternID string) ([]PatternEvent, error)

	InsertGuide(ctx context.Context, g *Guide) error
	GetGuide(ctx context.Context, chainID string, iteration int) (*Guide, error)
	LatestGuide(ctx context.Context, chainID string) (*Guide, error)
	ListGuides(ctx context.Context, chainID string) ([]Guide, error)
	ListChains(ctx context.Context) ([]ChainSummary, error)

	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) error
	ReleaseLease(ctx context.Context, key, owner string) error

	Close() error
}
