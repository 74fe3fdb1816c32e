package remediation

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/classifier"
)

// Strategy names shared with the fixer.
const (
	StrategyLint             = "lint"
	StrategyKnownDefect      = "known-defect"
	StrategyImportRepair     = "import-repair"
	StrategyErrorHandling    = "error-handling"
	StrategyExportValidation = "export-validation"
)

// Strategies lists every strategy in application order.
func Strategies() []string {
	return []string{
		StrategyLint,
		StrategyKnownDefect,
		StrategyImportRepair,
		StrategyErrorHandling,
		StrategyExportValidation,
	}
}

// MaxSuggestions is how many patterns a guide attaches per failure.
const MaxSuggestions = 3

var (
	// ErrPatternNotFound is returned when a pattern lookup misses.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrGuideNotFound is returned when no guide exists for a chain or iteration.
	ErrGuideNotFound = errors.New("guide not found")

	// ErrGuideOutOfOrder is returned when a guide's iteration does not
	// strictly increase within its chain.
	ErrGuideOutOfOrder = errors.New("guide iteration must strictly increase")

	// ErrChainBusy is returned when another controller holds the chain lease.
	ErrChainBusy = errors.New("chain is held by another controller")
)

// Pattern maps a failure to a fix strategy.
type Pattern struct {
	ID string `json:"id"`
	// Signature is the exact failure signature this pattern was learned
	// from. Empty for predicate-only patterns.
	Signature string `json:"signature,omitempty"`
	// MatchPredicate is a case-insensitive substring matched against the
	// error message and test name. Empty for exact-signature patterns.
	MatchPredicate string    `json:"match_predicate,omitempty"`
	Strategy       string    `json:"strategy"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	LastAppliedAt  time.Time `json:"last_applied_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Score ranks patterns; higher is better.
func (p Pattern) Score() int {
	return p.SuccessCount - p.FailureCount
}

// Suggestion holds the patterns proposed for Failures[FailureIndex].
type Suggestion struct {
	FailureIndex int       `json:"failure_index"`
	Signature    string    `json:"signature"`
	Exact        bool      `json:"exact"`
	Patterns     []Pattern `json:"patterns"`
}

// Guide is the immutable record of one iteration of a recovery chain.
type Guide struct {
	ChainID           string                     `json:"chain_id"`
	Iteration         int                        `json:"iteration"`
	Failures          []classifier.FailureRecord `json:"failures"`
	SuggestedPatterns []Suggestion               `json:"suggested_patterns"`
	GeneratedAt       time.Time                  `json:"generated_at"`
}

// PatternIDs returns the distinct suggested pattern IDs in first-seen order.
func (g *Guide) PatternIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range g.SuggestedPatterns {
		for _, p := range s.Patterns {
			if !seen[p.ID] {
				seen[p.ID] = true
				ids = append(ids, p.ID)
			}
		}
	}
	return ids
}

// Strategies returns the distinct suggested strategies in first-seen order.
func (g *Guide) Strategies() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range g.SuggestedPatterns {
		for _, p := range s.Patterns {
			if !seen[p.Strategy] {
				seen[p.Strategy] = true
				out = append(out, p.Strategy)
			}
		}
	}
	return out
}

// Summary is a one-line description of the guide's failures.
func (g *Guide) Summary() string {
	return SummarizeFailures(g.Failures)
}

// EventKind classifies pattern_events rows.
type EventKind string

// Event kinds.
const (
	EventCreated EventKind = "created"
	EventApplied EventKind = "applied"
	EventSuccess EventKind = "success"
	EventFailure EventKind = "failure"
)

// PatternEvent is one row of the append-only pattern log.
type PatternEvent struct {
	ID        int64     `json:"id"`
	PatternID string    `json:"pattern_id"`
	Signature string    `json:"signature,omitempty"`
	ChainID   string    `json:"chain_id,omitempty"`
	Iteration int       `json:"iteration"`
	Kind      EventKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// ChainSummary describes a chain that has at least one guide.
type ChainSummary struct {
	ChainID       string    `json:"chain_id"`
	Guides        int       `json:"guides"`
	LastIteration int       `json:"last_iteration"`
	LastGenerated time.Time `json:"last_generated"`
}
