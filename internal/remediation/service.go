package remediation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/classifier"
	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"github.com/fyrsmithlabs/cirecover/internal/secrets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/cirecover/internal/remediation"

// Service generates guides and learns from chain outcomes.
type Service struct {
	store    Store
	scrubber *secrets.Scrubber
	clock    clock.Clock
	logger   *zap.Logger

	tracer        trace.Tracer
	guidesCounter metric.Int64Counter
	outcomes      metric.Int64Counter
}

// NewService wraps store. A nil scrubber disables scrubbing.
func NewService(store Store, scrubber *secrets.Scrubber, c clock.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scrubber == nil {
		scrubber = secrets.Disabled()
	}
	if c == nil {
		c = clock.New()
	}
	s := &Service{
		store:    store,
		scrubber: scrubber,
		clock:    c,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.guidesCounter, err = meter.Int64Counter(
		"cirecover.remediation.guides_total",
		metric.WithDescription("Recovery guides written"),
		metric.WithUnit("{guide}"),
	)
	if err != nil {
		logger.Warn("failed to create guides counter", zap.Error(err))
	}
	s.outcomes, err = meter.Int64Counter(
		"cirecover.remediation.outcomes_total",
		metric.WithDescription("Pattern outcomes recorded"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		logger.Warn("failed to create outcomes counter", zap.Error(err))
	}
	return s
}

// Store exposes the underlying store for read-only surfaces.
func (s *Service) Store() Store {
	return s.store
}

// GenerateGuide scrubs failures, attaches up to MaxSuggestions patterns to
// each, and appends the guide for (chainID, iteration).
func (s *Service) GenerateGuide(ctx context.Context, chainID string, iteration int, failures []classifier.FailureRecord) (*Guide, error) {
	ctx, span := s.tracer.Start(ctx, "remediation.generate_guide")
	defer span.End()
	span.SetAttributes(
		attribute.String("chain.id", chainID),
		attribute.Int("chain.iteration", iteration),
		attribute.Int("failures", len(failures)),
	)

	predicates, err := s.store.PredicatePatterns(ctx)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("loading predicate patterns: %w", err))
	}

	guide := &Guide{
		ChainID:           chainID,
		Iteration:         iteration,
		Failures:          make([]classifier.FailureRecord, 0, len(failures)),
		SuggestedPatterns: make([]Suggestion, 0, len(failures)),
		GeneratedAt:       s.clock.Now().UTC(),
	}

	for i, f := range failures {
		f.TestName = s.scrubber.String(f.TestName)
		f.ErrorMessage = s.scrubber.String(f.ErrorMessage)
		f.RawSignature = s.scrubber.String(f.RawSignature)
		guide.Failures = append(guide.Failures, f)

		sig := RecordSignature(f)
		exact, err := s.store.PatternsBySignature(ctx, sig)
		if err != nil {
			return nil, s.fail(span, fmt.Errorf("looking up signature: %w", err))
		}

		// Exact patterns that have only ever failed do not shadow the
		// substring heuristics.
		candidates := exact
		if !anyViable(exact) {
			candidates = append(candidates, matchPredicates(predicates, f)...)
		}
		sug := Suggestion{FailureIndex: i, Signature: sig, Patterns: Rank(candidates, MaxSuggestions)}
		sug.Exact = len(sug.Patterns) > 0 && sug.Patterns[0].Signature == sig
		guide.SuggestedPatterns = append(guide.SuggestedPatterns, sug)
	}

	if err := s.store.InsertGuide(ctx, guide); err != nil {
		return nil, s.fail(span, err)
	}
	if s.guidesCounter != nil {
		s.guidesCounter.Add(ctx, 1)
	}
	s.logger.Info("recovery guide written",
		zap.String("chain.id", chainID),
		zap.Int("chain.iteration", iteration),
		zap.Int("failures", len(guide.Failures)),
		zap.Int("patterns", len(guide.PatternIDs())))
	return guide, nil
}

func anyViable(patterns []Pattern) bool {
	for _, p := range patterns {
		if p.Score() >= 0 {
			return true
		}
	}
	return false
}

func matchPredicates(patterns []Pattern, f classifier.FailureRecord) []Pattern {
	msg := strings.ToLower(f.ErrorMessage)
	name := strings.ToLower(f.TestName)
	var out []Pattern
	for _, p := range patterns {
		pred := strings.ToLower(p.MatchPredicate)
		if pred == "" {
			continue
		}
		if strings.Contains(msg, pred) || strings.Contains(name, pred) {
			out = append(out, p)
		}
	}
	return out
}

// Rank orders patterns by Score descending, then most recently applied,
// then ID, and keeps at most limit.
func Rank(patterns []Pattern, limit int) []Pattern {
	out := make([]Pattern, len(patterns))
	copy(out, patterns)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score() != b.Score() {
			return a.Score() > b.Score()
		}
		if !a.LastAppliedAt.Equal(b.LastAppliedAt) {
			return a.LastAppliedAt.After(b.LastAppliedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecordApplication marks the patterns behind the strategies that changed
// the tree during guide's iteration. Suggested patterns with an applied
// strategy are marked, and each failure signature gets an exact pattern per
// applied strategy, created on first use. It returns the marked IDs.
func (s *Service) RecordApplication(ctx context.Context, chainID string, guide *Guide, strategiesApplied []string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "remediation.record_application")
	defer span.End()

	applied := make(map[string]bool, len(strategiesApplied))
	for _, st := range strategiesApplied {
		applied[st] = true
	}

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, sug := range guide.SuggestedPatterns {
		for _, p := range sug.Patterns {
			if applied[p.Strategy] {
				add(p.ID)
			}
		}
		for _, st := range strategiesApplied {
			p, err := s.learn(ctx, sug.Signature, st)
			if err != nil {
				return nil, s.fail(span, err)
			}
			add(p.ID)
		}
	}

	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.store.MarkApplied(ctx, chainID, guide.Iteration, ids, s.clock.Now()); err != nil {
		return nil, s.fail(span, fmt.Errorf("marking patterns applied: %w", err))
	}
	span.SetAttributes(attribute.Int("patterns", len(ids)))
	return ids, nil
}

func (s *Service) learn(ctx context.Context, signature, strategy string) (*Pattern, error) {
	p, err := s.store.FindPattern(ctx, signature, strategy)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPatternNotFound) {
		return nil, fmt.Errorf("finding pattern: %w", err)
	}
	p = &Pattern{Signature: signature, Strategy: strategy, CreatedAt: s.clock.Now().UTC()}
	if err := s.store.CreatePattern(ctx, p); err != nil {
		return nil, fmt.Errorf("creating pattern: %w", err)
	}
	s.logger.Debug("learned pattern",
		zap.String("pattern.id", p.ID),
		zap.String("strategy", strategy))
	return p, nil
}

// RecordOutcome credits or debits patternIDs for chainID. Repeated calls
// for the same (pattern, chain) are ignored. It returns how many counters
// changed.
func (s *Service) RecordOutcome(ctx context.Context, chainID string, patternIDs []string, succeeded bool) (int, error) {
	ctx, span := s.tracer.Start(ctx, "remediation.record_outcome")
	defer span.End()
	span.SetAttributes(
		attribute.String("chain.id", chainID),
		attribute.Bool("succeeded", succeeded),
	)
	if len(patternIDs) == 0 {
		return 0, nil
	}

	recorded, err := s.store.RecordOutcome(ctx, chainID, patternIDs, succeeded, s.clock.Now())
	if err != nil {
		return 0, s.fail(span, fmt.Errorf("recording outcome: %w", err))
	}
	if s.outcomes != nil && len(recorded) > 0 {
		s.outcomes.Add(ctx, int64(len(recorded)), metric.WithAttributes(attribute.Bool("succeeded", succeeded)))
	}
	return len(recorded), nil
}

// Guide returns one iteration's guide.
func (s *Service) Guide(ctx context.Context, chainID string, iteration int) (*Guide, error) {
	return s.store.GetGuide(ctx, chainID, iteration)
}

// LatestGuide returns the newest guide of a chain.
func (s *Service) LatestGuide(ctx context.Context, chainID string) (*Guide, error) {
	return s.store.LatestGuide(ctx, chainID)
}

// ListGuides returns every guide of a chain in iteration order.
func (s *Service) ListGuides(ctx context.Context, chainID string) ([]Guide, error) {
	return s.store.ListGuides(ctx, chainID)
}

// ListChains summarizes the chains that have guides.
func (s *Service) ListChains(ctx context.Context) ([]ChainSummary, error) {
	return s.store.ListChains(ctx)
}

// ListPatterns returns every pattern in the store.
func (s *Service) ListPatterns(ctx context.Context) ([]Pattern, error) {
	return s.store.ListPatterns(ctx)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ChainLock is the single-controller guard for one lease key.
type ChainLock struct {
	store Store
	clock clock.Clock
	key   string
	owner string
	ttl   time.Duration
}

// NewChainLock builds a lock on key held as owner.
func NewChainLock(store Store, c clock.Clock, key, owner string, ttl time.Duration) *ChainLock {
	return &ChainLock{store: store, clock: c, key: key, owner: owner, ttl: ttl}
}

// Acquire takes or renews the lease. ErrChainBusy means another owner
// holds it.
func (l *ChainLock) Acquire(ctx context.Context) error {
	return l.store.AcquireLease(ctx, l.key, l.owner, l.ttl, l.clock.Now())
}

// Release drops the lease.
func (l *ChainLock) Release(ctx context.Context) error {
	return l.store.ReleaseLease(ctx, l.key, l.owner)
}
