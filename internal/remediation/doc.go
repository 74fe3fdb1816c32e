// Package remediation is the recovery knowledge store.
//
// It remembers which fix strategies worked for which failures. A failure is
// identified by its Signature, a hash of the normalized framework, test name
// and error message. Patterns map either an exact signature or a substring
// predicate to a fixer strategy and carry success and failure counters that
// only ever grow.
//
// # Guides
//
// Every iteration of a recovery chain produces a Guide: the classified
// failures plus, for each failure, up to three suggested patterns ranked by
// SuccessCount - FailureCount. Guides are append-only. A guide for an
// iteration that is not strictly greater than the chain's latest is rejected
// with ErrGuideOutOfOrder.
//
// # Outcomes
//
// RecordOutcome counts a chain's verdict at most once per (pattern, chain)
// pair, so replays after a crash cannot inflate the counters. Every change
// to a pattern is also appended to the pattern_events log.
//
// # Leases
//
// AcquireLease backs the single-controller-per-chain rule. A lease is held
// by one owner until it is released or its TTL passes.
//
// # Usage
//
//	store, err := remediation.OpenSQLite(filepath.Join(os.Getenv("RUNNER_TEMP"), "cirecover", "knowledge.db"))
//	svc := remediation.NewService(store, scrubber, clock.New(), logger)
//
//	guide, err := svc.GenerateGuide(ctx, "gh-991-1", 0, failures)
//	ids, err := svc.RecordApplication(ctx, "gh-991-1", guide, []string{remediation.StrategyKnownDefect})
//	_, err = svc.RecordOutcome(ctx, "gh-991-1", ids, true)
//
// Failure text is scrubbed for secrets before anything is persisted.
package remediation
