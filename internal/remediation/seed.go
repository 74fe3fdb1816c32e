package remediation

// defaultPatterns are predicate patterns present in every fresh store so
// that the first chain in a repository still gets suggestions.
var defaultPatterns = []Pattern{
	{ID: "seed-not-defined", MatchPredicate: "is not defined", Strategy: StrategyImportRepair},
	{ID: "seed-cannot-find-module", MatchPredicate: "cannot find module", Strategy: StrategyImportRepair},
	{ID: "seed-broken-text", MatchPredicate: "BROKEN_TEXT_BUG", Strategy: StrategyKnownDefect},
	{ID: "seed-unhandled-rejection", MatchPredicate: "UnhandledPromiseRejection", Strategy: StrategyErrorHandling},
	{ID: "seed-unhandled-rejection-node", MatchPredicate: "unhandled promise rejection", Strategy: StrategyErrorHandling},
	{ID: "seed-not-a-function", MatchPredicate: "is not a function", Strategy: StrategyExportValidation},
	{ID: "seed-no-export", MatchPredicate: "does not provide an export", Strategy: StrategyExportValidation},
	{ID: "seed-parsing-error", MatchPredicate: "Parsing error", Strategy: StrategyLint},
	{ID: "seed-eslint", MatchPredicate: "eslint", Strategy: StrategyLint},
}

// DefaultPatterns returns a copy of the seeded patterns.
func DefaultPatterns() []Pattern {
	out := make([]Pattern, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}
