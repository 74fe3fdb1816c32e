package secrets

// Result is the outcome of one scrub.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Finding locates a detected secret. The matched value is never retained.
type Finding struct {
	RuleID     string `json:"rule_id"`
	Severity   string `json:"severity,omitempty"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Line       int    `json:"line"`
	// Source is "rules" or "gitleaks".
	Source string `json:"source"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}
