package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Scrubber redacts secrets from text. Safe for concurrent use.
type Scrubber struct {
	cfg *Config

	mu       sync.Mutex // guards detector
	detector *detect.Detector
}

type span struct {
	start, end int
}

// New builds a Scrubber. A nil cfg means DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.AllowlistFile != "" {
		al, err := LoadAllowlist(cfg.AllowlistFile)
		if err != nil {
			return nil, err
		}
		cfg.AllowList = append(cfg.AllowList, al.Regexes...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scrubber{cfg: cfg}
	if cfg.Enabled && cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		if len(cfg.compiledAllowList) > 0 {
			extra := &gitleaksconfig.Allowlist{Description: "cirecover allowlist"}
			for _, re := range cfg.compiledAllowList {
				extra.Regexes = append(extra.Regexes, (*gitleaksregexp.Regexp)(re))
			}
			d.Config.Allowlists = append(d.Config.Allowlists, extra)
		}
		s.detector = d
	}
	return s, nil
}

// Disabled returns a Scrubber that passes text through unchanged.
func Disabled() *Scrubber {
	return &Scrubber{cfg: &Config{}}
}

// Enabled reports whether the scrubber redacts anything.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.cfg.Enabled
}

// String is shorthand for Scrub(content).Scrubbed.
func (s *Scrubber) String(content string) string {
	return s.Scrub(content).Scrubbed
}

// Scrub redacts every rule and gitleaks match outside the allowlist.
func (s *Scrubber) Scrub(content string) *Result {
	res := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if !s.Enabled() || content == "" {
		return res
	}

	var spans []span
	add := func(start, end int, ruleID, severity, source string) {
		res.Findings = append(res.Findings, Finding{
			RuleID:     ruleID,
			Severity:   severity,
			StartIndex: start,
			EndIndex:   end,
			Line:       strings.Count(content[:start], "\n") + 1,
			Source:     source,
		})
		res.ByRule[ruleID]++
		spans = append(spans, span{start, end})
	}

	for _, rule := range s.cfg.compiledRules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			add(m[0], m[1], rule.ID, rule.Severity, "rules")
		}
	}

	for _, f := range s.detect(content) {
		if f.secret == "" || s.allowed(f.secret) {
			continue
		}
		for from := 0; ; {
			i := strings.Index(content[from:], f.secret)
			if i < 0 {
				break
			}
			start := from + i
			add(start, start+len(f.secret), f.ruleID, "high", "gitleaks")
			from = start + len(f.secret)
		}
	}

	if len(spans) == 0 {
		return res
	}
	res.Scrubbed = redact(content, spans, s.cfg.RedactionString)
	sort.SliceStable(res.Findings, func(i, j int) bool {
		return res.Findings[i].StartIndex < res.Findings[j].StartIndex
	})
	return res
}

type leak struct {
	ruleID string
	secret string
}

func (s *Scrubber) detect(content string) []leak {
	if s.detector == nil {
		return nil
	}
	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	out := make([]leak, 0, len(findings))
	for _, f := range findings {
		out = append(out, leak{ruleID: f.RuleID, secret: f.Secret})
	}
	return out
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.cfg.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// redact merges overlapping spans and replaces each with repl.
func redact(content string, spans []span, repl string) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for i := 0; i < len(spans); {
		start, end := spans[i].start, spans[i].end
		for i++; i < len(spans) && spans[i].start <= end; i++ {
			if spans[i].end > end {
				end = spans[i].end
			}
		}
		if start < pos {
			start = pos
		}
		b.WriteString(content[pos:start])
		b.WriteString(repl)
		pos = end
	}
	b.WriteString(content[pos:])
	return b.String()
}
