package secrets

import (
	"fmt"
	"regexp"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// Gitleaks adds the gitleaks default rule set as a second pass.
	Gitleaks bool `koanf:"gitleaks"`

	Rules           []Rule   `koanf:"rules"`
	RedactionString string   `koanf:"redaction_string"`
	AllowList       []string `koanf:"allow_list"`

	// AllowlistFile is a gitleaks-format TOML file whose [allowlist] regexes
	// are merged into AllowList. A missing file is ignored.
	AllowlistFile string `koanf:"allowlist_file"`

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule is a single regexp detection rule.
type Rule struct {
	ID          string   `koanf:"id"`
	Description string   `koanf:"description"`
	Pattern     string   `koanf:"pattern"`
	Keywords    []string `koanf:"keywords"`
	Severity    string   `koanf:"severity"`
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig enables the CI rule set with the gitleaks pass.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Gitleaks:        true,
		RedactionString: DefaultRedaction,
		Rules:           DefaultRules(),
	}
}

// Validate compiles rules and allowlist patterns.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = DefaultRedaction
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil || rule.Pattern == "" {
			return fmt.Errorf("%w: rule %s: %q", ErrInvalidRegex, rule.ID, rule.Pattern)
		}
		cr := &compiledRule{Rule: rule, pattern: re}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, cr)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: allow_list %d: %v", ErrInvalidRegex, i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, re)
	}
	return nil
}
