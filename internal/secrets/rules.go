package secrets

// DefaultRules returns the rules tuned for CI job output: forge and registry
// tokens, chat webhooks, cloud keys and credentials echoed by test runners.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `gh[pousr]_[A-Za-z0-9]{36,}`,
			Severity:    "high",
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub fine-grained personal access token",
			Pattern:     `github_pat_[A-Za-z0-9_]{22,}`,
			Severity:    "high",
		},
		{
			ID:          "gitlab-token",
			Description: "GitLab personal access token",
			Pattern:     `glpat-[A-Za-z0-9\-]{20,}`,
			Severity:    "high",
		},
		{
			ID:          "npm-token",
			Description: "npm access token",
			Pattern:     `npm_[A-Za-z0-9]{36}`,
			Severity:    "high",
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity:    "high",
		},
		{
			ID:          "slack-webhook",
			Description: "Slack incoming webhook",
			Pattern:     `https://hooks\.slack\.com/services/[A-Za-z0-9/]+`,
			Severity:    "high",
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key ID",
			Pattern:     `(?:A3T[A-Z0-9]|AKIA|ASIA)[A-Z0-9]{16}`,
			Severity:    "high",
		},
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
			Severity:    "high",
		},
		{
			ID:          "database-url",
			Description: "Connection URL with inline credentials",
			Pattern:     `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@[^\s'"]+`,
			Severity:    "high",
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]{4,}\.eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]+`,
			Severity:    "medium",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer credential in a header dump",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords:    []string{"bearer"},
			Severity:    "medium",
		},
		{
			ID:          "assigned-secret",
			Description: "Credential assigned in env or config output",
			Pattern:     `(?i)(?:password|passwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token)["']?\s*[:=]\s*["']?[^\s"',;]{8,}`,
			Keywords:    []string{"password", "passwd", "secret", "key", "token"},
			Severity:    "high",
		},
	}
}
