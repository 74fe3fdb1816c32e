// Package secrets redacts credentials from CI failure text.
//
// Failure messages come straight out of job logs, and job logs routinely echo
// tokens, connection strings and private keys. Everything the knowledge store
// persists and everything the notifier publishes passes through a Scrubber
// first. Two passes run over the text: a small set of regexp rules tuned for
// CI output, and optionally the gitleaks default rule set. Allowlisted
// matches are left untouched; the allowlist may be extended from a
// repository's .gitleaks.toml.
//
// Findings never carry the matched value, only rule IDs and positions.
package secrets
