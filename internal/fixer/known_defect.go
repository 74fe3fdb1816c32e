package fixer

import (
	"bytes"
	"context"
	"sort"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

// DefaultKnownDefects maps each known-bad literal to its replacement.
var DefaultKnownDefects = map[string]string{
	"BROKEN_TEXT_BUG": "",
}

// KnownDefectStrategy replaces allow-listed literal tokens in every text
// file.
type KnownDefectStrategy struct {
	Tokens map[string]string
}

// Name implements Strategy.
func (s *KnownDefectStrategy) Name() string { return remediation.StrategyKnownDefect }

// Apply implements Strategy.
func (s *KnownDefectStrategy) Apply(ctx context.Context, ws *Workspace, _ *remediation.Guide) (bool, error) {
	tokens := s.Tokens
	if tokens == nil {
		tokens = DefaultKnownDefects
	}
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		if k != "" {
			keys = append(keys, k)
		}
	}
	// Longest first so overlapping tokens replace deterministically.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	if len(keys) == 0 {
		return false, nil
	}

	changed := false
	for _, rel := range ws.TextFiles() {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		data, ok, err := ws.Read(rel)
		if err != nil || !ok {
			continue
		}
		updated := data
		for _, k := range keys {
			if repl := tokens[k]; !bytes.Contains([]byte(repl), []byte(k)) {
				updated = bytes.ReplaceAll(updated, []byte(k), []byte(repl))
			}
		}
		wrote, err := ws.Write(rel, updated)
		if err != nil {
			return changed, err
		}
		changed = changed || wrote
	}
	return changed, nil
}
