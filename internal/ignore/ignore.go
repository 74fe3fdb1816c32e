// Package ignore decides which working-tree files the fixer may rewrite.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultExcludes are skipped in every repository.
var DefaultExcludes = []string{
	".git/",
	"node_modules/",
	"dist/",
	"build/",
	"coverage/",
	".next/",
	"*.min.js",
}

// Parser reads gitignore-style files from a repository root.
type Parser struct {
	// IgnoreFiles are read in order; later files can re-include with "!".
	IgnoreFiles []string

	// Defaults are applied before any ignore file.
	Defaults []string
}

// NewParser creates a parser.
func NewParser(ignoreFiles, defaults []string) *Parser {
	return &Parser{
		IgnoreFiles: ignoreFiles,
		Defaults:    defaults,
	}
}

// Matcher answers whether a repository-relative path is excluded.
type Matcher struct {
	m     gitignore.Matcher
	lines []string
}

// ParseProject builds a Matcher from the defaults plus every ignore file
// present at root. Missing files are skipped.
func (p *Parser) ParseProject(root string) (*Matcher, error) {
	lines := make([]string, 0, len(p.Defaults))
	for _, l := range p.Defaults {
		if l = parseLine(l); l != "" {
			lines = append(lines, l)
		}
	}

	for _, name := range p.IgnoreFiles {
		fileLines, err := parseFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		lines = append(lines, fileLines...)
	}

	lines = deduplicate(lines)
	patterns := make([]gitignore.Pattern, 0, len(lines))
	for _, l := range lines {
		patterns = append(patterns, gitignore.ParsePattern(l, nil))
	}
	return &Matcher{m: gitignore.NewMatcher(patterns), lines: lines}, nil
}

// Match reports whether rel (slash or OS separated, relative to the root)
// is excluded.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == "" {
		return false
	}
	return m.m.Match(strings.Split(rel, "/"), isDir)
}

// Patterns returns the effective pattern lines.
func (m *Matcher) Patterns() []string {
	return m.lines
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if l := parseLine(scanner.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// parseLine returns "" for blank lines and comments.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
