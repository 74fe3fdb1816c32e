package fixer

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/cirecover/internal/atomicfile"
	"github.com/fyrsmithlabs/cirecover/internal/ignore"
)

// DefaultMaxFileBytes skips files larger than this.
const DefaultMaxFileBytes int64 = 1 << 20

// Source extensions the code-aware strategies edit.
var scriptExts = []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts"}

// Extensions the literal-token strategy edits in addition to scripts.
var textExts = []string{".html", ".css", ".scss", ".vue", ".svelte", ".json", ".md", ".txt"}

// Workspace is the set of editable files under a repository root.
type Workspace struct {
	root         string
	roots        []string
	matcher      *ignore.Matcher
	maxFileBytes int64

	files   []string
	written map[string]bool
}

// OpenWorkspace lists the editable files under each of roots (relative to
// root). Paths excluded by matcher are skipped.
func OpenWorkspace(root string, roots []string, matcher *ignore.Matcher, maxFileBytes int64) (*Workspace, error) {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	w := &Workspace{
		root:         root,
		roots:        roots,
		matcher:      matcher,
		maxFileBytes: maxFileBytes,
		written:      make(map[string]bool),
	}
	if err := w.Refresh(); err != nil {
		return nil, err
	}
	return w, nil
}

// Refresh re-walks the tree.
func (w *Workspace) Refresh() error {
	seen := make(map[string]bool)
	var files []string
	for _, r := range w.roots {
		start := filepath.Join(w.root, r)
		err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == start {
					return filepath.SkipDir
				}
				return err
			}
			rel, err := filepath.Rel(w.root, path)
			if err != nil {
				return err
			}
			if strings.HasPrefix(rel, "..") {
				return fmt.Errorf("root %q escapes the repository", r)
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if w.matcher != nil && w.matcher.Match(rel, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if !seen[rel] && (hasExt(rel, scriptExts) || hasExt(rel, textExts)) {
				seen[rel] = true
				files = append(files, rel)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking %s: %w", r, err)
		}
	}
	sort.Strings(files)
	w.files = files
	return nil
}

// Root returns the repository root.
func (w *Workspace) Root() string { return w.root }

// Scripts returns the JavaScript and TypeScript files.
func (w *Workspace) Scripts() []string {
	return w.filter(scriptExts)
}

// TextFiles returns every editable file.
func (w *Workspace) TextFiles() []string {
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

func (w *Workspace) filter(exts []string) []string {
	var out []string
	for _, f := range w.files {
		if hasExt(f, exts) {
			out = append(out, f)
		}
	}
	return out
}

// Read returns a file's content. ok is false for oversized or binary files.
func (w *Workspace) Read(rel string) (data []byte, ok bool, err error) {
	path := filepath.Join(w.root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if info.Size() > w.maxFileBytes {
		return nil, false, nil
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Write atomically replaces rel when data differs from its content and
// reports whether bytes were written.
func (w *Workspace) Write(rel string, data []byte) (bool, error) {
	path := filepath.Join(w.root, filepath.FromSlash(rel))
	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", rel, err)
	}
	w.written[rel] = true
	return true, nil
}

func (w *Workspace) markWritten(paths []string) {
	for _, p := range paths {
		w.written[p] = true
	}
}

// Written returns the files changed through Write, sorted.
func (w *Workspace) Written() []string {
	out := make([]string, 0, len(w.written))
	for f := range w.written {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Snapshot hashes every listed file.
func (w *Workspace) Snapshot() (map[string][sha256.Size]byte, error) {
	snap := make(map[string][sha256.Size]byte, len(w.files))
	for _, rel := range w.files {
		data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		snap[rel] = sha256.Sum256(data)
	}
	return snap, nil
}

// diffSnapshots returns the paths whose hash differs between a and b.
func diffSnapshots(a, b map[string][sha256.Size]byte) []string {
	var changed []string
	for k, v := range b {
		if old, ok := a[k]; !ok || old != v {
			changed = append(changed, k)
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// isTestFile matches the usual test naming conventions.
func isTestFile(rel string) bool {
	base := filepath.Base(rel)
	if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") || strings.Contains(base, ".cy.") {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		switch part {
		case "__tests__", "__mocks__", "e2e", "cypress", "playwright":
			return true
		}
	}
	return false
}
