package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{"empty line", "", ""},
		{"whitespace only", "   ", ""},
		{"comment", "# this is a comment", ""},
		{"negation kept", "!important.js", "!important.js"},
		{"trailing whitespace", "*.log  ", "*.log"},
		{"crlf", "dist/\r", "dist/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLine(tt.line); got != tt.expected {
				t.Errorf("parseLine(%q) = %q, want %q", tt.line, got, tt.expected)
			}
		})
	}
}

func TestParseProject(t *testing.T) {
	tmpDir := t.TempDir()

	gitignore := `# Build outputs
out/

*.snap
!keep.snap
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".cirecoverignore"), []byte("legacy/\nout/\n"), 0644); err != nil {
		t.Fatal(err)
	}

	parser := NewParser([]string{".gitignore", ".cirecoverignore"}, DefaultExcludes)
	m, err := parser.ParseProject(tmpDir)
	if err != nil {
		t.Fatalf("ParseProject failed: %v", err)
	}

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"node_modules", true, true},
		{"packages/app/node_modules", true, true},
		{".git", true, true},
		{"out", true, true},
		{"legacy", true, true},
		{"src/app.js", false, false},
		{"src/__snapshots__/app.snap", false, true},
		{"keep.snap", false, false},
		{"vendor/jquery.min.js", false, true},
		{".", true, false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Match(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}

	count := 0
	for _, p := range m.Patterns() {
		if p == "out/" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected out/ pattern once, got %d times", count)
	}
}

func TestParseProject_NoIgnoreFiles(t *testing.T) {
	parser := NewParser([]string{".gitignore"}, []string{".git/", "node_modules/"})

	m, err := parser.ParseProject(t.TempDir())
	if err != nil {
		t.Fatalf("ParseProject failed: %v", err)
	}
	if len(m.Patterns()) != 2 {
		t.Errorf("expected 2 default patterns, got %d", len(m.Patterns()))
	}
	if m.Match("src/index.js", false) {
		t.Error("src/index.js should not be excluded")
	}
}

func TestDeduplicate(t *testing.T) {
	input := []string{"a", "b", "a", "c", "b", "d"}
	expected := []string{"a", "b", "c", "d"}

	result := deduplicate(input)
	if len(result) != len(expected) {
		t.Fatalf("got %d items, want %d", len(result), len(expected))
	}
	for i, v := range result {
		if v != expected[i] {
			t.Errorf("result[%d] = %q, want %q", i, v, expected[i])
		}
	}
}
