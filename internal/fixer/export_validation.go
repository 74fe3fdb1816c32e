package fixer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

var (
	esmExportRe       = regexp.MustCompile(`(?m)^[ \t]*export\s`)
	cjsExportRe       = regexp.MustCompile(`\b(?:module\.)?exports\s*(?:\.\s*[A-Za-z_$][\w$]*\s*)?=[^=]`)
	cjsReassignRe     = regexp.MustCompile(`\bmodule\.exports\s*=[^=]`)
	requireMainRe     = regexp.MustCompile(`\brequire\.main\s*===?\s*module\b|\bmodule\s*===?\s*require\.main\b`)
	importMetaMainRe  = regexp.MustCompile(`\bimport\.meta\.(?:main\b|url\b[^\n]*process\.argv)`)
	mainDeclarationRe = regexp.MustCompile(`(?m)^(?:async\s+)?function\s*\*?\s*main\s*\(`)
	mainBindingRe     = regexp.MustCompile(`(?m)^(?:const|let|var)\s+main\s*=`)
	mainCallRe        = regexp.MustCompile(`(?:^|[^\w$.])main\s*\(`)
)

// ExportValidationStrategy makes sure a module exposes what its callers
// need. A script that defines main with no exports and no call to it gets
// a run-if-main guard, and definitions a failure reports as missing
// exports get an explicit export.
type ExportValidationStrategy struct{}

// Name implements Strategy.
func (s *ExportValidationStrategy) Name() string { return remediation.StrategyExportValidation }

// Apply implements Strategy.
func (s *ExportValidationStrategy) Apply(ctx context.Context, ws *Workspace, guide *remediation.Guide) (bool, error) {
	names := append(namesMatching(guide, notFunctionRe), namesMatching(guide, noExportRe)...)

	changed := false
	for _, rel := range ws.Scripts() {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		if isTestFile(rel) {
			continue
		}
		data, ok, err := ws.Read(rel)
		if err != nil || !ok {
			continue
		}
		updated := addRunIfMain(rel, exportNames(rel, data, names))
		wrote, err := ws.Write(rel, updated)
		if err != nil {
			return changed, err
		}
		changed = changed || wrote
	}
	return changed, nil
}

// exportNames appends an export for every name defined at the top level
// of src and not already exported.
func exportNames(rel string, src []byte, names []string) []byte {
	if len(names) == 0 {
		return src
	}
	masked := maskCode(src)
	esm := isESM(rel, masked)
	if !esm && cjsReassignRe.Match(masked) {
		return src
	}

	var lines []string
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] || !definesTopLevel(masked, name) || exported(masked, name, esm) {
			continue
		}
		seen[name] = true
		if esm {
			lines = append(lines, fmt.Sprintf("export { %s };", name))
		} else {
			lines = append(lines, fmt.Sprintf("module.exports.%s = %s;", name, name))
		}
	}
	return appendLines(src, lines)
}

func definesTopLevel(masked []byte, name string) bool {
	q := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`(?m)^(?:async\s+)?(?:function\s*\*?\s*` + q + `\s*\(|class\s+` + q + `\b|(?:const|let|var)\s+` + q + `\s*[=:])`)
	for _, loc := range re.FindAllIndex(masked, -1) {
		if braceDepth(masked, loc[0]) == 0 {
			return true
		}
	}
	return false
}

func exported(masked []byte, name string, esm bool) bool {
	q := regexp.QuoteMeta(name)
	var pattern string
	if esm {
		pattern = `\bexport\s+(?:default\s+)?(?:async\s+)?(?:function\s*\*?|class|const|let|var)\s+` + q + `\b` +
			`|\bexport\s*\{[^}]*\b` + q + `\b[^}]*\}` +
			`|\bexport\s+default\s+` + q + `\b`
	} else {
		pattern = `\b(?:module\.)?exports\.` + q + `\s*=[^=]`
	}
	return regexp.MustCompile(pattern).Match(masked)
}

// addRunIfMain appends an entry guard to a script that defines main, has
// no exports and never calls main itself.
func addRunIfMain(rel string, src []byte) []byte {
	masked := maskCode(src)
	if esmExportRe.Match(masked) || cjsExportRe.Match(masked) {
		return src
	}
	if requireMainRe.Match(masked) || importMetaMainRe.Match(masked) {
		return src
	}

	calls := len(mainCallRe.FindAllIndex(masked, -1))
	switch {
	case mainDeclarationRe.Match(masked):
		// The declaration itself matches mainCallRe once.
		calls--
	case mainBindingRe.Match(masked):
	default:
		return src
	}
	if calls > 0 {
		return src
	}

	if isESM(rel, masked) {
		return appendLines(src, []string{
			"if (process.argv[1] && import.meta.url.endsWith(process.argv[1])) {",
			"  main();",
			"}",
		})
	}
	return appendLines(src, []string{
		"if (require.main === module) {",
		"  main();",
		"}",
	})
}

func appendLines(src []byte, lines []string) []byte {
	if len(lines) == 0 {
		return src
	}
	var b strings.Builder
	b.Write(src)
	if len(src) > 0 && src[len(src)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
