package fixer

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

// repairableModules are the Node builtins import-repair will add.
var repairableModules = []string{"fs", "path"}

var (
	esmSyntaxRe    = regexp.MustCompile(`(?m)^[ \t]*(?:import[\s{*'"]|export\s)`)
	firstImportRe  = regexp.MustCompile(`(?m)^[ \t]*(?:import[\s{*'"]|(?:const|let|var)\s+[^=\n]+=\s*require\s*\()`)
	useStrictRe    = regexp.MustCompile(`^[ \t]*['"]use strict['"];?[ \t]*\r?\n?`)
	bindingFormats = []string{
		`\b(?:const|let|var|function|class)\s+%[1]s\b`,
		`\bimport\s+%[1]s\b`,
		`\bimport\s*\*\s*as\s+%[1]s\b`,
		`\bimport\s+(?:type\s+)?\{[^}]*\b%[1]s\b[^}]*\}`,
		`\{[^{}]*\b%[1]s\b[^{}]*\}\s*=[^=>]`,
		`\([^()]*\b%[1]s\b[^()]*\)\s*(?:=>|\{|:)`,
		`(?:^|[^\w$.])%[1]s\s*=>`,
		`\bcatch\s*\(\s*%[1]s\s*\)`,
	}
)

// ImportRepairStrategy inserts a missing fs or path import into every
// script that uses the module without binding it.
type ImportRepairStrategy struct{}

// Name implements Strategy.
func (s *ImportRepairStrategy) Name() string { return remediation.StrategyImportRepair }

// Apply implements Strategy.
func (s *ImportRepairStrategy) Apply(ctx context.Context, ws *Workspace, guide *remediation.Guide) (bool, error) {
	modules := s.targets(guide)

	changed := false
	for _, rel := range ws.Scripts() {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		data, ok, err := ws.Read(rel)
		if err != nil || !ok {
			continue
		}
		updated := addMissingImports(rel, data, modules)
		wrote, err := ws.Write(rel, updated)
		if err != nil {
			return changed, err
		}
		changed = changed || wrote
	}
	return changed, nil
}

// targets returns every repairable module, those the guide's failures
// report as undefined first.
func (s *ImportRepairStrategy) targets(guide *remediation.Guide) []string {
	named := make(map[string]bool)
	for _, n := range namesMatching(guide, notDefinedRe) {
		named[n] = true
	}
	out := make([]string, 0, len(repairableModules))
	for _, m := range repairableModules {
		if named[m] {
			out = append(out, m)
		}
	}
	for _, m := range repairableModules {
		if !named[m] {
			out = append(out, m)
		}
	}
	return out
}

func addMissingImports(rel string, src []byte, modules []string) []byte {
	masked := maskCode(src)
	var missing []string
	for _, m := range modules {
		if usesUnbound(masked, m) {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return src
	}

	esm := isESM(rel, masked)
	var stmt strings.Builder
	for _, m := range missing {
		if esm {
			fmt.Fprintf(&stmt, "import * as %s from '%s';\n", m, m)
		} else {
			fmt.Fprintf(&stmt, "const %s = require('%s');\n", m, m)
		}
	}

	pos := importPosition(src, masked)
	out := make([]byte, 0, len(src)+stmt.Len())
	out = append(out, src[:pos]...)
	out = append(out, stmt.String()...)
	out = append(out, src[pos:]...)
	return out
}

func usesUnbound(masked []byte, name string) bool {
	q := regexp.QuoteMeta(name)
	use := regexp.MustCompile(`(?:^|[^\w$.])` + q + `\s*\.\s*[A-Za-z_$]`)
	if !use.Match(masked) {
		return false
	}
	for _, f := range bindingFormats {
		if regexp.MustCompile(fmt.Sprintf(f, q)).Match(masked) {
			return false
		}
	}
	return true
}

func isESM(rel string, masked []byte) bool {
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".mjs", ".mts", ".ts", ".tsx":
		return true
	case ".cjs", ".cts":
		return false
	}
	return esmSyntaxRe.Match(masked)
}

// importPosition is the start of the first import or require line, else
// the first line after any shebang and "use strict" directive.
func importPosition(src, masked []byte) int {
	if loc := firstImportRe.FindIndex(masked); loc != nil {
		return loc[0]
	}
	pos := 0
	if strings.HasPrefix(string(src), "#!") {
		if nl := strings.IndexByte(string(src), '\n'); nl >= 0 {
			pos = nl + 1
		} else {
			return len(src)
		}
	}
	if loc := useStrictRe.FindIndex(src[pos:]); loc != nil {
		pos += loc[1]
	}
	return pos
}
