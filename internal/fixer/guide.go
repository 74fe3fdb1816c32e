package fixer

import (
	"regexp"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

var (
	notDefinedRe  = regexp.MustCompile(`\b([A-Za-z_$][\w$]*) is not defined`)
	notFunctionRe = regexp.MustCompile(`\b(?:[A-Za-z_$][\w$]*\.)*([A-Za-z_$][\w$]*)(?:\(\.\.\.\))? is not a function`)
	noExportRe    = regexp.MustCompile(`(?:does not provide an export named|has no exported member(?: named)?) ['"]?([A-Za-z_$][\w$]*)|export ['"]([A-Za-z_$][\w$]*)['"] \(imported as`)
)

// failureTexts yields the error message and test name of every failure.
func failureTexts(g *remediation.Guide) []string {
	var out []string
	for _, f := range g.Failures {
		out = append(out, f.ErrorMessage, f.TestName)
	}
	return out
}

// namesMatching collects the first non-empty capture group of re across
// failure text.
func namesMatching(g *remediation.Guide, re *regexp.Regexp) []string {
	seen := make(map[string]bool)
	var out []string
	for _, text := range failureTexts(g) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			for _, name := range m[1:] {
				if name != "" && !seen[name] {
					seen[name] = true
					out = append(out, name)
					break
				}
			}
		}
	}
	return out
}
