package remediation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/cirecover/internal/classifier"
)

var (
	pathRe   = regexp.MustCompile(`(?:[a-z]:)?(?:[\w.@~+-]*[/\\])+[\w.@+-]+(?::\d+)*`)
	hexRe    = regexp.MustCompile(`\b(?:0x[0-9a-f]+|[0-9a-f]{7,})\b`)
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// Normalize strips the volatile parts of failure text: filesystem paths,
// hex identifiers and numbers. The result is lower-cased with collapsed
// whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = pathRe.ReplaceAllString(s, "<path>")
	s = hexRe.ReplaceAllStringFunc(s, func(m string) string {
		if strings.HasPrefix(m, "0x") || strings.ContainsAny(m, "0123456789") {
			return "<hex>"
		}
		return m
	})
	s = numberRe.ReplaceAllString(s, "<n>")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Signature identifies a failure independently of line numbers, temp paths
// and generated ids.
func Signature(framework, testName, errorMessage string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", strings.ToLower(framework), Normalize(testName), Normalize(errorMessage))
	return hex.EncodeToString(h.Sum(nil))
}

// RecordSignature is Signature over a FailureRecord.
func RecordSignature(r classifier.FailureRecord) string {
	return Signature(r.Framework, r.TestName, r.ErrorMessage)
}

// SummarizeFailures renders failures as "N failures (jest: 2, playwright: 1)".
func SummarizeFailures(failures []classifier.FailureRecord) string {
	if len(failures) == 0 {
		return "no failures classified"
	}
	byFramework := make(map[string]int)
	for _, f := range failures {
		byFramework[f.Framework]++
	}
	names := make([]string, 0, len(byFramework))
	for name := range byFramework {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %d", name, byFramework[name]))
	}
	noun := "failures"
	if len(failures) == 1 {
		noun = "failure"
	}
	return fmt.Sprintf("%d %s (%s)", len(failures), noun, strings.Join(parts, ", "))
}
