package classifier

import (
	"io"
	"regexp"
	"strings"
)

var (
	jestMatcher = &Matcher{
		Framework: FrameworkJest,
		Start:     regexp.MustCompile(`^\s*FAIL\s+(.+?)\s*(?:\(\d+(?:\.\d+)?\s*m?s\))?\s*$`),
		Sub:       regexp.MustCompile(`^\s*●\s+(.+)$`),
		SkipSub:   regexp.MustCompile(`^(?:Console|Test suite failed to run)`),
		Error:     regexp.MustCompile(`\w*Error\b|\bExpected\b|\bReceived\b|expect\(|\bthrown\b|Exceeded timeout`),
	}

	playwrightMatcher = &Matcher{
		Framework: FrameworkPlaywright,
		Start:     regexp.MustCompile(`^\s*\d+\)\s+(.+?)\s*$`),
		Error:     regexp.MustCompile(`\w*Error\b|\bExpected\b|\bReceived\b|Timeout \d+ms exceeded|\blocator\.`),
	}

	cypressMatcher = &Matcher{
		Framework: FrameworkCypress,
		Start:     regexp.MustCompile(`^\s*\d+\)\s+(.+?)\s*$`),
		Error:     regexp.MustCompile(`AssertionError|CypressError|\w*Error:|Timed out retrying`),
	}

	vitestMatcher = &Matcher{
		Framework: FrameworkVitest,
		Start:     regexp.MustCompile(`^\s*(?:FAIL|×|✗)\s+(.+?)\s*$`),
		Error:     regexp.MustCompile(`\w*Error\b|\bExpected\b|\bReceived\b|expected .+ to `),
	}

	genericMatcher = &Matcher{
		Framework:    FrameworkGeneric,
		Start:        regexp.MustCompile(`\bFAIL(?:ED)?\b:?\s*(.*)$`),
		Error:        regexp.MustCompile(`Error`),
		StartIsError: true,
	}
)

// frameworkOrder is the dispatch order for job-name matching. Playwright and
// Vitest come first because their job names often also mention "test".
var frameworkOrder = []struct {
	token   string
	matcher *Matcher
}{
	{"playwright", playwrightMatcher},
	{"vitest", vitestMatcher},
	{"cypress", cypressMatcher},
	{"jest", jestMatcher},
}

// MatcherFor returns the matcher for jobName and whether it is a known framework.
func MatcherFor(jobName string) (*Matcher, bool) {
	lower := strings.ToLower(jobName)
	for _, f := range frameworkOrder {
		if strings.Contains(lower, f.token) {
			return f.matcher, true
		}
	}
	return genericMatcher, false
}

// Classify extracts the failures in a job log. Records carry jobName; the
// timestamp is taken from the runner prefix when the log has one.
func Classify(jobName string, r io.Reader) Result {
	m, known := MatcherFor(jobName)
	recs, err := m.Match(r)
	for i := range recs {
		recs[i].JobName = jobName
	}

	res := Result{Framework: m.Framework, Records: recs, Err: err}
	if !known {
		res.Gap = &ClassificationGap{JobName: jobName, Records: len(recs)}
	}
	return res
}

// ClassifyString is Classify over an in-memory log.
func ClassifyString(jobName, log string) Result {
	return Classify(jobName, strings.NewReader(log))
}
