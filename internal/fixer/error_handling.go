package fixer

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

var (
	asyncFunctionRe = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?async\s+function\b[^(\n]*\(`)
	asyncArrowRe    = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let|var)\s+[A-Za-z_$][\w$]*\s*(?::[^=\n]+)?=\s*async\s*(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::[^=\n]+?)?=>\s*\{`)
	tryRe           = regexp.MustCompile(`\btry\s*\{`)
)

// ErrorHandlingStrategy wraps the body of every top-level async function
// that has no try/catch in one that logs the error and sets a failing exit
// code. Test files are never edited.
type ErrorHandlingStrategy struct{}

// Name implements Strategy.
func (s *ErrorHandlingStrategy) Name() string { return remediation.StrategyErrorHandling }

// Apply implements Strategy.
func (s *ErrorHandlingStrategy) Apply(ctx context.Context, ws *Workspace, _ *remediation.Guide) (bool, error) {
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
		wrote, err := ws.Write(rel, wrapAsyncBodies(data))
		if err != nil {
			return changed, err
		}
		changed = changed || wrote
	}
	return changed, nil
}

type bodySpan struct {
	open, close int
}

// wrapAsyncBodies rewrites src so every unprotected top-level async
// function body sits inside try/catch.
func wrapAsyncBodies(src []byte) []byte {
	masked := maskCode(src)
	var spans []bodySpan

	for _, loc := range asyncFunctionRe.FindAllIndex(masked, -1) {
		if braceDepth(masked, loc[0]) != 0 {
			continue
		}
		closeParen := matchingClose(masked, loc[1]-1)
		if closeParen < 0 {
			continue
		}
		open := nextBodyBrace(masked, closeParen+1)
		if open < 0 {
			continue
		}
		if sp, ok := unprotected(masked, open); ok {
			spans = append(spans, sp)
		}
	}
	for _, loc := range asyncArrowRe.FindAllIndex(masked, -1) {
		if braceDepth(masked, loc[0]) != 0 {
			continue
		}
		if sp, ok := unprotected(masked, loc[1]-1); ok {
			spans = append(spans, sp)
		}
	}
	if len(spans) == 0 {
		return src
	}

	// Rewrite back to front so earlier offsets stay valid.
	sort.Slice(spans, func(i, j int) bool { return spans[i].open > spans[j].open })
	out := string(src)
	for _, sp := range spans {
		body := out[sp.open+1 : sp.close]
		out = out[:sp.open+1] + wrapBody(body) + out[sp.close:]
	}
	return []byte(out)
}

// nextBodyBrace skips a TypeScript return annotation and returns the
// index of the body's opening brace, or -1 for a bodiless declaration.
func nextBodyBrace(masked []byte, from int) int {
	for i := from; i < len(masked); i++ {
		switch masked[i] {
		case '{':
			return i
		case ';':
			return -1
		}
	}
	return -1
}

func unprotected(masked []byte, open int) (bodySpan, bool) {
	closeBrace := matchingClose(masked, open)
	if closeBrace < 0 {
		return bodySpan{}, false
	}
	body := masked[open+1 : closeBrace]
	if strings.TrimSpace(string(body)) == "" || tryRe.Match(body) {
		return bodySpan{}, false
	}
	return bodySpan{open: open, close: closeBrace}, true
}

func wrapBody(body string) string {
	body = strings.TrimPrefix(strings.TrimLeft(body, " \t"), "\n")
	body = strings.TrimRight(body, " \t\r\n")

	if !strings.Contains(body, "`") {
		lines := strings.Split(body, "\n")
		for i, line := range lines {
			if strings.TrimSpace(line) != "" {
				lines[i] = "  " + line
			}
		}
		body = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("\n  try {\n")
	b.WriteString(body)
	b.WriteString("\n  } catch (error) {\n")
	b.WriteString("    console.error(error);\n")
	b.WriteString("    process.exitCode = 1;\n")
	b.WriteString("  }\n")
	return b.String()
}
