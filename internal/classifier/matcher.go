package classifier

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxLineBytes     = 1024 * 1024
	maxErrorLines    = 20
	maxMessageLength = 4096
)

var (
	ansiPattern        = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	timestampPattern   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z)\s?`)
	workflowCmdPattern = regexp.MustCompile(`^##\[(?:error|warning|notice|group|endgroup)\]`)
)

// Matcher extracts failure records for one test framework.
type Matcher struct {
	Framework string

	// Start opens a new test context. Capture group 1 is the test name.
	Start *regexp.Regexp

	// Sub optionally names a test within the file opened by Start, such as
	// Jest's "● suite › test" headings. Capture group 1 is the title.
	Sub *regexp.Regexp

	// SkipSub filters Sub titles that are not tests.
	SkipSub *regexp.Regexp

	// Error selects the lines attached to the current context.
	Error *regexp.Regexp

	// StartIsError records the start line itself as an error line. A start
	// line that matches Error is otherwise kept as the message of a context
	// that collects no other error lines.
	StartIsError bool
}

// Match scans r line by line. Lines longer than maxLineBytes are truncated
// and scanning continues. Records found before a read error are returned
// along with the error.
func (m *Matcher) Match(r io.Reader) ([]FailureRecord, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	b := &builder{m: m}

	var line []byte
	truncated := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !truncated {
			// One byte past the limit shows whether the cut splits a rune.
			if room := maxLineBytes + 1 - len(line); len(chunk) > room {
				chunk = chunk[:room]
				truncated = true
			}
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		text := strings.TrimSuffix(string(line), "\n")
		if truncated {
			text = truncateUTF8(text, maxLineBytes)
		}
		b.line(text)
		line, truncated = line[:0], false

		if errors.Is(err, io.EOF) {
			return b.records(), nil
		}
		if err != nil {
			return b.records(), err
		}
	}
}

// MatchString is Match over an in-memory log.
func (m *Matcher) MatchString(log string) []FailureRecord {
	recs, _ := m.Match(strings.NewReader(log))
	return recs
}

type testContext struct {
	file   string
	name   string
	ts     time.Time
	errors []string
	// header is the start line when it matched Error.
	header string
}

type builder struct {
	m       *Matcher
	current *testContext
	unknown *testContext
	order   []*testContext
}

func (b *builder) open(file, name string, ts time.Time) *testContext {
	tc := &testContext{file: file, name: name, ts: ts}
	b.order = append(b.order, tc)
	b.current = tc
	return tc
}

func (b *builder) line(raw string) {
	ts, text := cleanLine(raw)
	if strings.TrimSpace(text) == "" {
		return
	}

	if match := b.m.Start.FindStringSubmatch(text); match != nil {
		name := ""
		if len(match) > 1 {
			name = trimName(match[1])
		}
		if name == "" {
			name = strings.TrimSpace(text)
		}
		tc := b.open(name, name, ts)
		switch {
		case b.m.StartIsError:
			tc.add(strings.TrimSpace(text), ts)
		case b.m.Error.MatchString(text):
			tc.header = truncateUTF8(strings.TrimSpace(text), maxMessageLength)
		}
		return
	}

	if b.m.Sub != nil {
		if match := b.m.Sub.FindStringSubmatch(text); match != nil {
			title := trimName(match[1])
			if title != "" && (b.m.SkipSub == nil || !b.m.SkipSub.MatchString(title)) {
				b.sub(title, ts)
				return
			}
		}
	}

	if b.m.Error.MatchString(text) {
		target := b.current
		if target == nil {
			if b.unknown == nil {
				b.unknown = &testContext{file: UnknownTest, name: UnknownTest, ts: ts}
				b.order = append(b.order, b.unknown)
			}
			target = b.unknown
		}
		target.add(strings.TrimSpace(text), ts)
	}
}

// sub names a test inside the current file. A file context that has not
// collected any errors yet is renamed instead of opening a sibling.
func (b *builder) sub(title string, ts time.Time) {
	if b.current == nil {
		b.open(title, title, ts)
		return
	}
	name := b.current.file + " › " + title
	if len(b.current.errors) == 0 && b.current.name == b.current.file {
		b.current.name = name
		return
	}
	b.open(b.current.file, name, ts)
}

func (tc *testContext) add(line string, ts time.Time) {
	if len(tc.errors) == 0 && !ts.IsZero() {
		tc.ts = ts
	}
	if len(tc.errors) < maxErrorLines {
		tc.errors = append(tc.errors, truncateUTF8(line, maxMessageLength))
	}
}

func (b *builder) records() []FailureRecord {
	seen := make(map[string]struct{})
	var out []FailureRecord
	for _, tc := range b.order {
		if len(tc.errors) == 0 && tc.header != "" {
			tc.errors = []string{tc.header}
		}
		if len(tc.errors) == 0 {
			continue
		}
		msg := truncateUTF8(strings.Join(tc.errors, "\n"), maxMessageLength)
		key := tc.name + "\x00" + msg
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, FailureRecord{
			Framework:    b.m.Framework,
			RawSignature: tc.errors[0],
			TestName:     tc.name,
			ErrorMessage: msg,
			Timestamp:    tc.ts,
		})
	}
	return out
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// cleanLine strips the runner timestamp, workflow command prefixes and ANSI
// escapes. The timestamp is returned when present.
func cleanLine(raw string) (time.Time, string) {
	var ts time.Time
	text := strings.TrimRight(raw, "\r")
	if m := timestampPattern.FindStringSubmatch(text); m != nil {
		if parsed, err := time.Parse(time.RFC3339Nano, m[1]); err == nil {
			ts = parsed
		}
		text = text[len(m[0]):]
	}
	text = ansiPattern.ReplaceAllString(text, "")
	text = workflowCmdPattern.ReplaceAllString(text, "")
	return ts, text
}

// trimName removes surrounding whitespace, trailing colons and the
// box-drawing rulers some reporters append to headings.
func trimName(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "─═-: "))
}
