// Package classifier turns raw CI job logs into structured failure records.
//
// Classification is a pure function over log text. A Matcher scans lines: a
// framework-specific start marker opens a "current test" context and every
// following line that matches the error marker is attached to that context
// until the next start marker or the end of the log. Error lines seen before
// any start marker are attributed to a synthetic "unknown test" record so
// that failures are never silently dropped.
//
// Classify picks a matcher from the job name (Playwright, Vitest, Cypress or
// Jest). Jobs that match no known framework use the generic matcher, which
// keeps any line containing "Error" or "FAIL", and the result carries a
// ClassificationGap describing the fallback.
package classifier
