package classifier

import (
	"fmt"
	"time"
)

// Framework names.
const (
	FrameworkJest       = "jest"
	FrameworkPlaywright = "playwright"
	FrameworkCypress    = "cypress"
	FrameworkVitest     = "vitest"
	FrameworkGeneric    = "generic"
)

// UnknownTest names the synthetic record that collects error lines seen
// before any start marker.
const UnknownTest = "unknown test"

// FailureRecord is one failing test extracted from a job log.
type FailureRecord struct {
	JobName      string    `json:"job_name"`
	Framework    string    `json:"framework"`
	RawSignature string    `json:"raw_signature"`
	TestName     string    `json:"test_name"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// ClassificationGap reports that a job log was not recognized by any
// framework matcher and was classified by the generic matcher instead.
// It is informational and never fatal.
type ClassificationGap struct {
	JobName string
	Records int
}

func (g *ClassificationGap) Error() string {
	return fmt.Sprintf("no framework matcher for job %q; generic matcher extracted %d records", g.JobName, g.Records)
}

// Result is the outcome of classifying one job log.
type Result struct {
	Framework string
	Records   []FailureRecord
	// Gap is set when the generic matcher was used.
	Gap *ClassificationGap
	// Err is set when the log could not be read to the end. Records parsed
	// before the error are still returned.
	Err error
}
