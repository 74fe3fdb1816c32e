// Package notify delivers the final report of a recovery chain.
//
// Delivery is fire-and-forget: the Dispatcher bounds every notifier with a
// timeout, wraps failures in NotifierFailure, logs them and never returns
// them to the controller.
package notify

import (
	"context"
	"fmt"
	"strings"
)

// EventKind is the outcome a notification reports.
type EventKind string

// Event kinds.
const (
	EventSuccess    EventKind = "success"
	EventEscalation EventKind = "escalation"
)

// Report is the final state of a chain.
type Report struct {
	ChainID string `json:"chain_id"`
	// Iterations is the number of fix iterations that ran.
	Iterations         int    `json:"iterations"`
	MaxIterations      int    `json:"max_iterations"`
	LastClassification string `json:"last_classification"`
	Escalated          bool   `json:"escalated"`
	Reason             string `json:"reason,omitempty"`
	RunURL             string `json:"run_url,omitempty"`
}

// Message is the rendered notification.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Event is one notification.
type Event struct {
	Kind       EventKind `json:"kind"`
	Repository string    `json:"repository"`
	Branch     string    `json:"branch"`
	Report     Report    `json:"report"`
	Message    Message   `json:"message"`
}

// Notifier is one delivery transport.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// NotifierFailure wraps an error returned by a Notifier.
type NotifierFailure struct {
	Notifier string
	Err      error
}

func (e *NotifierFailure) Error() string {
	return fmt.Sprintf("notifier %s: %v", e.Notifier, e.Err)
}

func (e *NotifierFailure) Unwrap() error { return e.Err }

// Format renders the message for ev.
func Format(ev Event) Message {
	r := ev.Report
	where := ev.Repository
	if ev.Branch != "" {
		where += "@" + ev.Branch
	}

	var subject string
	if ev.Kind == EventSuccess {
		subject = fmt.Sprintf("[cirecover] %s recovered after %d fix iteration(s)", where, r.Iterations)
	} else {
		subject = fmt.Sprintf("[cirecover] %s escalated: %s", where, r.Reason)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chain: %s\n", r.ChainID)
	fmt.Fprintf(&b, "Iterations: %d of %d\n", r.Iterations, r.MaxIterations)
	classification := r.LastClassification
	if classification == "" {
		classification = "none"
	}
	fmt.Fprintf(&b, "Last classification: %s\n", classification)
	fmt.Fprintf(&b, "Escalated: %t\n", r.Escalated)
	if r.Escalated {
		fmt.Fprintf(&b, "Reason: %s\n", r.Reason)
	}
	if r.RunURL != "" {
		fmt.Fprintf(&b, "Run: %s\n", r.RunURL)
	}
	return Message{Subject: subject, Body: b.String()}
}
