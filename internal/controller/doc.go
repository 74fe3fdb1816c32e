// Package controller drives one recovery chain through its states:
//
//	INIT -> TRIGGERED -> POLLING -> CLASSIFYING -> FIXING -> COMMITTING
//	     -> RETRIGGERED -> POLLING ... -> SUCCEEDED | ESCALATED
//
// Every transition is checked against a fixed table. Component errors are
// mapped to escalation reasons here, at the controller boundary, and the
// chain ends with exactly one notification.
//
// Waits observe cancellation immediately. The mutating states (INIT,
// FIXING, COMMITTING) run to completion on a detached context so that a
// cancelled chain never leaves a half-applied fix or a partial commit.
package controller
