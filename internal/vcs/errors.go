package vcs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRepository is returned when the path is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")

	// ErrDetachedHead is returned when HEAD does not point at a branch.
	ErrDetachedHead = errors.New("HEAD is detached")

	// ErrInvalidCredentials is returned when the remote rejects the push credential.
	ErrInvalidCredentials = errors.New("invalid source control credentials")
)

// CommitConflictError reports that the remote branch moved and the local
// commit could not be rebased onto it, or the retried push was rejected too.
type CommitConflictError struct {
	Remote string
	Branch string
	Err    error
}

func (e *CommitConflictError) Error() string {
	return fmt.Sprintf("push to %s/%s conflicted: %v", e.Remote, e.Branch, e.Err)
}

func (e *CommitConflictError) Unwrap() error { return e.Err }
