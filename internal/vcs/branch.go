package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// CurrentBranch returns the branch checked out in the repository
// containing path.
//
// Returns ErrNotRepository outside a git work tree and ErrDetachedHead when
// HEAD points at a commit.
func CurrentBranch(path string) (string, error) {
	repo, _, err := openRepo(path)
	if err != nil {
		return "", err
	}
	return headBranch(repo)
}

// IsMainBranch reports whether branch is main or master.
func IsMainBranch(branch string) bool {
	return branch == "main" || branch == "master"
}

func headBranch(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn branch: HEAD is symbolic but has no commit yet.
			ref, rerr := repo.Storer.Reference(plumbing.HEAD)
			if rerr == nil && ref.Type() == plumbing.SymbolicReference && ref.Target().IsBranch() {
				return ref.Target().Short(), nil
			}
		}
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}
