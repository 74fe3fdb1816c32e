// Package vcs commits and pushes the recovery changes.
//
// The Committer works on an existing clone through go-git. Identity is
// passed on every commit instead of being written to git config, and the
// push credential is requested per call and only held in memory. A push
// rejected as non-fast-forward is rebased once with the git CLI, which
// go-git does not implement, and pushed once more.
package vcs
