// Package fixer applies best-effort text remediation to the working tree.
//
// An Applicator runs an ordered chain of Strategy implementations over a
// Workspace. Every strategy runs even when an earlier one fails or changes
// nothing; failures are reported in Result and never abort the chain.
// Strategies detect their defects on the tree itself; the recovery guide
// only adds names to look for.
//
//   - lint runs an external auto-fixer (eslint by default)
//   - known-defect replaces allow-listed literal tokens
//   - import-repair adds missing fs/path imports
//   - error-handling wraps top-level async functions in try/catch
//   - export-validation adds missing exports and run-if-main entry points
//
// All writes go through atomicfile, so a cancelled run never leaves a
// half-written file. A second ApplyFixes over an already repaired tree
// changes nothing and returns ErrFixNoOp.
package fixer
