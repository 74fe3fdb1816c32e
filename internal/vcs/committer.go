package vcs

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/cirecover/internal/atomicfile"
	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// TokenFunc returns the credential for one push. An empty token pushes
// without authentication, which is what local and SSH remotes need.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken returns a TokenFunc that always yields token.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

// Config configures a Committer.
type Config struct {
	Path        string
	Remote      string
	Branch      string
	AuthorName  string
	AuthorEmail string
	// Username accompanies the token in HTTP basic auth.
	Username string
	Token    TokenFunc
	// MarkerPath is relative to the work tree root.
	MarkerPath string
	// GitBinary runs the rebase. Defaults to "git".
	GitBinary string
	// Exclude lists paths that are never staged. A relative entry is
	// resolved against the process working directory, like any other
	// file path, and every file whose path starts with it is skipped, so
	// "knowledge.db" also covers its -wal and -shm companions.
	Exclude []string
}

// PushResult reports what CommitAndPush did.
type PushResult struct {
	Pushed bool
	Commit string
}

// Committer stages, commits and pushes the work tree.
type Committer struct {
	cfg     Config
	root    string
	exclude []string
	repo   *git.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// Open opens the repository containing cfg.Path.
func Open(cfg Config, c clock.Clock, logger *zap.Logger) (*Committer, error) {
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}
	if cfg.Token == nil {
		cfg.Token = StaticToken("")
	}
	if cfg.Username == "" {
		cfg.Username = "x-access-token"
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo, root, err := openRepo(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Branch == "" {
		if cfg.Branch, err = headBranch(repo); err != nil {
			return nil, err
		}
	}
	return &Committer{
		cfg:     cfg,
		root:    root,
		exclude: excludePrefixes(root, cfg.Exclude),
		repo:    repo,
		clock:   c,
		logger:  logger,
	}, nil
}

// excludePrefixes turns cfg.Exclude into slash paths relative to root.
// Entries outside the work tree are dropped.
func excludePrefixes(root string, paths []string) []string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	var out []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func (c *Committer) excluded(path string) bool {
	for _, prefix := range c.exclude {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// pending returns the changed paths that may be committed, sorted.
func (c *Committer) pending(status git.Status) []string {
	var paths []string
	for path, fs := range status {
		if fs.Worktree == git.Unmodified && fs.Staging == git.Unmodified {
			continue
		}
		if c.excluded(path) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func openRepo(path string) (*git.Repository, string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, "", fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("opening work tree: %w", err)
	}
	return repo, wt.Filesystem.Root(), nil
}

// Root returns the work tree root.
func (c *Committer) Root() string { return c.root }

// Branch returns the branch commits are pushed to.
func (c *Committer) Branch() string { return c.cfg.Branch }

// Head returns the hash of the current HEAD commit.
func (c *Committer) Head() (string, error) {
	ref, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// BumpMarker rewrites the version marker so the next commit always has a
// diff. It returns the marker's path relative to the work tree root.
func (c *Committer) BumpMarker(chainID string, iteration int) (string, error) {
	rel := c.cfg.MarkerPath
	if rel == "" {
		rel = ".cirecover/version"
	}
	path := filepath.Join(c.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating marker directory: %w", err)
	}
	content := fmt.Sprintf("chain: %s\niteration: %d\nbumped_at: %s\n",
		chainID, iteration, c.clock.Now().UTC().Format("2006-01-02T15:04:05.000000000Z"))
	if err := atomicfile.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing marker: %w", err)
	}
	return rel, nil
}

// CommitAndPush stages every change outside the excluded paths, commits
// it with message and pushes the branch. A work tree with nothing to stage
// returns Pushed == false without creating a commit. The index is restored if staging succeeds but the commit does
// not happen.
func (c *Committer) CommitAndPush(ctx context.Context, message string) (PushResult, error) {
	var res PushResult

	wt, err := c.repo.Worktree()
	if err != nil {
		return res, fmt.Errorf("opening work tree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return res, fmt.Errorf("reading status: %w", err)
	}
	paths := c.pending(status)
	if len(paths) == 0 {
		c.logger.Info("work tree clean; nothing to commit")
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for _, path := range paths {
		if err := wt.AddWithOptions(&git.AddOptions{Path: path}); err != nil {
			c.unstage(wt)
			return res, fmt.Errorf("staging %s: %w", path, err)
		}
	}
	if err := ctx.Err(); err != nil {
		c.unstage(wt)
		return res, err
	}

	sig := c.signature()
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		c.unstage(wt)
		return res, fmt.Errorf("committing: %w", err)
	}
	res.Commit = hash.String()
	c.logger.Info("committed changes",
		zap.String("commit", res.Commit),
		zap.Int("files", len(paths)))

	err = c.push(ctx)
	if err != nil && isNonFastForward(err) {
		c.logger.Warn("push rejected as non-fast-forward; rebasing once",
			zap.String("branch", c.cfg.Branch))
		if rerr := c.pullRebase(ctx); rerr != nil {
			return res, &CommitConflictError{Remote: c.cfg.Remote, Branch: c.cfg.Branch, Err: rerr}
		}
		if res.Commit, err = c.Head(); err != nil {
			return res, err
		}
		err = c.push(ctx)
		if err != nil && isNonFastForward(err) {
			return res, &CommitConflictError{Remote: c.cfg.Remote, Branch: c.cfg.Branch, Err: err}
		}
	}
	if err != nil {
		return res, fmt.Errorf("pushing %s: %w", c.cfg.Branch, err)
	}

	res.Pushed = true
	c.logger.Info("pushed changes",
		zap.String("commit", res.Commit),
		zap.String("remote", c.cfg.Remote),
		zap.String("branch", c.cfg.Branch))
	return res, nil
}

func (c *Committer) signature() *object.Signature {
	return &object.Signature{
		Name:  c.cfg.AuthorName,
		Email: c.cfg.AuthorEmail,
		When:  c.clock.Now(),
	}
}

func (c *Committer) unstage(wt *git.Worktree) {
	if err := wt.Reset(&git.ResetOptions{Mode: git.MixedReset}); err != nil {
		c.logger.Warn("failed to unstage changes", zap.Error(err))
	}
}

// Verify lists the remote's references with the push credential.
func (c *Committer) Verify(ctx context.Context) error {
	auth, err := c.auth(ctx)
	if err != nil {
		return err
	}
	remote, err := c.repo.Remote(c.cfg.Remote)
	if err != nil {
		return fmt.Errorf("remote %s: %w", c.cfg.Remote, err)
	}
	_, err = remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	switch {
	case err == nil, errors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	default:
		return fmt.Errorf("listing remote %s: %w", c.cfg.Remote, err)
	}
}

func (c *Committer) auth(ctx context.Context) (transport.AuthMethod, error) {
	token, err := c.cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining push credential: %w", err)
	}
	if token == "" {
		return nil, nil
	}
	return &githttp.BasicAuth{Username: c.cfg.Username, Password: token}, nil
}

func (c *Committer) push(ctx context.Context) error {
	auth, err := c.auth(ctx)
	if err != nil {
		return err
	}

	ref := plumbing.NewBranchReferenceName(c.cfg.Branch)
	err = c.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: c.cfg.Remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// pullRebase replays the local commit on top of the remote branch. The
// credential reaches git through GIT_CONFIG_* variables of the child
// process only.
func (c *Committer) pullRebase(ctx context.Context) error {
	token, err := c.cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining push credential: %w", err)
	}

	env := append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME="+c.cfg.AuthorName,
		"GIT_AUTHOR_EMAIL="+c.cfg.AuthorEmail,
		"GIT_COMMITTER_NAME="+c.cfg.AuthorName,
		"GIT_COMMITTER_EMAIL="+c.cfg.AuthorEmail,
	)
	if token != "" {
		basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + token))
		env = append(env,
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=http.extraheader",
			"GIT_CONFIG_VALUE_0=AUTHORIZATION: basic "+basic,
		)
	}

	out, err := c.git(ctx, env, "pull", "--rebase", "--no-autostash", c.cfg.Remote, c.cfg.Branch)
	if err != nil {
		if _, abortErr := c.git(context.WithoutCancel(ctx), env, "rebase", "--abort"); abortErr != nil {
			c.logger.Debug("rebase abort", zap.Error(abortErr))
		}
		return fmt.Errorf("pull --rebase: %w: %s", err, redact(out, token))
	}

	// The CLI wrote objects behind go-git's back.
	repo, _, err := openRepo(c.root)
	if err != nil {
		return err
	}
	c.repo = repo
	return nil
}

func (c *Committer) git(ctx context.Context, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.cfg.GitBinary, args...)
	cmd.Dir = c.root
	cmd.Env = env
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

func isNonFastForward(err error) bool {
	if errors.Is(err, git.ErrNonFastForwardUpdate) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") ||
		strings.Contains(msg, "fetch first") ||
		strings.Contains(msg, "failed to update ref")
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "[REDACTED]")
}
