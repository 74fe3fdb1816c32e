package ci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/config"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// GitHubConfig configures the GitHub Actions provider.
type GitHubConfig struct {
	Owner    string
	Repo     string
	Workflow string // workflow file name, e.g. "ci.yml"; empty lists every workflow
	Token    config.Secret

	// BaseURL overrides the API endpoint (GitHub Enterprise or tests).
	BaseURL string

	// RequestsPerSecond and Burst configure the token bucket pacing API calls.
	RequestsPerSecond float64
	Burst             int

	// RequestTimeout bounds each API call and each log download.
	RequestTimeout time.Duration

	// PerPage is the page size for run listings.
	PerPage int
}

func (c *GitHubConfig) applyDefaults() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PerPage <= 0 {
		c.PerPage = 20
	}
}

// GitHubProvider implements Provider on the GitHub Actions REST API.
type GitHubProvider struct {
	client   *github.Client
	download *http.Client
	limiter  *rate.Limiter
	config   GitHubConfig
	logger   *zap.Logger
}

// NewGitHubClient creates a GitHub client authenticated with token.
func NewGitHubClient(ctx context.Context, token config.Secret) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc), nil
}

// NewGitHubProvider creates a provider for cfg.Owner/cfg.Repo.
func NewGitHubProvider(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHubProvider, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("GitHub owner and repo are required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := NewGitHubClient(ctx, cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHubProvider{
		client:   client,
		download: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		config:   cfg,
		logger:   logger,
	}, nil
}

// call paces and bounds a single API request.
func (p *GitHubProvider) call(ctx context.Context, op string, fn func(ctx context.Context) (*github.Response, error)) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	resp, err := fn(callCtx)
	if err != nil {
		return toAPIError(op, resp, err)
	}
	return nil
}

// toAPIError annotates a go-github error with status and rate-limit details.
func toAPIError(op string, resp *github.Response, err error) error {
	apiErr := &APIError{Op: op, Err: err}
	if resp != nil && resp.Response != nil {
		apiErr.StatusCode = resp.StatusCode
		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0) {
			apiErr.RateLimited = true
			apiErr.ResetAt = resp.Rate.Reset.Time
		}
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		apiErr.RateLimited = true
		apiErr.ResetAt = rle.Rate.Reset.Time
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		apiErr.RateLimited = true
		if d := abuse.GetRetryAfter(); d > 0 {
			apiErr.ResetAt = time.Now().Add(d)
		}
	}
	return apiErr
}

// ListRuns implements Provider.
func (p *GitHubProvider) ListRuns(ctx context.Context, branch string) ([]WorkflowRun, error) {
	opts := &github.ListWorkflowRunsOptions{
		Branch:      branch,
		ListOptions: github.ListOptions{PerPage: p.config.PerPage},
	}

	var runs *github.WorkflowRuns
	err := p.call(ctx, "list runs", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		if p.config.Workflow != "" {
			runs, resp, err = p.client.Actions.ListWorkflowRunsByFileName(ctx, p.config.Owner, p.config.Repo, p.config.Workflow, opts)
		} else {
			runs, resp, err = p.client.Actions.ListRepositoryWorkflowRuns(ctx, p.config.Owner, p.config.Repo, opts)
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]WorkflowRun, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, convertRun(r))
	}
	return out, nil
}

// GetRun implements Provider.
func (p *GitHubProvider) GetRun(ctx context.Context, runID int64) (*WorkflowRun, error) {
	var run *github.WorkflowRun
	err := p.call(ctx, "get run", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		run, resp, err = p.client.Actions.GetWorkflowRunByID(ctx, p.config.Owner, p.config.Repo, runID)
		return resp, err
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
		}
		return nil, err
	}
	converted := convertRun(run)
	return &converted, nil
}

// GetJobs implements Provider.
func (p *GitHubProvider) GetJobs(ctx context.Context, runID int64) ([]JobResult, error) {
	opts := &github.ListWorkflowJobsOptions{
		Filter:      "latest",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []JobResult
	for {
		var jobs *github.Jobs
		var next int
		err := p.call(ctx, "list jobs", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			jobs, resp, err = p.client.Actions.ListWorkflowJobs(ctx, p.config.Owner, p.config.Repo, runID, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, j := range jobs.Jobs {
			out = append(out, JobResult{
				ID:         j.GetID(),
				Name:       j.GetName(),
				Status:     j.GetStatus(),
				Conclusion: j.GetConclusion(),
				LogsRef:    strconv.FormatInt(j.GetID(), 10),
			})
		}
		if next == 0 {
			return out, nil
		}
		opts.Page = next
	}
}

// GetJobLogs implements Provider. The returned stream is read directly from
// the signed download URL; nothing is buffered.
func (p *GitHubProvider) GetJobLogs(ctx context.Context, jobID int64) (io.ReadCloser, error) {
	var logURL *url.URL
	err := p.call(ctx, "get job log url", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		logURL, resp, err = p.client.Actions.GetWorkflowJobLogs(ctx, p.config.Owner, p.config.Repo, jobID, 2)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("download job log: rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building log request: %w", err)
	}
	resp, err := p.download.Do(req)
	if err != nil {
		return nil, &APIError{Op: "download job log", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &APIError{Op: "download job log", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return resp.Body, nil
}

// Dispatch implements Provider.
func (p *GitHubProvider) Dispatch(ctx context.Context, ref string, inputs map[string]interface{}) error {
	if p.config.Workflow == "" {
		return fmt.Errorf("dispatch requires a workflow file name")
	}
	event := github.CreateWorkflowDispatchEventRequest{Ref: ref, Inputs: inputs}
	return p.call(ctx, "dispatch workflow", func(ctx context.Context) (*github.Response, error) {
		return p.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, p.config.Owner, p.config.Repo, p.config.Workflow, event)
	})
}

// Verify implements Provider.
func (p *GitHubProvider) Verify(ctx context.Context) error {
	err := p.call(ctx, "verify credentials", func(ctx context.Context) (*github.Response, error) {
		_, resp, err := p.client.Repositories.Get(ctx, p.config.Owner, p.config.Repo)
		return resp, err
	})
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			if !apiErr.RateLimited {
				return fmt.Errorf("%w: %s/%s: %v", ErrInvalidCredentials, p.config.Owner, p.config.Repo, err)
			}
		}
	}
	return err
}

func convertRun(r *github.WorkflowRun) WorkflowRun {
	started := r.GetRunStartedAt().Time
	if started.IsZero() {
		started = r.GetCreatedAt().Time
	}
	return WorkflowRun{
		ID:         r.GetID(),
		Branch:     r.GetHeadBranch(),
		Status:     r.GetStatus(),
		Conclusion: r.GetConclusion(),
		StartedAt:  started,
		URL:        r.GetHTMLURL(),
	}
}

var _ Provider = (*GitHubProvider)(nil)
