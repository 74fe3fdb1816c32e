package ci

import (
	"context"
	"io"
	"strings"
	"sync"
)

// fakeProvider scripts GetRun responses and serves static jobs and logs.
type fakeProvider struct {
	mu sync.Mutex

	runs      []*WorkflowRun // returned in order by GetRun; the last one repeats
	runErrs   []error        // consumed before runs
	listed    [][]WorkflowRun
	listErrs  []error
	jobs      []JobResult
	logs      map[int64]string
	logErrs   map[int64]error
	getCalls  int
	listCalls int
	openLogs  int
}

func (f *fakeProvider) ListRuns(ctx context.Context, branch string) ([]WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	if len(f.listed) == 0 {
		return nil, nil
	}
	out := f.listed[0]
	if len(f.listed) > 1 {
		f.listed = f.listed[1:]
	}
	return out, nil
}

func (f *fakeProvider) GetRun(ctx context.Context, runID int64) (*WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if len(f.runErrs) > 0 {
		err := f.runErrs[0]
		f.runErrs = f.runErrs[1:]
		return nil, err
	}
	run := *f.runs[0]
	if len(f.runs) > 1 {
		f.runs = f.runs[1:]
	}
	return &run, nil
}

func (f *fakeProvider) GetJobs(ctx context.Context, runID int64) ([]JobResult, error) {
	return f.jobs, nil
}

func (f *fakeProvider) GetJobLogs(ctx context.Context, jobID int64) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.logErrs[jobID]; err != nil {
		return nil, err
	}
	f.openLogs++
	return &trackingCloser{Reader: strings.NewReader(f.logs[jobID]), provider: f}, nil
}

func (f *fakeProvider) Dispatch(ctx context.Context, ref string, inputs map[string]interface{}) error {
	return nil
}

func (f *fakeProvider) Verify(ctx context.Context) error { return nil }

func (f *fakeProvider) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openLogs
}

type trackingCloser struct {
	io.Reader
	provider *fakeProvider
}

func (c *trackingCloser) Close() error {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.provider.openLogs--
	return nil
}

var _ Provider = (*fakeProvider)(nil)
