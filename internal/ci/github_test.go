package ci

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGitHub(t *testing.T, mux *http.ServeMux) (*GitHubProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p, err := NewGitHubProvider(context.Background(), GitHubConfig{
		Owner:             "acme",
		Repo:              "web",
		Workflow:          "ci.yml",
		Token:             config.Secret("ghs_test"),
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		Burst:             100,
		RequestTimeout:    5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return p, srv
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewGitHubProvider_Validation(t *testing.T) {
	_, err := NewGitHubProvider(context.Background(), GitHubConfig{Token: "x"}, nil)
	assert.Error(t, err)

	_, err = NewGitHubProvider(context.Background(), GitHubConfig{Owner: "a", Repo: "b"}, nil)
	assert.Error(t, err, "missing token must be rejected")
}

func TestGitHubProvider_ListRuns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/actions/workflows/ci.yml/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("branch"))
		assert.Equal(t, "Bearer ghs_test", r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{
			"total_count": 2,
			"workflow_runs": []map[string]interface{}{
				{"id": 2, "head_branch": "main", "status": "in_progress", "run_started_at": "2026-05-01T12:01:00Z", "html_url": "https://example.test/runs/2"},
				{"id": 1, "head_branch": "main", "status": "completed", "conclusion": "failure", "created_at": "2026-05-01T11:00:00Z"},
			},
		})
	})
	p, _ := newTestGitHub(t, mux)

	runs, err := p.ListRuns(context.Background(), "main")

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(2), runs[0].ID)
	assert.Equal(t, StatusInProgress, runs[0].Status)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC), runs[0].StartedAt.UTC())
	assert.Equal(t, "https://example.test/runs/2", runs[0].URL)
	assert.Equal(t, ConclusionFailure, runs[1].Conclusion)
	assert.Equal(t, time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC), runs[1].StartedAt.UTC(), "falls back to created_at")
}

func TestGitHubProvider_GetRunAndJobs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/actions/runs/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"id": 7, "status": "completed", "conclusion": "failure"})
	})
	mux.HandleFunc("/repos/acme/web/actions/runs/8", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"message": "Not Found"})
	})
	mux.HandleFunc("/repos/acme/web/actions/runs/7/jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "latest", r.URL.Query().Get("filter"))
		writeJSON(w, map[string]interface{}{
			"total_count": 2,
			"jobs": []map[string]interface{}{
				{"id": 51, "name": "jest", "status": "completed", "conclusion": "failure"},
				{"id": 52, "name": "lint", "status": "completed", "conclusion": "success"},
			},
		})
	})
	p, _ := newTestGitHub(t, mux)
	ctx := context.Background()

	run, err := p.GetRun(ctx, 7)
	require.NoError(t, err)
	assert.True(t, run.Completed())
	assert.Equal(t, ConclusionFailure, run.Conclusion)

	jobs, err := p.GetJobs(ctx, 7)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "51", jobs[0].LogsRef)
	assert.Equal(t, ConclusionSuccess, jobs[1].Conclusion)

	_, err = p.GetRun(ctx, 8)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGitHubProvider_GetJobLogs(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/actions/jobs/51/logs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srvURL+"/raw/51", http.StatusFound)
	})
	mux.HandleFunc("/repos/acme/web/actions/jobs/52/logs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srvURL+"/raw/missing", http.StatusFound)
	})
	mux.HandleFunc("/raw/51", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "FAIL my-test\nAssertionError: expected 1 to equal 2\n")
	})
	mux.HandleFunc("/raw/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	p, srv := newTestGitHub(t, mux)
	srvURL = srv.URL
	ctx := context.Background()

	body, err := p.GetJobLogs(ctx, 51)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, body.Close())
	require.NoError(t, err)
	assert.Contains(t, string(data), "AssertionError")

	_, err = p.GetJobLogs(ctx, 52)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGone, apiErr.StatusCode)
}

func TestGitHubProvider_Dispatch(t *testing.T) {
	var got map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web/actions/workflows/ci.yml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})
	p, _ := newTestGitHub(t, mux)

	err := p.Dispatch(context.Background(), "main", map[string]interface{}{"chain_id": "c-1"})

	require.NoError(t, err)
	assert.Equal(t, "main", got["ref"])
	assert.Equal(t, map[string]interface{}{"chain_id": "c-1"}, got["inputs"])
}

func TestGitHubProvider_Verify(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/repos/acme/web", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]interface{}{"id": 1, "full_name": "acme/web"})
		})
		p, _ := newTestGitHub(t, mux)

		assert.NoError(t, p.Verify(context.Background()))
	})

	t.Run("rejected credentials", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/repos/acme/web", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"message": "Bad credentials"})
		})
		p, _ := newTestGitHub(t, mux)

		err := p.Verify(context.Background())
		assert.True(t, errors.Is(err, ErrInvalidCredentials))
	})

	t.Run("server error is not a credential failure", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/repos/acme/web", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		p, _ := newTestGitHub(t, mux)

		err := p.Verify(context.Background())
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalidCredentials))
		assert.True(t, IsRetryable(err))
	})
}
