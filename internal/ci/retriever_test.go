package ci

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/cirecover/internal/classifier"
	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetriever_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("classifies only failed jobs and closes streams", func(t *testing.T) {
		fc := clock.NewFake(epoch)
		p := &fakeProvider{logs: map[int64]string{
			1: "FAIL my-test\nAssertionError: expected 1 to equal 2",
			2: "Error: should never be read",
		}}
		run := &WorkflowRun{ID: 10, Jobs: []JobResult{
			{ID: 1, Name: "jest", Conclusion: ConclusionFailure},
			{ID: 2, Name: "lint", Conclusion: ConclusionSuccess},
		}}
		r := NewRetriever(p, fc, fastRetry(), 0, nil)

		recs, err := r.Failures(ctx, run)

		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "jest", recs[0].JobName)
		assert.Equal(t, "my-test", recs[0].TestName)
		assert.Equal(t, epoch, recs[0].Timestamp)
		assert.Equal(t, 0, p.open())
	})

	t.Run("log is capped at max bytes", func(t *testing.T) {
		fc := clock.NewFake(epoch)
		log := "FAIL a\nError: first\n" + strings.Repeat("x", 100) + "\nError: beyond the cap"
		p := &fakeProvider{logs: map[int64]string{1: log}}
		run := &WorkflowRun{Jobs: []JobResult{{ID: 1, Name: "jest", Conclusion: ConclusionFailure}}}
		r := NewRetriever(p, fc, fastRetry(), 30, nil)

		recs, err := r.Failures(ctx, run)

		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.NotContains(t, recs[0].ErrorMessage, "beyond the cap")
	})

	t.Run("unreadable job is reported and others continue", func(t *testing.T) {
		fc := clock.NewFake(epoch)
		p := &fakeProvider{
			logs:    map[int64]string{2: "FAIL b\nTypeError: nope"},
			logErrs: map[int64]error{1: errors.New("connection reset")},
		}
		run := &WorkflowRun{Jobs: []JobResult{
			{ID: 1, Name: "jest-a", Conclusion: ConclusionFailure},
			{ID: 2, Name: "jest-b", Conclusion: ConclusionFailure},
		}}
		r := NewRetriever(p, fc, fastRetry(), 0, nil)

		recs, err := r.Failures(ctx, run)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "jest-a")
		var tfe *TransientFetchError
		assert.ErrorAs(t, err, &tfe)
		require.Len(t, recs, 1)
		assert.Equal(t, "b", recs[0].TestName)
	})

	t.Run("no failed jobs yields nothing", func(t *testing.T) {
		r := NewRetriever(&fakeProvider{}, clock.NewFake(epoch), fastRetry(), 0, nil)

		recs, err := r.Failures(ctx, &WorkflowRun{Jobs: []JobResult{{ID: 1, Conclusion: ConclusionSuccess}}})

		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("generic fallback still yields records", func(t *testing.T) {
		p := &fakeProvider{logs: map[int64]string{1: "make: *** Error 2"}}
		run := &WorkflowRun{Jobs: []JobResult{{ID: 1, Name: "build", Conclusion: ConclusionFailure}}}
		r := NewRetriever(p, clock.NewFake(epoch), fastRetry(), 0, nil)

		recs, err := r.Failures(ctx, run)

		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, classifier.FrameworkGeneric, recs[0].Framework)
		assert.Equal(t, classifier.UnknownTest, recs[0].TestName)
	})

}
