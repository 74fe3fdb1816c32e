package ci

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/cirecover/internal/classifier"
	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultMaxLogBytes caps how much of a single job log is classified.
const DefaultMaxLogBytes int64 = 32 * 1024 * 1024

// Retriever streams the logs of failed jobs into the classifier.
type Retriever struct {
	provider    Provider
	clock       clock.Clock
	retry       *Retrier
	maxLogBytes int64
	logger      *zap.Logger

	failuresCounter metric.Int64Counter
	gapsCounter     metric.Int64Counter
}

// NewRetriever creates a Retriever. maxLogBytes <= 0 uses DefaultMaxLogBytes.
func NewRetriever(provider Provider, c clock.Clock, retry RetryConfig, maxLogBytes int64, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLogBytes <= 0 {
		maxLogBytes = DefaultMaxLogBytes
	}
	r := &Retriever{
		provider:    provider,
		clock:       c,
		retry:       NewRetrier(retry, c, logger),
		maxLogBytes: maxLogBytes,
		logger:      logger,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	r.failuresCounter, err = meter.Int64Counter(
		"cirecover.classifier.failures_total",
		metric.WithDescription("Failure records extracted from job logs"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		logger.Warn("failed to create failures counter", zap.Error(err))
	}
	r.gapsCounter, err = meter.Int64Counter(
		"cirecover.classifier.gaps_total",
		metric.WithDescription("Job logs classified by the generic matcher"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		logger.Warn("failed to create gaps counter", zap.Error(err))
	}
	return r
}

// Failures classifies every failed job of run. A job whose log cannot be
// fetched is skipped and reported in the joined error; records from the
// other jobs are still returned.
func (r *Retriever) Failures(ctx context.Context, run *WorkflowRun) ([]classifier.FailureRecord, error) {
	var (
		records []classifier.FailureRecord
		errs    []error
	)

	for _, job := range run.FailedJobs() {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		recs, err := r.classifyJob(ctx, job)
		if err != nil {
			r.logger.Warn("failed to classify job log",
				zap.Int64("run.id", run.ID),
				zap.String("job", job.Name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("job %q: %w", job.Name, err))
		}
		records = append(records, recs...)
	}

	r.logger.Info("classified failed jobs",
		zap.Int64("run.id", run.ID),
		zap.Int("jobs", len(run.FailedJobs())),
		zap.Int("failures", len(records)),
	)
	return records, errors.Join(errs...)
}

func (r *Retriever) classifyJob(ctx context.Context, job JobResult) ([]classifier.FailureRecord, error) {
	var body io.ReadCloser
	err := r.retry.Do(ctx, "get job logs", func(ctx context.Context) error {
		var err error
		body, err = r.provider.GetJobLogs(ctx, job.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	res := classifier.Classify(job.Name, io.LimitReader(body, r.maxLogBytes))

	now := r.clock.Now()
	for i := range res.Records {
		if res.Records[i].Timestamp.IsZero() {
			res.Records[i].Timestamp = now
		}
	}

	attrs := metric.WithAttributes(attribute.String("framework", res.Framework))
	if r.failuresCounter != nil {
		r.failuresCounter.Add(ctx, int64(len(res.Records)), attrs)
	}
	if res.Gap != nil {
		if r.gapsCounter != nil {
			r.gapsCounter.Add(ctx, 1)
		}
		r.logger.Info("classification gap", zap.String("job", job.Name), zap.Int("records", res.Gap.Records))
	}
	if res.Err != nil {
		return res.Records, fmt.Errorf("reading log: %w", res.Err)
	}
	return res.Records, nil
}
