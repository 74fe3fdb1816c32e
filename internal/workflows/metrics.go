package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/cirecover/internal/workflows"

// Metrics for the recovery chain activity
var (
	chainExecutionCounter metric.Int64Counter
	chainDuration         metric.Float64Histogram
	activityErrorCounter  metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	chainExecutionCounter, err = meter.Int64Counter(
		"cirecover.workflows.chain.executions",
		metric.WithDescription("Recovery chain activity executions by terminal state"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create chain execution counter: %v", err))
	}

	chainDuration, err = meter.Float64Histogram(
		"cirecover.workflows.chain.duration",
		metric.WithDescription("Duration of recovery chain activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create chain duration histogram: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"cirecover.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}
