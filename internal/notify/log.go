package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes the report to the structured log. It is always on.
type LogNotifier struct {
	Logger *zap.Logger
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	logger := n.Logger
	if logger == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("chain.id", ev.Report.ChainID),
		zap.String("kind", string(ev.Kind)),
		zap.Int("iterations", ev.Report.Iterations),
		zap.String("last_classification", ev.Report.LastClassification),
		zap.Bool("escalated", ev.Report.Escalated),
	}
	if ev.Report.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Report.Reason))
	}
	if ev.Kind == EventEscalation {
		logger.Warn(ev.Message.Subject, fields...)
	} else {
		logger.Info(ev.Message.Subject, fields...)
	}
	return nil
}
