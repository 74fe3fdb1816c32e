package notify

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/secrets"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one delivery.
const DefaultTimeout = 10 * time.Second

// Dispatcher fans an event out to every notifier.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	scrubber  *secrets.Scrubber
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher. A nil scrubber publishes messages as
// formatted.
func NewDispatcher(notifiers []Notifier, timeout time.Duration, scrubber *secrets.Scrubber, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout, scrubber: scrubber, logger: logger}
}

// Notifiers returns the configured transport names.
func (d *Dispatcher) Notifiers() []string {
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Dispatch delivers ev to every notifier concurrently and waits for them.
// The deliveries outlive cancellation of ctx, up to the timeout. Failures
// are logged and returned for inspection only.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) []*NotifierFailure {
	if ev.Message == (Message{}) {
		ev.Message = Format(ev)
	}
	ev.Message.Subject = d.scrubber.String(ev.Message.Subject)
	ev.Message.Body = d.scrubber.String(ev.Message.Body)
	ev.Report.LastClassification = d.scrubber.String(ev.Report.LastClassification)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		failures []*NotifierFailure
		wg       sync.WaitGroup
	)
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Notify(ctx, ev); err != nil {
				f := &NotifierFailure{Notifier: n.Name(), Err: err}
				d.logger.Warn("notification failed",
					zap.String("notifier", n.Name()),
					zap.String("kind", string(ev.Kind)),
					zap.Error(err))
				mu.Lock()
				failures = append(failures, f)
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	return failures
}
