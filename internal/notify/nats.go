package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubject prefixes the subjects events are published on.
const DefaultSubject = "cirecover.events"

// NATSNotifier publishes the event as JSON on <subject>.<kind>.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATS creates a NATSNotifier on an open connection.
func NewNATS(conn *nats.Conn, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

// Name implements Notifier.
func (n *NATSNotifier) Name() string { return "nats" }

// Subject returns the subject ev is published on.
func (n *NATSNotifier) Subject(kind EventKind) string {
	return n.subject + "." + string(kind)
}

// Notify implements Notifier. It returns once the server acknowledged the
// flush.
func (n *NATSNotifier) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := n.conn.Publish(n.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing event: %w", err)
	}
	return nil
}
