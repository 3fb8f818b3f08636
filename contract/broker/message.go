package broker

import (
	"context"
	"time"
)

// Message is an outgoing broker message.
type Message struct {
	MessageID            string
	Body                 []byte
	Properties           map[string]any
	ScheduledEnqueueTime *time.Time
	SessionID            string
	CorrelationID        string
	ContentType          string
	Subject              string
	TimeToLive           time.Duration
}

// Settler settles a delivered message on the link it arrived on.
type Settler interface {
	Complete(ctx context.Context, m *ReceivedMessage) error
	// Abandon releases the lock so the message is redelivered, overriding the given properties.
	Abandon(ctx context.Context, m *ReceivedMessage, properties map[string]any) error
}

// ReceivedMessage is a message delivered under a peek-lock.
type ReceivedMessage struct {
	MessageID     string
	Body          []byte
	Properties    map[string]any
	LockToken     string
	SessionID     string
	CorrelationID string
	ContentType   string
	Subject       string
	DeliveryCount uint32
	EnqueuedTime  time.Time

	Settler Settler
}

// Complete removes the message from its queue.
func (m *ReceivedMessage) Complete(ctx context.Context) error {
	return m.Settler.Complete(ctx, m)
}

// Abandon makes the message available again, applying property overrides.
func (m *ReceivedMessage) Abandon(ctx context.Context, properties map[string]any) error {
	return m.Settler.Abandon(ctx, m, properties)
}
