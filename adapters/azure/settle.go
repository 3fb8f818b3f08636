package azure

import (
	"context"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

// messageLink is the settlement surface shared by Receiver and SessionReceiver.
type messageLink interface {
	CompleteMessage(ctx context.Context, m *azservicebus.ReceivedMessage, o *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, m *azservicebus.ReceivedMessage, o *azservicebus.AbandonMessageOptions) error
}

// settler settles one message on the link it arrived on and stops its lock renewal.
type settler struct {
	link   messageLink
	raw    *azservicebus.ReceivedMessage
	queue  string
	mu     sync.Mutex
	stopFn func()
}

var _ broker.Settler = (*settler)(nil)

func (s *settler) stopRenewal() {
	s.mu.Lock()
	stop := s.stopFn
	s.stopFn = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *settler) Complete(ctx context.Context, _ *broker.ReceivedMessage) error {
	s.stopRenewal()

	return classify(s.queue, s.link.CompleteMessage(ctx, s.raw, nil))
}

func (s *settler) Abandon(ctx context.Context, _ *broker.ReceivedMessage, properties map[string]any) error {
	s.stopRenewal()

	return classify(s.queue, s.link.AbandonMessage(ctx, s.raw, &azservicebus.AbandonMessageOptions{
		PropertiesToModify: properties,
	}))
}

func toReceived(m *azservicebus.ReceivedMessage, s broker.Settler) *broker.ReceivedMessage {
	rm := &broker.ReceivedMessage{
		MessageID:     m.MessageID,
		Body:          m.Body,
		Properties:    m.ApplicationProperties,
		SessionID:     deref(m.SessionID),
		CorrelationID: deref(m.CorrelationID),
		ContentType:   deref(m.ContentType),
		Subject:       deref(m.Subject),
		DeliveryCount: m.DeliveryCount,
		EnqueuedTime:  deref(m.EnqueuedTime),
		Settler:       s,
	}

	if m.LockToken != ([16]byte{}) {
		rm.LockToken = uuid.UUID(m.LockToken).String()
	}

	if rm.Properties == nil {
		rm.Properties = map[string]any{}
	}

	return rm
}

