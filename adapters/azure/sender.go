package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

type sender struct {
	s      *azservicebus.Sender
	entity string
}

type batch struct {
	b *azservicebus.MessageBatch
}

func (s *sender) NewBatch(ctx context.Context) (broker.Batch, error) { //nolint:ireturn
	b, err := s.s.NewMessageBatch(ctx, nil)
	if err != nil {
		return nil, classify(s.entity, err)
	}

	return &batch{b: b}, nil
}

func (s *sender) SendBatch(ctx context.Context, b broker.Batch) error {
	ab, ok := b.(*batch)
	if !ok {
		return fmt.Errorf("azure: foreign batch type %T", b)
	}

	return classify(s.entity, s.s.SendMessageBatch(ctx, ab.b, nil))
}

func (s *sender) Close(ctx context.Context) error { return s.s.Close(ctx) }

func (b *batch) Add(m *broker.Message) error {
	return classify("", b.b.AddMessage(toSBMessage(m), nil))
}

func (b *batch) Len() int { return int(b.b.NumMessages()) }

func (b *batch) SizeInBytes() int { return int(b.b.NumBytes()) } //nolint:gosec // batch sizes are small

func toSBMessage(m *broker.Message) *azservicebus.Message {
	out := &azservicebus.Message{
		Body:                  m.Body,
		ApplicationProperties: m.Properties,
		ScheduledEnqueueTime:  m.ScheduledEnqueueTime,
		MessageID:             optional(m.MessageID),
		SessionID:             optional(m.SessionID),
		CorrelationID:         optional(m.CorrelationID),
		ContentType:           optional(m.ContentType),
		Subject:               optional(m.Subject),
	}

	if m.TimeToLive > 0 {
		ttl := m.TimeToLive
		out.TimeToLive = &ttl
	}

	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
