package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
)

type sender struct {
	b      *Broker
	entity string
}

type batch struct {
	max  int
	size int
	msgs []*broker.Message
}

func (b *Broker) NewSender(entity string) (broker.Sender, error) { //nolint:ireturn
	if err := b.hit(OpNewSender); err != nil {
		return nil, err
	}

	return &sender{b: b, entity: entity}, nil
}

func (s *sender) NewBatch(context.Context) (broker.Batch, error) { //nolint:ireturn
	if err := s.b.hit(OpNewBatch); err != nil {
		return nil, err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	_, isQueue := s.b.queues[s.entity]
	_, isTopic := s.b.topics[s.entity]

	if !isQueue && !isTopic {
		return nil, notFound(s.entity)
	}

	return &batch{max: s.b.maxBatchBytes}, nil
}

func (s *sender) SendBatch(_ context.Context, bt broker.Batch) error {
	if err := s.b.hit(OpSendBatch); err != nil {
		return err
	}

	mb, ok := bt.(*batch)
	if !ok {
		return fmt.Errorf("inmemory: foreign batch type %T", bt)
	}

	b := s.b
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var targets []*queue

	if q, ok := b.queues[s.entity]; ok {
		targets = append(targets, q)
	} else if subs, ok := b.topics[s.entity]; ok {
		for _, sub := range subs {
			if q, ok := b.queues[sub.ForwardTo]; ok {
				targets = append(targets, q)
			}
		}
	} else {
		return notFound(s.entity)
	}

	for _, q := range targets {
		for _, m := range mb.msgs {
			b.enqueueLocked(q, m, now)
		}
	}

	b.notifyLocked()

	return nil
}

func (s *sender) Close(context.Context) error { return nil }

func (bt *batch) Add(m *broker.Message) error {
	n := messageSize(m)
	if bt.size+n > bt.max {
		return fmt.Errorf("message %s (%d bytes) with %d of %d bytes used: %w",
			m.MessageID, n, bt.size, bt.max, berr.ErrMessageTooLarge)
	}

	bt.size += n
	bt.msgs = append(bt.msgs, m)

	return nil
}

func (bt *batch) Len() int { return len(bt.msgs) }

func (bt *batch) SizeInBytes() int { return bt.size }

// messageSize approximates the encoded size: body, system fields and string properties.
func messageSize(m *broker.Message) int {
	n := len(m.Body) + len(m.MessageID) + len(m.SessionID) + len(m.CorrelationID) + len(m.ContentType) + len(m.Subject)

	for k, v := range m.Properties {
		n += len(k) + len(fmt.Sprint(v))
	}

	return n
}
