package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Send buffers message for destination in uow. Nothing is sent before uow commits.
// A nil uow sends immediately in a unit of work of its own.
func (t *Transport) Send(ctx context.Context, destination string, message *ctr.TransportMessage, uow *ctr.UnitOfWork) error {
	if message == nil {
		return errors.New("send: nil message")
	}

	resolved, err := t.resolveDestination(destination, message.Headers)
	if err != nil {
		return err
	}

	msg := &ctr.TransportMessage{Headers: message.Headers.Clone(), Body: message.Body}
	if msg.Headers[ctr.HeaderMessageID] == "" {
		msg.Headers[ctr.HeaderMessageID] = uuid.NewString()
	}

	t.propagator.Inject(ctx, msg.Headers)

	if uow == nil {
		uow = ctr.NewUnitOfWork()
		uow.Buffer(ctr.OutgoingMessage{Destination: resolved, Message: msg})

		return t.flush(uow)(ctx)
	}

	if uow.Buffer(ctr.OutgoingMessage{Destination: resolved, Message: msg}) {
		uow.OnCommit(t.flush(uow))
	}

	return nil
}

func (t *Transport) resolveDestination(destination string, h ctr.Headers) (string, error) {
	_, deferred := h[ctr.HeaderDeferredUntil]
	recipient := h[ctr.HeaderDeferredRecipient]

	switch {
	case deferred && destination == ctr.DeferredAddress:
		if recipient == "" {
			return "", fmt.Errorf("send to %s: %w", ctr.DeferredAddress, berr.ErrMissingDeferredRecipient)
		}

		return t.queueName(recipient)
	case recipient != "":
		return t.queueName(recipient)
	case strings.HasPrefix(destination, ctr.TopicPrefix):
		return destination, nil
	default:
		return t.queueName(destination)
	}
}

// flush returns the commit hook sending everything buffered in uow, one concurrent flush per destination.
func (t *Transport) flush(uow *ctr.UnitOfWork) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		outgoing := uow.TakeOutgoing()
		if len(outgoing) == 0 {
			return nil
		}

		var order []string

		groups := make(map[string][]*ctr.TransportMessage)

		for _, m := range outgoing {
			if _, ok := groups[m.Destination]; !ok {
				order = append(order, m.Destination)
			}

			groups[m.Destination] = append(groups[m.Destination], m.Message)
		}

		var (
			g    errgroup.Group
			mu   sync.Mutex
			errs []error
		)

		for _, dest := range order {
			g.Go(func() error {
				if err := t.sendTo(ctx, dest, groups[dest]); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}

				return nil
			})
		}

		_ = g.Wait() //nolint:errcheck // failures are collected above so every destination runs

		return errors.Join(errs...)
	}
}

func (t *Transport) sendTo(ctx context.Context, destination string, msgs []*ctr.TransportMessage) (err error) {
	entity := destination

	ctx, span := t.tracer.Start(ctx, "servicebus.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "servicebus"),
			attribute.String("messaging.destination.name", destination),
			attribute.Int("messaging.batch.message_count", len(msgs)),
		))

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.metrics.sendFailures.WithLabelValues(entity).Inc()
		}

		span.End()
	}()

	if topic, ok := strings.CutPrefix(destination, ctr.TopicPrefix); ok {
		entity = t.names.TopicName(topic)
		if entity == "" {
			return fmt.Errorf("topic %q: %w", topic, berr.ErrInvalidAddress)
		}

		if _, err := t.topics.Get(entity, func() (string, error) {
			return entity, t.ensureTopic(ctx, entity)
		}); err != nil {
			return sendError(entity, err)
		}
	}

	bms := make([]*broker.Message, 0, len(msgs))

	for _, m := range msgs {
		bm, err := toBrokerMessage(m)
		if err != nil {
			return sendError(entity, err)
		}

		bms = append(bms, bm)
	}

	sender, err := t.senders.Get(entity, func() (broker.Sender, error) { return t.client.NewSender(entity) })
	if err != nil {
		return sendError(entity, err)
	}

	batches, err := sendBatches(ctx, sender, entity, bms)
	t.metrics.batchesSent.WithLabelValues(entity).Add(float64(batches))

	if err != nil {
		return sendError(entity, err)
	}

	t.metrics.messagesSent.WithLabelValues(entity).Add(float64(len(bms)))
	span.SetAttributes(attribute.Int("messaging.batch.count", batches))

	return nil
}

// sendBatches packs msgs greedily into batches and sends each batch once full, in fill order.
// It returns the number of batches sent.
func sendBatches(ctx context.Context, sender broker.Sender, entity string, msgs []*broker.Message) (int, error) {
	var sent int

	batch, err := newBatch(ctx, sender, entity)
	if err != nil {
		return sent, err
	}

	for _, m := range msgs {
		err := batch.Add(m)
		if err == nil {
			continue
		}

		if !errors.Is(err, berr.ErrMessageTooLarge) || batch.Len() == 0 {
			return sent, tooLarge(m, err)
		}

		if err := sender.SendBatch(ctx, batch); err != nil {
			return sent, err
		}

		sent++

		if batch, err = newBatch(ctx, sender, entity); err != nil {
			return sent, err
		}

		if err := batch.Add(m); err != nil {
			return sent, tooLarge(m, err)
		}
	}

	if batch.Len() > 0 {
		if err := sender.SendBatch(ctx, batch); err != nil {
			return sent, err
		}

		sent++
	}

	return sent, nil
}

func newBatch(ctx context.Context, sender broker.Sender, entity string) (broker.Batch, error) {
	b, err := sender.NewBatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("create batch for %q: %w", entity, err)
	}

	return b, nil
}

func tooLarge(m *broker.Message, err error) error {
	if errors.Is(err, berr.ErrMessageTooLarge) {
		return fmt.Errorf("message %s (%d body bytes) does not fit an empty batch: %w", m.MessageID, len(m.Body), err)
	}

	return err
}

func sendError(entity string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("send to %q: %w", entity, errors.Join(berr.ErrSendFailed, err))
}
