package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
)

// delivery is one pushed message waiting in the handoff queue.
// In session mode the push callback blocks on handled so a session yields one message at a time.
type delivery struct {
	msg     *broker.ReceivedMessage
	handled chan struct{}
	once    sync.Once
}

func (d *delivery) markHandled() {
	if d.handled == nil {
		return
	}

	d.once.Do(func() { close(d.handled) })
}

// pipeline turns the processor's push callbacks into pull-style Receive calls.
type pipeline struct {
	queue    string
	sessions bool
	ch       chan *delivery
	log      *slog.Logger
	metrics  *metrics
}

func newPipeline(queue string, capacity int, sessions bool, log *slog.Logger, m *metrics) *pipeline {
	return &pipeline{
		queue:    queue,
		sessions: sessions,
		ch:       make(chan *delivery, capacity),
		log:      log,
		metrics:  m,
	}
}

// push is the processor's message handler.
func (p *pipeline) push(ctx context.Context, rm *broker.ReceivedMessage) error {
	if rm.LockToken == "" {
		return fmt.Errorf("message %s on %q: %w", rm.MessageID, p.queue, berr.ErrMissingLockToken)
	}

	d := &delivery{msg: rm}
	if p.sessions {
		d.handled = make(chan struct{})
	}

	select {
	case p.ch <- d:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.metrics.received.WithLabelValues(p.queue).Inc()
	p.metrics.handoffDepth.WithLabelValues(p.queue).Set(float64(len(p.ch)))

	if d.handled == nil {
		return nil
	}

	select {
	case <-d.handled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onError is the processor's error handler. Delivery keeps going.
func (p *pipeline) onError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	level := slog.LevelWarn
	if errors.Is(err, berr.ErrMissingLockToken) {
		level = slog.LevelError
	}

	p.log.Log(ctx, level, "message delivery failed", "error", err)
}

// pull waits up to wait for the next delivery. It returns nil, nil when nothing arrived in time.
func (p *pipeline) pull(ctx context.Context, wait time.Duration) (*delivery, error) {
	select {
	case d := <-p.ch:
		return p.took(d), nil
	default:
	}

	if wait <= 0 {
		return nil, nil //nolint:nilnil // nothing pending is not an error
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case d := <-p.ch:
		return p.took(d), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil //nolint:nilnil // nothing pending is not an error
	}
}

func (p *pipeline) took(d *delivery) *delivery {
	p.metrics.handoffDepth.WithLabelValues(p.queue).Set(float64(len(p.ch)))
	return d
}

// Receive returns the next delivered message attached to uow, or nil when none arrived within
// Options.ReceiveTimeout. The message is completed when uow completes and abandoned when it aborts.
func (t *Transport) Receive(ctx context.Context, uow *ctr.UnitOfWork) (*ctr.TransportMessage, error) {
	if t.pipeline == nil {
		return nil, fmt.Errorf("receive: %w", berr.ErrSendOnly)
	}

	d, err := t.pipeline.pull(ctx, t.opts.ReceiveTimeout)
	if err != nil || d == nil {
		return nil, err
	}

	rm := d.msg
	msg := fromReceived(rm)

	t.locks.track(rm.MessageID, rm.LockToken)
	uow.Attach(rm, msg)

	uow.OnComplete(func(ctx context.Context) error {
		if uow.Received() != rm {
			return nil
		}

		if err := rm.Complete(ctx); err != nil {
			return settleError("complete", rm, err)
		}

		uow.Detach()
		t.locks.release(rm.MessageID)
		t.metrics.settled.WithLabelValues(t.inputQueue, "complete").Inc()
		d.markHandled()

		return nil
	})

	uow.OnAbort(func(ctx context.Context) error {
		if uow.Received() != rm {
			return nil
		}

		if err := rm.Abandon(ctx, headersToProperties(msg.Headers)); err != nil {
			return settleError("abandon", rm, err)
		}

		uow.Detach()
		t.metrics.settled.WithLabelValues(t.inputQueue, "abandon").Inc()
		d.markHandled()

		return nil
	})

	uow.OnDispose(func(context.Context) {
		t.locks.release(rm.MessageID)
		d.markHandled()
	})

	return msg, nil
}

func settleError(op string, rm *broker.ReceivedMessage, err error) error {
	return fmt.Errorf("%s message %s (lock token %s): %w", op, rm.MessageID, rm.LockToken,
		errors.Join(berr.ErrSettleFailed, err))
}
