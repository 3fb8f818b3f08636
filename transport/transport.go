package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/next-trace/scg-azure-servicebus/transport"

// Transport bridges the bus onto a broker.Client.
type Transport struct {
	client broker.Client
	opts   Options
	names  NameFormatter
	log    *slog.Logger

	address    string // own input address as given, "" when send-only
	inputQueue string // formatted input queue name

	senders *Cache[broker.Sender]
	topics  *Cache[string]

	pipeline  *pipeline
	locks     *lockRegistry
	processor broker.Processor
	procMu    sync.Mutex

	tracer     trace.Tracer
	propagator ctr.HeaderPropagator
	metrics    *metrics

	closeOnce sync.Once
	closeErr  error
}

var _ ctr.Transport = (*Transport)(nil)

// New builds a transport over client. It performs no I/O; call Initialize before receiving.
func New(client broker.Client, opts Options) (*Transport, error) {
	if client == nil {
		return nil, errors.New("transport: nil broker client")
	}

	opts.setDefaults()

	t := &Transport{
		client:     client,
		opts:       opts,
		names:      opts.NameFormatter,
		log:        opts.Logger,
		address:    opts.InputQueue,
		locks:      newLockRegistry(),
		propagator: opts.Propagator,
		metrics:    defaultMetrics(),
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	t.tracer = tp.Tracer(instrumentationName)

	t.senders = NewCache(func(ctx context.Context, s broker.Sender) error { return s.Close(ctx) })
	t.topics = NewCache[string](nil)

	if t.address != "" {
		name, err := t.queueName(t.address)
		if err != nil {
			return nil, err
		}

		t.inputQueue = name
		t.pipeline = newPipeline(name, opts.MaxParallelism, opts.SessionsEnabled, t.log, t.metrics)
		t.log = t.log.With("queue", name)
	}

	return t, nil
}

// Address returns the own input address, or "" for a send-only transport.
func (t *Transport) Address() string { return t.address }

// Initialize creates and checks the input queue, then starts delivery. ctx scopes the processor:
// cancelling it stops delivery. A send-only transport has nothing to initialize.
func (t *Transport) Initialize(ctx context.Context) error {
	if t.address == "" {
		t.log.InfoContext(ctx, "send-only transport initialized")
		return nil
	}

	if !t.opts.DoNotCreateQueues {
		if err := t.CreateQueue(ctx, t.address); err != nil {
			return err
		}
	}

	if !t.opts.DoNotCheckQueueConfiguration {
		if err := t.reconcileInputQueue(ctx); err != nil {
			return err
		}
	}

	return t.startProcessor(ctx)
}

func (t *Transport) startProcessor(ctx context.Context) error {
	t.procMu.Lock()
	defer t.procMu.Unlock()

	if t.processor != nil {
		return nil
	}

	p, err := t.client.NewProcessor(t.inputQueue, broker.ProcessorOptions{
		MaxConcurrentCalls:         t.opts.MaxParallelism,
		SessionsEnabled:            t.opts.SessionsEnabled,
		MaxConcurrentSessions:      t.opts.MaxParallelism,
		MaxAutoLockRenewalDuration: t.opts.MaxAutoLockRenewalDuration,
	})
	if err != nil {
		return fmt.Errorf("create processor for %q: %w", t.inputQueue, err)
	}

	if err := p.Start(ctx, t.pipeline.push, t.pipeline.onError); err != nil {
		return fmt.Errorf("start processor for %q: %w", t.inputQueue, err)
	}

	t.processor = p
	t.log.InfoContext(ctx, "transport started",
		"max_parallelism", t.opts.MaxParallelism, "sessions", t.opts.SessionsEnabled)

	return nil
}

// Close stops delivery and releases cached senders. The broker client stays open; it belongs to the caller.
func (t *Transport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		var errs []error

		t.procMu.Lock()
		p := t.processor
		t.processor = nil
		t.procMu.Unlock()

		if p != nil {
			if err := p.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close processor: %w", err))
			}
		}

		if err := t.senders.Close(ctx); err != nil {
			t.log.WarnContext(ctx, "closing senders failed", "error", err)
			errs = append(errs, err)
		}

		_ = t.topics.Close(ctx) //nolint:errcheck // no release function

		t.closeErr = errors.Join(errs...)
	})

	return t.closeErr
}

// Purge drains the queue of address and returns the number of removed messages.
func (t *Transport) Purge(ctx context.Context, address string) (int, error) {
	name, err := t.queueName(address)
	if err != nil {
		return 0, err
	}

	n, err := t.client.Purge(ctx, name)
	if err != nil {
		return n, fmt.Errorf("purge %q: %w", name, errors.Join(berr.ErrPurgeFailed, err))
	}

	t.log.InfoContext(ctx, "queue purged", "purged_queue", name, "count", n)

	return n, nil
}

func (t *Transport) queueName(address string) (string, error) {
	name := t.names.QueueName(address)
	if name == "" {
		return "", fmt.Errorf("address %q: %w", address, berr.ErrInvalidAddress)
	}

	return name, nil
}
