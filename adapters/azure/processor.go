package azure

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/cenkalti/backoff/v4"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

// sessionIdleTimeout is how long an accepted session may stay empty before it is released.
const sessionIdleTimeout = 10 * time.Second

// processor pushes messages of one queue to a handler. Non-session mode runs one receive loop with at
// most MaxConcurrentCalls callbacks in flight; session mode runs MaxConcurrentSessions session loops.
type processor struct {
	sb    *azservicebus.Client
	queue string
	opts  broker.ProcessorOptions
	log   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ broker.Processor = (*processor)(nil)

func (p *processor) Start(ctx context.Context, onMessage broker.MessageHandler, onError broker.ErrorHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("azure: processor already started")
	}

	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	if p.opts.SessionsEnabled {
		for range max(p.opts.MaxConcurrentSessions, 1) {
			p.wg.Add(1)

			go func() {
				defer p.wg.Done()
				p.runSessions(ctx, onMessage, onError)
			}()
		}

		return nil
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.run(ctx, onMessage, onError)
	}()

	return nil
}

// Close stops receiving and waits for running callbacks to return.
func (p *processor) Close(context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	p.wg.Wait()

	return nil
}

func (p *processor) reconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	b.Reset()

	return b
}

// pause waits d or until ctx is done and reports whether to continue.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *processor) run(ctx context.Context, onMessage broker.MessageHandler, onError broker.ErrorHandler) {
	bo := p.reconnectBackoff()

	var receiver *azservicebus.Receiver

	defer func() {
		if receiver != nil {
			_ = receiver.Close(context.WithoutCancel(ctx))
		}
	}()

	slots := make(chan struct{}, max(p.opts.MaxConcurrentCalls, 1))

	for {
		if receiver == nil {
			r, err := p.sb.NewReceiverForQueue(p.queue, nil)
			if err != nil {
				onError(ctx, classify(p.queue, err))

				if !pause(ctx, bo.NextBackOff()) {
					return
				}

				continue
			}

			receiver = r
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		msgs, err := receiver.ReceiveMessages(ctx, 1, nil)
		if err != nil {
			<-slots

			if ctx.Err() != nil {
				return
			}

			onError(ctx, classify(p.queue, err))

			if isCode(err, azservicebus.CodeConnectionLost) {
				p.log.WarnContext(ctx, "receiver connection lost, reconnecting")
				_ = receiver.Close(context.WithoutCancel(ctx))
				receiver = nil
			}

			if !pause(ctx, bo.NextBackOff()) {
				return
			}

			continue
		}

		bo.Reset()

		if len(msgs) == 0 {
			<-slots
			continue
		}

		link := receiver

		for _, m := range msgs {
			p.wg.Add(1)

			go func() {
				defer p.wg.Done()
				defer func() { <-slots }()

				s := &settler{link: link, raw: m, queue: p.queue}
				s.stopFn = renewLock(ctx, p.opts.MaxAutoLockRenewalDuration,
					func() time.Time { return deref(m.LockedUntil) },
					func(ctx context.Context) error { return link.RenewMessageLock(ctx, m, nil) },
					func(ctx context.Context, err error) { onError(ctx, classify(p.queue, err)) })

				if err := onMessage(ctx, toReceived(m, s)); err != nil {
					onError(ctx, err)
				}
			}()
		}
	}
}

func (p *processor) runSessions(ctx context.Context, onMessage broker.MessageHandler, onError broker.ErrorHandler) {
	bo := p.reconnectBackoff()

	for ctx.Err() == nil {
		sr, err := p.sb.AcceptNextSessionForQueue(ctx, p.queue, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			// no session became available in time
			if isCode(err, azservicebus.CodeTimeout) {
				continue
			}

			onError(ctx, classify(p.queue, err))

			if !pause(ctx, bo.NextBackOff()) {
				return
			}

			continue
		}

		bo.Reset()
		p.drainSession(ctx, sr, onMessage, onError)
		_ = sr.Close(context.WithoutCancel(ctx))
	}
}

// drainSession delivers the messages of one session in order, one at a time, until it goes idle.
func (p *processor) drainSession(
	ctx context.Context,
	sr *azservicebus.SessionReceiver,
	onMessage broker.MessageHandler,
	onError broker.ErrorHandler,
) {
	log := p.log.With("session", sr.SessionID())

	stop := renewLock(ctx, p.opts.MaxAutoLockRenewalDuration, sr.LockedUntil,
		func(ctx context.Context) error { return sr.RenewSessionLock(ctx, nil) },
		func(ctx context.Context, err error) { onError(ctx, classify(p.queue, err)) })
	defer stop()

	for {
		rctx, cancel := context.WithTimeout(ctx, sessionIdleTimeout)
		msgs, err := sr.ReceiveMessages(rctx, 1, nil)
		cancel()

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				onError(ctx, classify(p.queue, err))
			}

			return
		}

		if len(msgs) == 0 {
			log.DebugContext(ctx, "session idle, releasing")
			return
		}

		for _, m := range msgs {
			if err := onMessage(ctx, toReceived(m, &settler{link: sr, raw: m, queue: p.queue})); err != nil {
				onError(ctx, err)
			}
		}
	}
}
