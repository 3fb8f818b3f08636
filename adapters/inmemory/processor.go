package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

// processor delivers messages of one queue to a handler. In session mode every worker owns one
// session at a time and delivers its messages one by one. Locks do not expire.
type processor struct {
	b     *Broker
	queue string
	opts  broker.ProcessorOptions

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (b *Broker) NewProcessor(queue string, opts broker.ProcessorOptions) (broker.Processor, error) { //nolint:ireturn
	b.mu.Lock()
	_, ok := b.queues[queue]
	b.mu.Unlock()

	if !ok {
		return nil, notFound(queue)
	}

	return &processor{b: b, queue: queue, opts: opts}, nil
}

func (p *processor) Start(ctx context.Context, onMessage broker.MessageHandler, onError broker.ErrorHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("inmemory: processor already started")
	}

	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	workers := p.opts.MaxConcurrentCalls
	if p.opts.SessionsEnabled {
		workers = p.opts.MaxConcurrentSessions
	}

	workers = max(workers, 1)

	for range workers {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			if p.opts.SessionsEnabled {
				p.runSessions(ctx, onMessage, onError)
			} else {
				p.run(ctx, onMessage, onError)
			}
		}()
	}

	return nil
}

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

func (p *processor) run(ctx context.Context, onMessage broker.MessageHandler, onError broker.ErrorHandler) {
	for {
		rm, err := p.b.receive(ctx, p.queue, func(*queue, *stored) bool { return true }, nil)
		if err != nil {
			if ctx.Err() == nil {
				onError(ctx, err)
			}

			return
		}

		if err := onMessage(ctx, rm); err != nil {
			onError(ctx, err)
		}
	}
}

func (p *processor) runSessions(ctx context.Context, onMessage broker.MessageHandler, onError broker.ErrorHandler) {
	for {
		var session string

		rm, err := p.b.receive(ctx, p.queue,
			func(q *queue, s *stored) bool { return !q.sessions[s.msg.SessionID] },
			func(q *queue, s *stored) {
				session = s.msg.SessionID
				q.sessions[session] = true
			})
		if err != nil {
			if ctx.Err() == nil {
				onError(ctx, err)
			}

			return
		}

		for rm != nil {
			if err := onMessage(ctx, rm); err != nil {
				onError(ctx, err)
			}

			if ctx.Err() != nil {
				break
			}

			rm = p.b.tryReceive(p.queue, func(_ *queue, s *stored) bool { return s.msg.SessionID == session })
		}

		p.b.releaseSession(p.queue, session)
	}
}

// receive blocks until a visible message accepted by match is locked, or ctx is done.
// claim runs under the broker lock right after the message was taken.
func (b *Broker) receive(ctx context.Context, queue string, match func(*queue, *stored) bool, claim func(*queue, *stored)) (*broker.ReceivedMessage, error) {
	for {
		b.mu.Lock()

		q, ok := b.queues[queue]
		if !ok {
			b.mu.Unlock()
			return nil, notFound(queue)
		}

		s, next := q.takeLocked(time.Now(), func(s *stored) bool { return match(q, s) })
		if s != nil {
			if claim != nil {
				claim(q, s)
			}

			rm := b.lockLocked(s)
			b.mu.Unlock()

			return rm, nil
		}

		changed := b.changed
		b.mu.Unlock()

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)

		if !next.IsZero() {
			timer = time.NewTimer(time.Until(next))
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
		case <-changed:
		case <-timeout:
		}

		if timer != nil {
			timer.Stop()
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// tryReceive locks the first visible message accepted by match, or returns nil.
func (b *Broker) tryReceive(queue string, match func(*queue, *stored) bool) *broker.ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil
	}

	s, _ := q.takeLocked(time.Now(), func(s *stored) bool { return match(q, s) })
	if s == nil {
		return nil
	}

	return b.lockLocked(s)
}

func (b *Broker) releaseSession(queue, session string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[queue]; ok {
		delete(q.sessions, session)
	}

	b.notifyLocked()
}

// lockLocked marks s delivered under a fresh lock token. b.mu must be held.
func (b *Broker) lockLocked(s *stored) *broker.ReceivedMessage {
	s.lockToken = uuid.NewString()
	s.deliveries++
	b.locks[s.lockToken] = s

	return &broker.ReceivedMessage{
		MessageID:     s.msg.MessageID,
		Body:          s.msg.Body,
		Properties:    cloneProps(s.msg.Properties),
		LockToken:     s.lockToken,
		SessionID:     s.msg.SessionID,
		CorrelationID: s.msg.CorrelationID,
		ContentType:   s.msg.ContentType,
		Subject:       s.msg.Subject,
		DeliveryCount: s.deliveries,
		EnqueuedTime:  s.enqueued,
		Settler:       b,
	}
}

// Complete removes a locked message for good.
func (b *Broker) Complete(_ context.Context, m *broker.ReceivedMessage) error {
	if err := b.hit(OpComplete); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.locks[m.LockToken]; !ok {
		return fmt.Errorf("complete %s: %w", m.MessageID, ErrLockLost)
	}

	delete(b.locks, m.LockToken)
	b.notifyLocked()

	return nil
}

// Abandon unlocks a message and puts it back at its position with properties overridden.
// Past the queue's MaxDeliveryCount it is dead-lettered instead.
func (b *Broker) Abandon(_ context.Context, m *broker.ReceivedMessage, properties map[string]any) error {
	if err := b.hit(OpAbandon); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.locks[m.LockToken]
	if !ok {
		return fmt.Errorf("abandon %s: %w", m.MessageID, ErrLockLost)
	}

	delete(b.locks, m.LockToken)
	s.lockToken = ""

	for k, v := range properties {
		s.msg.Properties[k] = v
	}

	if q, ok := b.queues[s.queue]; ok {
		if q.props.MaxDeliveryCount > 0 && s.deliveries >= uint32(q.props.MaxDeliveryCount) { //nolint:gosec // positive
			q.dead = append(q.dead, s)
		} else {
			q.requeueLocked(s)
		}
	}

	b.notifyLocked()

	return nil
}

// Purge removes every visible, unlocked message of queue. Scheduled messages stay.
func (b *Broker) Purge(_ context.Context, queue string) (int, error) {
	if err := b.hit(OpPurge); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return 0, notFound(queue)
	}

	n := 0
	now := time.Now()

	for {
		s, _ := q.takeLocked(now, func(*stored) bool { return true })
		if s == nil {
			return n, nil
		}

		n++
	}
}
