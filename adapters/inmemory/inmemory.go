// Package inmemory is an in-process broker.Client for tests and examples.
//
// It keeps the broker behaviors the transport relies on: size-bounded batches, scheduled
// enqueue, topics fanning out through forward-to subscriptions, peek-lock delivery with lock
// tokens, abandon with property overrides, sessions and receive-and-delete purge.
// Every call is counted and faults can be injected per operation.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

// DefaultMaxBatchBytes matches the standard tier batch limit.
const DefaultMaxBatchBytes = 256 * 1024

// ErrLockLost is returned when settling a message whose lock token is unknown.
var ErrLockLost = errors.New("inmemory: lock lost")

// Op names a counted broker operation.
type Op string

const (
	OpGetQueue           Op = "GetQueue"
	OpCreateQueue        Op = "CreateQueue"
	OpUpdateQueue        Op = "UpdateQueue"
	OpTopicExists        Op = "TopicExists"
	OpCreateTopic        Op = "CreateTopic"
	OpGetSubscription    Op = "GetSubscription"
	OpCreateSubscription Op = "CreateSubscription"
	OpUpdateSubscription Op = "UpdateSubscription"
	OpDeleteSubscription Op = "DeleteSubscription"
	OpNewSender          Op = "NewSender"
	OpNewBatch           Op = "NewBatch"
	OpSendBatch          Op = "SendBatch"
	OpComplete           Op = "Complete"
	OpAbandon            Op = "Abandon"
	OpPurge              Op = "Purge"
)

// Option configures a Broker.
type Option func(*Broker)

// WithMaxBatchBytes sets the byte limit of every batch.
func WithMaxBatchBytes(n int) Option { return func(b *Broker) { b.maxBatchBytes = n } }

// Broker is the in-memory broker. The zero value is not usable; call New.
type Broker struct {
	mu      sync.Mutex
	queues  map[string]*queue
	topics  map[string]map[string]broker.SubscriptionProperties
	locks   map[string]*stored // lock token -> in-flight message
	changed chan struct{}      // closed and replaced on every change
	seq     int64

	maxBatchBytes int

	callsMu sync.Mutex
	calls   map[Op]int
	faults  map[Op][]error
}

var _ broker.Client = (*Broker)(nil)

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		queues:        make(map[string]*queue),
		topics:        make(map[string]map[string]broker.SubscriptionProperties),
		locks:         make(map[string]*stored),
		changed:       make(chan struct{}),
		maxBatchBytes: DefaultMaxBatchBytes,
		calls:         make(map[Op]int),
		faults:        make(map[Op][]error),
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// Calls returns how many times op was invoked.
func (b *Broker) Calls(op Op) int {
	b.callsMu.Lock()
	defer b.callsMu.Unlock()

	return b.calls[op]
}

// FailNext makes the next times invocations of op fail with err.
func (b *Broker) FailNext(op Op, err error, times int) {
	b.callsMu.Lock()
	defer b.callsMu.Unlock()

	for range times {
		b.faults[op] = append(b.faults[op], err)
	}
}

// hit counts an invocation of op and returns an injected fault, if any.
func (b *Broker) hit(op Op) error {
	b.callsMu.Lock()
	defer b.callsMu.Unlock()

	b.calls[op]++

	if f := b.faults[op]; len(f) > 0 {
		b.faults[op] = f[1:]
		return f[0]
	}

	return nil
}

// notifyLocked wakes every waiting receiver. b.mu must be held.
func (b *Broker) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Close is a no-op; the broker holds no connections.
func (b *Broker) Close(context.Context) error { return nil }

// Snapshot is a read-only view of a stored message.
type Snapshot struct {
	MessageID     string
	SessionID     string
	Properties    map[string]any
	VisibleAt     time.Time
	DeliveryCount uint32
	Locked        bool
}

// Messages returns the messages currently held by queue, in queue order, including
// scheduled and locked ones.
func (b *Broker) Messages(queue string) []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil
	}

	all := append([]*stored(nil), q.msgs...)
	for _, m := range b.locks {
		if m.queue == queue {
			all = append(all, m)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]Snapshot, 0, len(all))
	for _, m := range all {
		out = append(out, Snapshot{
			MessageID:     m.msg.MessageID,
			SessionID:     m.msg.SessionID,
			Properties:    cloneProps(m.msg.Properties),
			VisibleAt:     m.visibleAt,
			DeliveryCount: m.deliveries,
			Locked:        m.lockToken != "",
		})
	}

	return out
}

// InFlight returns the number of locked, unsettled messages of queue.
func (b *Broker) InFlight(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0

	for _, m := range b.locks {
		if m.queue == queue {
			n++
		}
	}

	return n
}

// DeadLettered returns the number of messages moved to the dead-letter sub-queue of queue.
func (b *Broker) DeadLettered(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[queue]; ok {
		return len(q.dead)
	}

	return 0
}

func cloneProps(p map[string]any) map[string]any {
	c := make(map[string]any, len(p))
	for k, v := range p {
		c[k] = v
	}

	return c
}

func notFound(entity string) error { return broker.NotFound(entity, nil) }

func exists(entity string) error { return broker.Exists(entity, nil) }
