package inmemory

import (
	"sort"
	"time"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

type queue struct {
	name     string
	props    broker.QueueProperties
	msgs     []*stored // waiting, ordered by seq
	dead     []*stored
	sessions map[string]bool // locked sessions
}

type stored struct {
	queue      string
	seq        int64
	msg        broker.Message
	enqueued   time.Time
	visibleAt  time.Time
	expiresAt  time.Time
	deliveries uint32
	lockToken  string
}

func newQueue(name string, props broker.QueueProperties) *queue {
	return &queue{name: name, props: props, sessions: make(map[string]bool)}
}

// enqueueLocked stores a copy of m in q. b.mu must be held.
func (b *Broker) enqueueLocked(q *queue, m *broker.Message, now time.Time) {
	b.seq++

	s := &stored{
		queue:     q.name,
		seq:       b.seq,
		msg:       *m,
		enqueued:  now,
		visibleAt: now,
	}

	s.msg.Properties = cloneProps(m.Properties)

	if m.ScheduledEnqueueTime != nil && m.ScheduledEnqueueTime.After(now) {
		s.visibleAt = *m.ScheduledEnqueueTime
	}

	ttl := m.TimeToLive
	if ttl == 0 {
		ttl = q.props.DefaultMessageTimeToLive
	}

	if ttl > 0 {
		s.expiresAt = s.visibleAt.Add(ttl)
	}

	q.msgs = append(q.msgs, s)
}

// requeueLocked puts s back at its original position. b.mu must be held.
func (q *queue) requeueLocked(s *stored) {
	i := sort.Search(len(q.msgs), func(i int) bool { return q.msgs[i].seq > s.seq })
	q.msgs = append(q.msgs, nil)
	copy(q.msgs[i+1:], q.msgs[i:])
	q.msgs[i] = s
}

// takeLocked removes and returns the first visible message accepted by match, dropping expired ones.
// It also reports the earliest time a scheduled message becomes visible. b.mu must be held.
func (q *queue) takeLocked(now time.Time, match func(*stored) bool) (*stored, time.Time) {
	var next time.Time

	kept := q.msgs[:0]

	var found *stored

	for _, s := range q.msgs {
		if !s.expiresAt.IsZero() && !now.Before(s.expiresAt) {
			continue
		}

		if found == nil && !s.visibleAt.After(now) && match(s) {
			found = s
			continue
		}

		if s.visibleAt.After(now) && (next.IsZero() || s.visibleAt.Before(next)) {
			next = s.visibleAt
		}

		kept = append(kept, s)
	}

	for i := len(kept); i < len(q.msgs); i++ {
		q.msgs[i] = nil
	}

	q.msgs = kept

	return found, next
}
