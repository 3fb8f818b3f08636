package inmemory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-azure-servicebus/adapters/inmemory"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendAll(t *testing.T, b *inmemory.Broker, entity string, msgs ...*broker.Message) {
	t.Helper()

	s, err := b.NewSender(entity)
	require.NoError(t, err)

	bt, err := s.NewBatch(t.Context())
	require.NoError(t, err)

	for _, m := range msgs {
		require.NoError(t, bt.Add(m))
	}

	require.NoError(t, s.SendBatch(t.Context(), bt))
}

// collect runs handle for every message delivered from queue until the test ends.
func collect(t *testing.T, b *inmemory.Broker, queue string, opts broker.ProcessorOptions, handle func(*broker.ReceivedMessage)) {
	t.Helper()

	p, err := b.NewProcessor(queue, opts)
	require.NoError(t, err)

	require.NoError(t, p.Start(t.Context(), func(ctx context.Context, m *broker.ReceivedMessage) error {
		handle(m)
		return nil
	}, func(context.Context, error) {}))

	t.Cleanup(func() { _ = p.Close(context.Background()) })
}

func TestInmemory_AdminExistsAndNotFound(t *testing.T) {
	b := inmemory.New()
	ctx := t.Context()

	q, err := b.GetQueue(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, q)

	require.NoError(t, b.CreateQueue(ctx, "q", broker.QueueProperties{MaxDeliveryCount: 3}))
	require.ErrorIs(t, b.CreateQueue(ctx, "q", broker.QueueProperties{}), berr.ErrEntityExists)

	require.NoError(t, b.CreateTopic(ctx, "t"))
	require.ErrorIs(t, b.CreateTopic(ctx, "t"), berr.ErrEntityExists)
	require.ErrorIs(t, b.DeleteSubscription(ctx, "t", "missing"), berr.ErrEntityNotFound)

	sub, err := b.GetSubscription(ctx, "t", "missing")
	require.NoError(t, err)
	assert.Nil(t, sub)

	assert.Equal(t, 2, b.Calls(inmemory.OpCreateQueue))
}

func TestInmemory_BatchLimit(t *testing.T) {
	b := inmemory.New(inmemory.WithMaxBatchBytes(100))
	require.NoError(t, b.CreateQueue(t.Context(), "q", broker.QueueProperties{}))

	s, err := b.NewSender("q")
	require.NoError(t, err)

	bt, err := s.NewBatch(t.Context())
	require.NoError(t, err)

	require.NoError(t, bt.Add(&broker.Message{MessageID: "1", Body: make([]byte, 60)}))
	require.ErrorIs(t, bt.Add(&broker.Message{MessageID: "2", Body: make([]byte, 60)}), berr.ErrMessageTooLarge)
	assert.Equal(t, 1, bt.Len())
	assert.Equal(t, 61, bt.SizeInBytes())

	missing, err := b.NewSender("nope")
	require.NoError(t, err)

	_, err = missing.NewBatch(t.Context())
	require.ErrorIs(t, err, berr.ErrEntityNotFound)
}

func TestInmemory_TopicForwardsToSubscribedQueues(t *testing.T) {
	b := inmemory.New()
	ctx := t.Context()

	require.NoError(t, b.CreateQueue(ctx, "a", broker.QueueProperties{}))
	require.NoError(t, b.CreateQueue(ctx, "b", broker.QueueProperties{}))
	require.NoError(t, b.CreateTopic(ctx, "events"))
	require.NoError(t, b.CreateSubscription(ctx, "events", "a", broker.SubscriptionProperties{ForwardTo: "a"}))
	require.NoError(t, b.CreateSubscription(ctx, "events", "b", broker.SubscriptionProperties{ForwardTo: "b"}))

	sendAll(t, b, "events", &broker.Message{MessageID: "e1"})

	assert.Len(t, b.Messages("a"), 1)
	assert.Len(t, b.Messages("b"), 1)
}

func TestInmemory_ScheduledMessageIsDeliveredLater(t *testing.T) {
	b := inmemory.New()
	require.NoError(t, b.CreateQueue(t.Context(), "q", broker.QueueProperties{}))

	at := time.Now().Add(150 * time.Millisecond)
	sendAll(t, b, "q", &broker.Message{MessageID: "later", ScheduledEnqueueTime: &at})

	got := make(chan time.Time, 1)
	collect(t, b, "q", broker.ProcessorOptions{MaxConcurrentCalls: 1}, func(*broker.ReceivedMessage) { got <- time.Now() })

	select {
	case ts := <-got:
		assert.False(t, ts.Before(at), "delivered before its scheduled time")
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled message never delivered")
	}
}

func TestInmemory_AbandonRedeliversWithOverrides(t *testing.T) {
	b := inmemory.New()
	require.NoError(t, b.CreateQueue(t.Context(), "q", broker.QueueProperties{}))
	sendAll(t, b, "q", &broker.Message{MessageID: "m", Properties: map[string]any{"k": "v1"}})

	var (
		mu    sync.Mutex
		count int
	)

	done := make(chan *broker.ReceivedMessage, 1)

	collect(t, b, "q", broker.ProcessorOptions{MaxConcurrentCalls: 1}, func(m *broker.ReceivedMessage) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()

		if n == 1 {
			assert.NoError(t, m.Abandon(context.Background(), map[string]any{"k": "v2"}))
			return
		}

		assert.NoError(t, m.Complete(context.Background()))
		done <- m
	})

	select {
	case m := <-done:
		assert.Equal(t, "v2", m.Properties["k"])
		assert.Equal(t, uint32(2), m.DeliveryCount)
	case <-time.After(2 * time.Second):
		t.Fatal("message not redelivered")
	}

	assert.Equal(t, 0, b.InFlight("q"))
	assert.Empty(t, b.Messages("q"))
}

func TestInmemory_DeadLettersPastMaxDeliveryCount(t *testing.T) {
	b := inmemory.New()
	require.NoError(t, b.CreateQueue(t.Context(), "q", broker.QueueProperties{MaxDeliveryCount: 2}))
	sendAll(t, b, "q", &broker.Message{MessageID: "m"})

	collect(t, b, "q", broker.ProcessorOptions{MaxConcurrentCalls: 1}, func(m *broker.ReceivedMessage) {
		_ = m.Abandon(context.Background(), nil)
	})

	require.Eventually(t, func() bool { return b.DeadLettered("q") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, b.Calls(inmemory.OpAbandon))
}

func TestInmemory_SettleUnknownLock(t *testing.T) {
	b := inmemory.New()
	m := &broker.ReceivedMessage{MessageID: "x", LockToken: "nope", Settler: b}

	assert.ErrorIs(t, m.Complete(t.Context()), inmemory.ErrLockLost)
	assert.ErrorIs(t, m.Abandon(t.Context(), nil), inmemory.ErrLockLost)
}

func TestInmemory_SessionsAreDeliveredInOrderOneAtATime(t *testing.T) {
	b := inmemory.New()
	require.NoError(t, b.CreateQueue(t.Context(), "q", broker.QueueProperties{RequiresSession: true}))

	var msgs []*broker.Message
	for _, id := range []string{"a1", "b1", "a2", "b2", "a3"} {
		msgs = append(msgs, &broker.Message{MessageID: id, SessionID: id[:1]})
	}

	sendAll(t, b, "q", msgs...)

	var (
		mu  sync.Mutex
		got = map[string][]string{}
	)

	collect(t, b, "q", broker.ProcessorOptions{SessionsEnabled: true, MaxConcurrentSessions: 2}, func(m *broker.ReceivedMessage) {
		mu.Lock()
		got[m.SessionID] = append(got[m.SessionID], m.MessageID)
		mu.Unlock()

		assert.NoError(t, m.Complete(context.Background()))
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got["a"]) == 3 && len(got["b"]) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"a1", "a2", "a3"}, got["a"])
	assert.Equal(t, []string{"b1", "b2"}, got["b"])
}

func TestInmemory_PurgeKeepsScheduled(t *testing.T) {
	b := inmemory.New()
	require.NoError(t, b.CreateQueue(t.Context(), "q", broker.QueueProperties{}))

	at := time.Now().Add(time.Hour)
	sendAll(t, b, "q",
		&broker.Message{MessageID: "1"},
		&broker.Message{MessageID: "2"},
		&broker.Message{MessageID: "3", ScheduledEnqueueTime: &at},
	)

	n, err := b.Purge(t.Context(), "q")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, b.Messages("q"), 1)

	_, err = b.Purge(t.Context(), "missing")
	assert.ErrorIs(t, err, berr.ErrEntityNotFound)
}

func TestInmemory_FailNext(t *testing.T) {
	b := inmemory.New()
	boom := errors.New("boom")
	b.FailNext(inmemory.OpCreateTopic, boom, 1)

	require.ErrorIs(t, b.CreateTopic(t.Context(), "t"), boom)
	require.NoError(t, b.CreateTopic(t.Context(), "t"))
	assert.Equal(t, 2, b.Calls(inmemory.OpCreateTopic))
}
