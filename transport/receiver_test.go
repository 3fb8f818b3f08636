package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-azure-servicebus/adapters/inmemory"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceive_CompleteSettlesAndReleasesLock(t *testing.T) {
	b := inmemory.New()
	tr := startTransport(t, b, Options{InputQueue: "q"})
	require.NoError(t, sendCommitted(t, tr, "q", body("hello")))

	uow := ctr.NewUnitOfWork()
	msg := receiveNext(t, tr, uow)

	assert.Equal(t, "hello", string(msg.Body))
	assert.Equal(t, 1, tr.locks.len())

	tok, ok := tr.locks.token(msg.Headers[ctr.HeaderMessageID])
	require.True(t, ok)
	assert.Equal(t, uow.Received().LockToken, tok)

	require.NoError(t, uow.Commit(t.Context()))
	require.NoError(t, uow.Complete(t.Context()))
	uow.Dispose(t.Context())

	assert.Equal(t, 1, b.Calls(inmemory.OpComplete))
	assert.Equal(t, 0, b.Calls(inmemory.OpAbandon))
	assert.Nil(t, uow.Received())
	assert.Equal(t, 0, tr.locks.len())
	assert.Equal(t, 0, b.InFlight("q"))
}

func TestReceive_AbortAbandonsWithCurrentHeaders(t *testing.T) {
	b := inmemory.New()
	tr := startTransport(t, b, Options{InputQueue: "q"})
	require.NoError(t, sendCommitted(t, tr, "q", body("retry me")))

	uow := ctr.NewUnitOfWork()
	msg := receiveNext(t, tr, uow)
	msg.Headers["error-details"] = "handler failed"

	require.NoError(t, uow.Abort(t.Context()))
	uow.Dispose(t.Context())

	assert.Equal(t, 1, b.Calls(inmemory.OpAbandon))
	assert.Equal(t, 0, b.Calls(inmemory.OpComplete))
	assert.Equal(t, 0, tr.locks.len())

	again := ctr.NewUnitOfWork()
	defer again.Dispose(t.Context())

	redelivered := receiveNext(t, tr, again)
	assert.Equal(t, "handler failed", redelivered.Headers["error-details"])
	assert.Equal(t, uint32(2), again.Received().DeliveryCount)
	require.NoError(t, again.Complete(t.Context()))
}

func TestReceive_DetachedMessageIsNotSettled(t *testing.T) {
	b := inmemory.New()
	tr := startTransport(t, b, Options{InputQueue: "q"})
	require.NoError(t, sendCommitted(t, tr, "q", body("mine")))

	uow := ctr.NewUnitOfWork()
	receiveNext(t, tr, uow)

	rm := uow.Detach()
	require.NotNil(t, rm)

	require.NoError(t, uow.Complete(t.Context()))
	require.NoError(t, uow.Abort(t.Context()))
	uow.Dispose(t.Context())

	assert.Equal(t, 0, b.Calls(inmemory.OpComplete))
	assert.Equal(t, 0, b.Calls(inmemory.OpAbandon))
	require.NoError(t, rm.Complete(t.Context()))
}

func TestReceive_SettleFailureKeepsMessageAttached(t *testing.T) {
	b := inmemory.New()
	tr := startTransport(t, b, Options{InputQueue: "q"})
	require.NoError(t, sendCommitted(t, tr, "q", body("x")))

	uow := ctr.NewUnitOfWork()
	msg := receiveNext(t, tr, uow)
	lockToken := uow.Received().LockToken

	b.FailNext(inmemory.OpComplete, errors.New("lock expired"), 1)

	err := uow.Complete(t.Context())
	require.ErrorIs(t, err, berr.ErrSettleFailed)
	assert.Contains(t, err.Error(), msg.Headers[ctr.HeaderMessageID])
	assert.Contains(t, err.Error(), lockToken)
	assert.NotNil(t, uow.Received())

	require.NoError(t, uow.Abort(t.Context()))
	uow.Dispose(t.Context())
	assert.Equal(t, 0, tr.locks.len())
}

func TestReceive_TimeoutAndCancellation(t *testing.T) {
	tr := startTransport(t, inmemory.New(), Options{InputQueue: "q"})

	msg, err := tr.Receive(t.Context(), ctr.NewUnitOfWork())
	require.NoError(t, err)
	assert.Nil(t, msg)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	tr.opts.ReceiveTimeout = time.Minute

	msg, err = tr.Receive(ctx, ctr.NewUnitOfWork())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, msg)
}

func TestReceive_SendOnly(t *testing.T) {
	tr := newTransport(t, inmemory.New(), Options{})

	_, err := tr.Receive(t.Context(), ctr.NewUnitOfWork())
	require.ErrorIs(t, err, berr.ErrSendOnly)
}

func TestPipeline_RejectsMissingLockToken(t *testing.T) {
	p := newPipeline("q", 1, false, quietLogger(), defaultMetrics())

	err := p.push(t.Context(), &broker.ReceivedMessage{MessageID: "m"})
	require.ErrorIs(t, err, berr.ErrMissingLockToken)
	assert.Empty(t, p.ch)
}

func TestPipeline_PushBlocksWhenFull(t *testing.T) {
	p := newPipeline("q", 1, false, quietLogger(), defaultMetrics())

	require.NoError(t, p.push(t.Context(), &broker.ReceivedMessage{MessageID: "1", LockToken: "t1"}))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err := p.push(ctx, &broker.ReceivedMessage{MessageID: "2", LockToken: "t2"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	d, err := p.pull(t.Context(), 0)
	require.NoError(t, err)
	assert.Equal(t, "1", d.msg.MessageID)
}

func TestPipeline_SessionPushWaitsUntilHandled(t *testing.T) {
	p := newPipeline("q", 1, true, quietLogger(), defaultMetrics())

	returned := make(chan error, 1)

	go func() {
		returned <- p.push(t.Context(), &broker.ReceivedMessage{MessageID: "1", LockToken: "t1"})
	}()

	d, err := p.pull(t.Context(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)

	select {
	case <-returned:
		t.Fatal("push returned before the message was handled")
	case <-time.After(50 * time.Millisecond):
	}

	d.markHandled()
	d.markHandled()

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not return after the message was handled")
	}
}

func TestReceive_SessionsKeepOrderAndOneMessageAtATime(t *testing.T) {
	b := inmemory.New()
	tr := startTransport(t, b, Options{InputQueue: "q", SessionsEnabled: true, MaxParallelism: 2})

	props, err := b.GetQueue(t.Context(), "q")
	require.NoError(t, err)
	assert.True(t, props.RequiresSession)

	var msgs []*ctr.TransportMessage
	for _, id := range []string{"s-1", "s-2", "s-3"} {
		msgs = append(msgs, &ctr.TransportMessage{
			Headers: ctr.Headers{ctr.HeaderMessageID: id, ctr.HeaderSessionID: "s"},
			Body:    []byte(id),
		})
	}

	require.NoError(t, sendCommitted(t, tr, "q", msgs...))

	first := ctr.NewUnitOfWork()
	got := receiveNext(t, tr, first)
	assert.Equal(t, "s-1", string(got.Body))
	assert.Equal(t, "s", got.Headers[ctr.HeaderSessionID])

	// the session is busy until s-1 is handled
	idle, err := tr.Receive(t.Context(), ctr.NewUnitOfWork())
	require.NoError(t, err)
	assert.Nil(t, idle)

	require.NoError(t, first.Complete(t.Context()))
	first.Dispose(t.Context())

	for _, want := range []string{"s-2", "s-3"} {
		uow := ctr.NewUnitOfWork()
		got := receiveNext(t, tr, uow)
		assert.Equal(t, want, string(got.Body))
		require.NoError(t, uow.Complete(t.Context()))
		uow.Dispose(t.Context())
	}
}

func TestFromReceived(t *testing.T) {
	rm := &broker.ReceivedMessage{
		MessageID: "id-1",
		SessionID: "s",
		Subject:   "OrderPlaced",
		Properties: map[string]any{
			ctr.HeaderDeferredUntil:     "2030-01-01T00:00:00Z",
			ctr.HeaderDeferredRecipient: "q",
			"attempt":                   int64(3),
			ctr.HeaderType:              "explicit",
		},
	}

	msg := fromReceived(rm)

	assert.Equal(t, ctr.Headers{
		ctr.HeaderMessageID: "id-1",
		ctr.HeaderSessionID: "s",
		ctr.HeaderType:      "explicit",
		"attempt":           "3",
	}, msg.Headers)
}

func TestToBrokerMessage(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 5, 6, time.UTC)

	bm, err := toBrokerMessage(&ctr.TransportMessage{Headers: ctr.Headers{
		ctr.HeaderMessageID:        "id",
		ctr.HeaderDeferredUntil:    ctr.FormatTime(at),
		ctr.HeaderTimeToBeReceived: "90s",
		ctr.HeaderCorrelationID:    "c",
		ctr.HeaderContentType:      "application/json",
		ctr.HeaderType:             "OrderPlaced",
		ctr.HeaderSessionID:        "s",
	}})
	require.NoError(t, err)

	assert.Equal(t, "id", bm.MessageID)
	require.NotNil(t, bm.ScheduledEnqueueTime)
	assert.True(t, bm.ScheduledEnqueueTime.Equal(at))
	assert.Equal(t, 90*time.Second, bm.TimeToLive)
	assert.Equal(t, "c", bm.CorrelationID)
	assert.Equal(t, "application/json", bm.ContentType)
	assert.Equal(t, "OrderPlaced", bm.Subject)
	assert.Equal(t, "s", bm.SessionID)
	assert.Len(t, bm.Properties, 7)

	_, err = toBrokerMessage(&ctr.TransportMessage{Headers: ctr.Headers{ctr.HeaderDeferredUntil: "tomorrow"}})
	require.Error(t, err)
}
