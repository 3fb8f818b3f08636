package azure

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresConnectionSettings(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, kindNotFound, kindOfCode(azservicebus.CodeNotFound))
	assert.Equal(t, kindTransient, kindOfCode(azservicebus.CodeConnectionLost))
	assert.Equal(t, kindTransient, kindOfCode(azservicebus.CodeTimeout))
	assert.Equal(t, kindOther, kindOfCode(azservicebus.CodeLockLost))

	assert.Equal(t, kindNotFound, kindOfStatus(http.StatusNotFound))
	assert.Equal(t, kindExists, kindOfStatus(http.StatusConflict))

	for _, s := range []int{408, 429, 500, 502, 503, 504} {
		assert.Equal(t, kindTransient, kindOfStatus(s), "status %d", s)
	}

	assert.Equal(t, kindOther, kindOfStatus(http.StatusUnauthorized))
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify("q", nil))

	err := classify("q", azservicebus.ErrMessageTooLarge)
	require.ErrorIs(t, err, berr.ErrMessageTooLarge)
	require.ErrorIs(t, err, azservicebus.ErrMessageTooLarge)

	plain := errors.New("unauthorized")
	assert.Equal(t, plain, classify("q", plain))
	assert.False(t, broker.IsTransient(classify("q", plain)))
}

func TestISODurations(t *testing.T) {
	assert.Nil(t, isoDuration(0))

	for _, d := range []time.Duration{30 * time.Second, 5 * time.Minute, 90 * time.Minute, 14 * 24 * time.Hour} {
		assert.Equal(t, d, parseISODuration(isoDuration(d)), "round trip of %s", d)
	}

	s := "PT1M"
	assert.Equal(t, time.Minute, parseISODuration(&s))

	never := "P10675199DT2H48M5.4775807S"
	assert.Zero(t, parseISODuration(&never))

	bad := "one minute"
	assert.Zero(t, parseISODuration(&bad))
	assert.Zero(t, parseISODuration(nil))
}

func TestQueuePropertiesMapping(t *testing.T) {
	in := broker.QueueProperties{
		EnablePartitioning:                  true,
		RequiresSession:                     true,
		RequiresDuplicateDetection:          true,
		DuplicateDetectionHistoryTimeWindow: 10 * time.Minute,
		LockDuration:                        time.Minute,
		DefaultMessageTimeToLive:            24 * time.Hour,
		AutoDeleteOnIdle:                    time.Hour,
		MaxDeliveryCount:                    100,
	}

	out := fromAdminQueue(*toAdminQueue(in))
	assert.Equal(t, in, out)

	defaults := toAdminQueue(broker.QueueProperties{})
	assert.Nil(t, defaults.LockDuration)
	assert.Nil(t, defaults.DuplicateDetectionHistoryTimeWindow)
	assert.Nil(t, defaults.MaxDeliveryCount)

	assert.Equal(t, broker.QueueProperties{}, fromAdminQueue(admin.QueueProperties{}))
}

func TestEntityName(t *testing.T) {
	assert.Equal(t, "app/orders", entityName("https://contoso.servicebus.windows.net/app/orders"))
	assert.Equal(t, "orders", entityName("sb://contoso.servicebus.windows.net/Orders/"))
	assert.Equal(t, "orders", entityName("orders"))
	assert.Empty(t, entityName(""))
}

func TestMessageMapping(t *testing.T) {
	at := time.Now().Add(time.Minute)

	sm := toSBMessage(&broker.Message{
		MessageID:            "id",
		Body:                 []byte("body"),
		Properties:           map[string]any{"k": "v"},
		ScheduledEnqueueTime: &at,
		SessionID:            "s",
		Subject:              "OrderPlaced",
		TimeToLive:           time.Hour,
	})

	assert.Equal(t, "id", *sm.MessageID)
	assert.Equal(t, "s", *sm.SessionID)
	assert.Equal(t, "OrderPlaced", *sm.Subject)
	assert.Nil(t, sm.CorrelationID)
	assert.Nil(t, sm.ContentType)
	assert.Equal(t, time.Hour, *sm.TimeToLive)
	assert.Equal(t, &at, sm.ScheduledEnqueueTime)

	lock := [16]byte{0x12, 0x34}
	session := "s"

	rm := toReceived(&azservicebus.ReceivedMessage{
		MessageID:     "id",
		Body:          []byte("body"),
		LockToken:     lock,
		SessionID:     &session,
		DeliveryCount: 3,
	}, nil)

	assert.Equal(t, "12340000-0000-0000-0000-000000000000", rm.LockToken)
	assert.Equal(t, "s", rm.SessionID)
	assert.Equal(t, uint32(3), rm.DeliveryCount)
	assert.NotNil(t, rm.Properties)

	assert.Empty(t, toReceived(&azservicebus.ReceivedMessage{MessageID: "x"}, nil).LockToken)
}

func TestNextRenewal(t *testing.T) {
	now := time.Now()
	deadline := now.Add(5 * time.Minute)

	assert.Equal(t, now.Add(50*time.Second), nextRenewal(now, now.Add(time.Minute), deadline))
	assert.Equal(t, now.Add(4*time.Second), nextRenewal(now, now.Add(8*time.Second), deadline))
	assert.Equal(t, now, nextRenewal(now, now.Add(-time.Second), deadline))
	assert.True(t, nextRenewal(now, now.Add(10*time.Minute), deadline).IsZero(), "lock outlives the renewal window")
	assert.True(t, nextRenewal(deadline, now.Add(time.Minute), deadline).IsZero())
	assert.True(t, nextRenewal(now, time.Time{}, deadline).IsZero())
}

func TestRenewLock(t *testing.T) {
	var (
		renewals    atomic.Int32
		lockedUntil atomic.Int64
	)

	lockedUntil.Store(time.Now().Add(40 * time.Millisecond).UnixNano())

	stop := renewLock(t.Context(), time.Minute,
		func() time.Time { return time.Unix(0, lockedUntil.Load()) },
		func(context.Context) error {
			renewals.Add(1)
			lockedUntil.Store(time.Now().Add(40 * time.Millisecond).UnixNano())

			return nil
		},
		func(context.Context, error) { t.Error("unexpected renewal error") })

	require.Eventually(t, func() bool { return renewals.Load() >= 2 }, time.Second, 5*time.Millisecond)

	stop()
	stopped := renewals.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, renewals.Load(), stopped+1)
}

func TestRenewLock_ReportsFailureOnce(t *testing.T) {
	lost := errors.New("lock lost")
	reported := make(chan error, 2)

	stop := renewLock(t.Context(), time.Minute,
		func() time.Time { return time.Now().Add(10 * time.Millisecond) },
		func(context.Context) error { return lost },
		func(_ context.Context, err error) { reported <- err })
	defer stop()

	select {
	case err := <-reported:
		assert.ErrorIs(t, err, lost)
	case <-time.After(time.Second):
		t.Fatal("renewal failure not reported")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, reported)
}
