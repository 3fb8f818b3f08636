package transport

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
)

// toBrokerMessage maps headers onto broker message fields. Every header also travels as a property.
func toBrokerMessage(m *ctr.TransportMessage) (*broker.Message, error) {
	h := m.Headers

	bm := &broker.Message{
		MessageID:     h[ctr.HeaderMessageID],
		Body:          m.Body,
		Properties:    headersToProperties(h),
		SessionID:     h[ctr.HeaderSessionID],
		CorrelationID: h[ctr.HeaderCorrelationID],
		ContentType:   h[ctr.HeaderContentType],
		Subject:       h[ctr.HeaderType],
	}

	if bm.MessageID == "" {
		bm.MessageID = uuid.NewString()
	}

	if v, ok := h[ctr.HeaderDeferredUntil]; ok {
		at, err := ctr.ParseTime(v)
		if err != nil {
			return nil, fmt.Errorf("message %s: header %s: %w", bm.MessageID, ctr.HeaderDeferredUntil, err)
		}

		bm.ScheduledEnqueueTime = &at
	}

	if v, ok := h[ctr.HeaderTimeToBeReceived]; ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("message %s: header %s: %w", bm.MessageID, ctr.HeaderTimeToBeReceived, err)
		}

		bm.TimeToLive = ttl
	}

	return bm, nil
}

// fromReceived rebuilds transport headers from a delivery. Deferral headers are dropped:
// once delivered, a message is no longer deferred.
func fromReceived(rm *broker.ReceivedMessage) *ctr.TransportMessage {
	h := make(ctr.Headers, len(rm.Properties)+4)

	for k, v := range rm.Properties {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprint(v)
		}
	}

	setIfMissing(h, ctr.HeaderMessageID, rm.MessageID)
	setIfMissing(h, ctr.HeaderSessionID, rm.SessionID)
	setIfMissing(h, ctr.HeaderCorrelationID, rm.CorrelationID)
	setIfMissing(h, ctr.HeaderContentType, rm.ContentType)
	setIfMissing(h, ctr.HeaderType, rm.Subject)

	delete(h, ctr.HeaderDeferredUntil)
	delete(h, ctr.HeaderDeferredRecipient)

	return &ctr.TransportMessage{Headers: h, Body: rm.Body}
}

func setIfMissing(h ctr.Headers, key, value string) {
	if value == "" {
		return
	}

	if _, ok := h[key]; !ok {
		h[key] = value
	}
}

func headersToProperties(h ctr.Headers) map[string]any {
	props := make(map[string]any, len(h))
	for k, v := range h {
		props[k] = v
	}

	return props
}
