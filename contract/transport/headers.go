package transport

import "time"

// Well-known header keys produced and consumed by the transport.
const (
	HeaderMessageID         = "scg-msg-id"
	HeaderCorrelationID     = "scg-correlation-id"
	HeaderContentType       = "scg-content-type"
	HeaderType              = "scg-type"
	HeaderSessionID         = "scg-session-id"
	HeaderTimeToBeReceived  = "scg-time-to-be-received"
	HeaderDeferredUntil     = "scg-deferred-until"
	HeaderDeferredRecipient = "scg-defer-recipient"
)

const (
	// DeferredAddress is the pseudo-address deferred messages are sent to.
	// The real recipient is carried in HeaderDeferredRecipient.
	DeferredAddress = "___deferred___"

	// TopicPrefix marks a virtual-topic address, e.g. "topic/orders".
	TopicPrefix = "topic/"
)

// Headers are the string key/value pairs travelling with a message.
type Headers map[string]string

// Clone returns a copy safe to mutate.
func (h Headers) Clone() Headers {
	c := make(Headers, len(h))
	for k, v := range h {
		c[k] = v
	}

	return c
}

// FormatTime renders t the way time-valued headers are stored.
func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// ParseTime parses a time-valued header produced by FormatTime.
func ParseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
