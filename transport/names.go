package transport

import "strings"

const (
	maxQueueNameLength        = 260
	maxTopicNameLength        = 260
	maxSubscriptionNameLength = 50
)

// NameFormatter maps logical addresses and topics to broker-legal entity names.
type NameFormatter interface {
	QueueName(address string) string
	TopicName(topic string) string
	SubscriptionName(address string) string
}

// DefaultNameFormatter lowercases names, replaces characters the broker rejects with '_'
// and truncates to the broker's length limits.
type DefaultNameFormatter struct{}

var _ NameFormatter = DefaultNameFormatter{}

func (DefaultNameFormatter) QueueName(address string) string {
	return sanitize(address, true, maxQueueNameLength)
}

func (DefaultNameFormatter) TopicName(topic string) string {
	return sanitize(topic, true, maxTopicNameLength)
}

// SubscriptionName derives the subscription name owned by an input address. Slashes are not allowed.
func (DefaultNameFormatter) SubscriptionName(address string) string {
	return sanitize(address, false, maxSubscriptionNameLength)
}

func sanitize(name string, allowSlash bool, maxLen int) string {
	name = strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder

	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == '/' && allowSlash:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.Trim(b.String(), "/")
	if len(out) > maxLen {
		out = out[:maxLen]
	}

	return out
}
