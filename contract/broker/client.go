package broker

import "context"

// Client is the broker API surface consumed by the transport.
// Implementations wrap a concrete broker SDK (Azure Service Bus, in-memory, ...).
// Implementations must be safe for concurrent use by multiple goroutines.
type Client interface {
	Admin

	// NewSender returns a sender bound to a queue or topic.
	NewSender(entity string) (Sender, error)

	// NewProcessor returns a push-style processor for a queue.
	NewProcessor(queue string, opts ProcessorOptions) (Processor, error)

	// Purge drains a queue as fast as possible and returns the number of removed messages.
	Purge(ctx context.Context, queue string) (int, error)

	// Close releases connections held by the client.
	Close(ctx context.Context) error
}
