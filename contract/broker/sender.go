package broker

import "context"

// Sender sends batches to one queue or topic.
type Sender interface {
	// NewBatch creates an empty batch sized to the broker's maximum.
	// A missing entity is reported as errors.ErrEntityNotFound.
	NewBatch(ctx context.Context) (Batch, error)
	SendBatch(ctx context.Context, b Batch) error
	Close(ctx context.Context) error
}

// Batch is a size-bounded group of messages sent in one call.
type Batch interface {
	// Add appends m, or returns errors.ErrMessageTooLarge when it does not fit.
	Add(m *Message) error
	Len() int
	SizeInBytes() int
}
