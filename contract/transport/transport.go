package transport

import "context"

// Transport is the contract between the bus and a concrete broker transport.
// Implementations must be safe for concurrent use by multiple goroutines.
type Transport interface {
	// Send buffers message for destination in uow; nothing leaves the process before uow commits.
	Send(ctx context.Context, destination string, message *TransportMessage, uow *UnitOfWork) error

	// Receive returns the next delivered message attached to uow, or nil when none is pending.
	Receive(ctx context.Context, uow *UnitOfWork) (*TransportMessage, error)

	// Address is the own input queue, or "" for a send-only instance.
	Address() string

	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}
