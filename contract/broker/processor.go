package broker

import (
	"context"
	"time"
)

// ProcessorOptions controls push delivery concurrency.
type ProcessorOptions struct {
	// MaxConcurrentCalls bounds concurrent message callbacks in non-session mode.
	MaxConcurrentCalls int
	// SessionsEnabled switches to session mode: MaxConcurrentSessions sessions, one call per session.
	SessionsEnabled       bool
	MaxConcurrentSessions int
	// MaxAutoLockRenewalDuration bounds automatic lock renewal of an unsettled message.
	MaxAutoLockRenewalDuration time.Duration
}

// MessageHandler is invoked for every delivered message. Settlement is left to the handler.
type MessageHandler func(ctx context.Context, m *ReceivedMessage) error

// ErrorHandler receives delivery errors reported by the broker or returned by a MessageHandler.
type ErrorHandler func(ctx context.Context, err error)

// Processor pushes delivered messages to a handler.
type Processor interface {
	// Start begins delivery and returns immediately. Delivery stops when ctx is done or Close is called.
	Start(ctx context.Context, onMessage MessageHandler, onError ErrorHandler) error
	// Close stops delivery and waits for in-flight callbacks to return.
	Close(ctx context.Context) error
}
