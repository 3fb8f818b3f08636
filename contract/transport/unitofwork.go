package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

// UnitOfWork is the transaction context one message handling (or one outside send) runs in.
//
// The bus drives it: Commit once the handler succeeded, then Complete; Abort on failure;
// Dispose always, last. The transport hooks into those steps and keeps its per-context
// state in the typed slots below.
type UnitOfWork struct {
	mu sync.Mutex

	commit   []func(ctx context.Context) error
	complete []func(ctx context.Context) error
	abort    []func(ctx context.Context) error
	dispose  []func(ctx context.Context)
	disposed bool

	outgoing []OutgoingMessage
	received *broker.ReceivedMessage
	message  *TransportMessage
}

// NewUnitOfWork returns an empty unit of work.
func NewUnitOfWork() *UnitOfWork { return &UnitOfWork{} }

// OnCommit registers fn to run when the unit of work commits.
func (u *UnitOfWork) OnCommit(fn func(ctx context.Context) error) {
	u.mu.Lock()
	u.commit = append(u.commit, fn)
	u.mu.Unlock()
}

// OnComplete registers fn to run after a successful commit.
func (u *UnitOfWork) OnComplete(fn func(ctx context.Context) error) {
	u.mu.Lock()
	u.complete = append(u.complete, fn)
	u.mu.Unlock()
}

// OnAbort registers fn to run when handling failed.
func (u *UnitOfWork) OnAbort(fn func(ctx context.Context) error) {
	u.mu.Lock()
	u.abort = append(u.abort, fn)
	u.mu.Unlock()
}

// OnDispose registers fn to run when the unit of work ends, whatever the outcome.
func (u *UnitOfWork) OnDispose(fn func(ctx context.Context)) {
	u.mu.Lock()
	u.dispose = append(u.dispose, fn)
	u.mu.Unlock()
}

// Commit runs commit hooks in registration order and stops at the first error.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	hooks := append([]func(context.Context) error(nil), u.commit...)
	u.mu.Unlock()

	for _, h := range hooks {
		if err := h(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Complete runs completion hooks in registration order and stops at the first error.
func (u *UnitOfWork) Complete(ctx context.Context) error {
	u.mu.Lock()
	hooks := append([]func(context.Context) error(nil), u.complete...)
	u.mu.Unlock()

	for _, h := range hooks {
		if err := h(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Abort runs every abort hook and joins their errors.
func (u *UnitOfWork) Abort(ctx context.Context) error {
	u.mu.Lock()
	hooks := append([]func(context.Context) error(nil), u.abort...)
	u.mu.Unlock()

	var errs []error

	for _, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Dispose runs dispose hooks once; later calls are no-ops.
func (u *UnitOfWork) Dispose(ctx context.Context) {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		return
	}

	u.disposed = true
	hooks := u.dispose
	u.dispose = nil
	u.mu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
}

// Buffer appends m to the outgoing buffer and reports whether it is the first buffered message.
func (u *UnitOfWork) Buffer(m OutgoingMessage) (first bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	first = u.outgoing == nil
	u.outgoing = append(u.outgoing, m)

	return first
}

// TakeOutgoing returns the buffered messages and empties the buffer.
func (u *UnitOfWork) TakeOutgoing() []OutgoingMessage {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := u.outgoing
	u.outgoing = u.outgoing[:0:0]

	return out
}

// Attach binds a delivered message and its transport form to the unit of work.
func (u *UnitOfWork) Attach(rm *broker.ReceivedMessage, msg *TransportMessage) {
	u.mu.Lock()
	u.received = rm
	u.message = msg
	u.mu.Unlock()
}

// Received returns the attached delivered message, or nil once it was detached.
func (u *UnitOfWork) Received() *broker.ReceivedMessage {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.received
}

// Message returns the transport message derived from the attached delivery.
func (u *UnitOfWork) Message() *TransportMessage {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.message
}

// Detach removes the delivered message from the unit of work and hands its lifecycle to the caller:
// completion and abort hooks will no longer settle it.
func (u *UnitOfWork) Detach() *broker.ReceivedMessage {
	u.mu.Lock()
	defer u.mu.Unlock()

	rm := u.received
	u.received = nil

	return rm
}
