package errors

// Error codes for the transport contracts. Keep stable; used across adapters and the transport.
const (
	ErrCodeInvalidAddress           = "transport.invalid_address"
	ErrCodeMissingDeferredRecipient = "transport.missing_deferred_recipient"
	ErrCodeSubscriberMismatch       = "transport.subscriber_mismatch"
	ErrCodeSendOnly                 = "transport.send_only"
	ErrCodeSendFailed               = "transport.send_failed"
	ErrCodeSettleFailed             = "transport.settle_failed"
	ErrCodeMissingLockToken         = "transport.missing_lock_token"
	ErrCodePurgeFailed              = "transport.purge_failed"
	ErrCodeQueueConfiguration       = "transport.queue_configuration"
	ErrCodeClosed                   = "transport.closed"

	ErrCodeMessageTooLarge   = "broker.message_too_large"
	ErrCodeEntityNotFound    = "broker.entity_not_found"
	ErrCodeEntityExists      = "broker.entity_exists"
	ErrCodeTransient         = "broker.transient"
	ErrCodeBrokerUnavailable = "broker.unavailable"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrInvalidAddress           = Code(ErrCodeInvalidAddress)
	ErrMissingDeferredRecipient = Code(ErrCodeMissingDeferredRecipient)
	ErrSubscriberMismatch       = Code(ErrCodeSubscriberMismatch)
	ErrSendOnly                 = Code(ErrCodeSendOnly)
	ErrSendFailed               = Code(ErrCodeSendFailed)
	ErrSettleFailed             = Code(ErrCodeSettleFailed)
	ErrMissingLockToken         = Code(ErrCodeMissingLockToken)
	ErrPurgeFailed              = Code(ErrCodePurgeFailed)
	ErrQueueConfiguration       = Code(ErrCodeQueueConfiguration)
	ErrClosed                   = Code(ErrCodeClosed)

	ErrMessageTooLarge   = Code(ErrCodeMessageTooLarge)
	ErrEntityNotFound    = Code(ErrCodeEntityNotFound)
	ErrEntityExists      = Code(ErrCodeEntityExists)
	ErrTransient         = Code(ErrCodeTransient)
	ErrBrokerUnavailable = Code(ErrCodeBrokerUnavailable)
)
