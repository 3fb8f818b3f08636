package broker

import (
	"errors"
	"fmt"

	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return errors.Join(berr.ErrTransient, err)
}

// IsTransient reports whether err was classified as retryable by the broker.
func IsTransient(err error) bool { return errors.Is(err, berr.ErrTransient) }

// NotFound reports a missing entity.
func NotFound(entity string, err error) error {
	return fmt.Errorf("entity %q: %w", entity, errors.Join(berr.ErrEntityNotFound, err))
}

// Exists reports an entity that is already present.
func Exists(entity string, err error) error {
	return fmt.Errorf("entity %q: %w", entity, errors.Join(berr.ErrEntityExists, err))
}
