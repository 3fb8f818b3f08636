package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
)

// retryTransient runs fn, retrying failures the broker classified as transient up to
// Options.AdminRetries times. Any other error stops immediately and is returned as is.
func (t *Transport) retryTransient(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(t.opts.RetryInitialInterval)),
			uint64(t.opts.AdminRetries), //nolint:gosec // never negative after setDefaults
		),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || broker.IsTransient(err) {
			return err
		}

		return backoff.Permanent(err)
	}, b, func(err error, next time.Duration) {
		t.log.WarnContext(ctx, "transient broker failure, retrying", "op", op, "retry_in", next, "error", err)
	})

	if err != nil && broker.IsTransient(err) {
		return fmt.Errorf("%s: %w", op, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	return err
}
