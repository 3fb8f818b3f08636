package azure

import (
	"context"
	"time"
)

// maxRenewMargin is how long before expiry a lock is renewed at the latest.
const maxRenewMargin = 10 * time.Second

// renewLock keeps a lock alive until the returned stop is called, ctx is done or maxDuration has passed.
// A failed renewal is reported once and ends renewal; the lock is then lost.
func renewLock(
	ctx context.Context,
	maxDuration time.Duration,
	lockedUntil func() time.Time,
	renew func(ctx context.Context) error,
	onError func(ctx context.Context, err error),
) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	if maxDuration <= 0 {
		cancel()
		return cancel
	}

	deadline := time.Now().Add(maxDuration)

	go func() {
		defer cancel()

		for {
			at := nextRenewal(time.Now(), lockedUntil(), deadline)
			if at.IsZero() {
				return
			}

			timer := time.NewTimer(time.Until(at))

			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if err := renew(ctx); err != nil {
				if ctx.Err() == nil {
					onError(ctx, err)
				}

				return
			}
		}
	}()

	return cancel
}

// nextRenewal returns when to renew a lock expiring at lockedUntil: halfway through the remaining
// time, but no later than maxRenewMargin before expiry. Zero means stop renewing.
func nextRenewal(now, lockedUntil, deadline time.Time) time.Time {
	if lockedUntil.IsZero() || !now.Before(deadline) || !lockedUntil.Before(deadline) {
		return time.Time{}
	}

	remaining := lockedUntil.Sub(now)
	if remaining <= 0 {
		return now
	}

	return lockedUntil.Add(-min(remaining/2, maxRenewMargin))
}
