package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
)

// CreateQueue creates the queue for address unless it exists. The own input queue gets the
// configured properties; any other queue gets broker defaults. No-op when queue management is disabled.
func (t *Transport) CreateQueue(ctx context.Context, address string) error {
	if t.opts.DoNotCreateQueues {
		t.log.DebugContext(ctx, "queue creation disabled", "address", address)
		return nil
	}

	name, err := t.queueName(address)
	if err != nil {
		return err
	}

	existing, err := t.client.GetQueue(ctx, name)
	if err != nil {
		return fmt.Errorf("get queue %q: %w", name, err)
	}

	if existing != nil {
		return nil
	}

	var props broker.QueueProperties
	if name == t.inputQueue {
		props = t.inputQueueProperties()
	}

	if err := t.client.CreateQueue(ctx, name, props); err != nil {
		if errors.Is(err, berr.ErrEntityExists) {
			t.log.DebugContext(ctx, "queue created concurrently", "created_queue", name)
			return nil
		}

		return fmt.Errorf("create queue %q: %w", name, err)
	}

	t.log.InfoContext(ctx, "queue created", "created_queue", name)

	return nil
}

func (t *Transport) inputQueueProperties() broker.QueueProperties {
	p := broker.QueueProperties{
		EnablePartitioning:         t.opts.EnablePartitioning,
		RequiresSession:            t.opts.SessionsEnabled,
		RequiresDuplicateDetection: t.opts.DuplicateDetection,
		LockDuration:               t.opts.LockDuration,
		DefaultMessageTimeToLive:   t.opts.DefaultMessageTimeToLive,
		AutoDeleteOnIdle:           t.opts.AutoDeleteOnIdle,
		MaxDeliveryCount:           maxDeliveryCount,
	}

	if p.RequiresDuplicateDetection {
		p.DuplicateDetectionHistoryTimeWindow = t.opts.DuplicateDetectionWindow
	}

	return p
}

// drift is one property of an existing queue that differs from the configured value.
type drift struct {
	property string
	actual   string
	desired  string
	mutable  bool
	apply    func(p *broker.QueueProperties)
}

// diffQueue lists the properties of actual that differ from desired. Zero desired durations mean
// broker default and are not compared.
func diffQueue(actual, desired broker.QueueProperties) []drift {
	var out []drift

	durations := []struct {
		name    string
		actual  time.Duration
		desired time.Duration
		apply   func(p *broker.QueueProperties)
	}{
		{"DefaultMessageTimeToLive", actual.DefaultMessageTimeToLive, desired.DefaultMessageTimeToLive,
			func(p *broker.QueueProperties) { p.DefaultMessageTimeToLive = desired.DefaultMessageTimeToLive }},
		{"LockDuration", actual.LockDuration, desired.LockDuration,
			func(p *broker.QueueProperties) { p.LockDuration = desired.LockDuration }},
		{"AutoDeleteOnIdle", actual.AutoDeleteOnIdle, desired.AutoDeleteOnIdle,
			func(p *broker.QueueProperties) { p.AutoDeleteOnIdle = desired.AutoDeleteOnIdle }},
	}

	for _, d := range durations {
		if d.desired != 0 && d.actual != d.desired {
			out = append(out, drift{
				property: d.name, actual: d.actual.String(), desired: d.desired.String(),
				mutable: true, apply: d.apply,
			})
		}
	}

	if actual.EnablePartitioning != desired.EnablePartitioning {
		out = append(out, drift{
			property: "EnablePartitioning",
			actual:   strconv.FormatBool(actual.EnablePartitioning),
			desired:  strconv.FormatBool(desired.EnablePartitioning),
		})
	}

	if actual.RequiresDuplicateDetection != desired.RequiresDuplicateDetection {
		out = append(out, drift{
			property: "RequiresDuplicateDetection",
			actual:   strconv.FormatBool(actual.RequiresDuplicateDetection),
			desired:  strconv.FormatBool(desired.RequiresDuplicateDetection),
		})
	}

	if desired.RequiresDuplicateDetection && desired.DuplicateDetectionHistoryTimeWindow != 0 &&
		actual.DuplicateDetectionHistoryTimeWindow != desired.DuplicateDetectionHistoryTimeWindow {
		out = append(out, drift{
			property: "DuplicateDetectionHistoryTimeWindow",
			actual:   actual.DuplicateDetectionHistoryTimeWindow.String(),
			desired:  desired.DuplicateDetectionHistoryTimeWindow.String(),
		})
	}

	return out
}

// reconcileInputQueue compares the input queue against the configuration. Mutable differences are
// updated in one call unless queue management is disabled; immutable ones are only reported.
func (t *Transport) reconcileInputQueue(ctx context.Context) error {
	actual, err := t.client.GetQueue(ctx, t.inputQueue)
	if err != nil {
		return fmt.Errorf("get queue %q: %w", t.inputQueue, err)
	}

	if actual == nil {
		return fmt.Errorf("check queue %q: %w", t.inputQueue, errors.Join(berr.ErrQueueConfiguration, berr.ErrEntityNotFound))
	}

	drifts := diffQueue(*actual, t.inputQueueProperties())
	if len(drifts) == 0 {
		return nil
	}

	update := *actual
	changed := false

	for _, d := range drifts {
		attrs := []any{"property", d.property, "actual", d.actual, "configured", d.desired}

		switch {
		case !d.mutable:
			t.log.WarnContext(ctx, "queue property differs and cannot be changed after creation", attrs...)
		case t.opts.DoNotCreateQueues:
			t.log.WarnContext(ctx, "queue property differs; not updated because queue management is disabled", attrs...)
		default:
			d.apply(&update)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if err := t.client.UpdateQueue(ctx, t.inputQueue, update); err != nil {
		return fmt.Errorf("update queue %q: %w", t.inputQueue, errors.Join(berr.ErrQueueConfiguration, err))
	}

	t.log.InfoContext(ctx, "queue configuration updated")

	return nil
}
