package broker

import (
	"context"
	"time"
)

// QueueProperties describes the broker-side configuration of a queue.
// Zero durations mean "broker default".
type QueueProperties struct {
	EnablePartitioning                  bool
	RequiresSession                     bool
	RequiresDuplicateDetection          bool
	DuplicateDetectionHistoryTimeWindow time.Duration
	LockDuration                        time.Duration
	DefaultMessageTimeToLive            time.Duration
	AutoDeleteOnIdle                    time.Duration
	MaxDeliveryCount                    int32
}

// SubscriptionProperties describes a topic subscription.
// ForwardTo is the bare entity name of the queue receiving the subscription's messages.
type SubscriptionProperties struct {
	ForwardTo string
}

// Admin manages broker entities.
//
// Get* methods return a nil value and a nil error when the entity does not exist.
// Create* methods return an error matching errors.ErrEntityExists when the entity is already there,
// Delete* methods one matching errors.ErrEntityNotFound when it is missing.
// Retryable failures match errors.ErrTransient.
type Admin interface {
	GetQueue(ctx context.Context, name string) (*QueueProperties, error)
	CreateQueue(ctx context.Context, name string, props QueueProperties) error
	UpdateQueue(ctx context.Context, name string, props QueueProperties) error

	TopicExists(ctx context.Context, name string) (bool, error)
	CreateTopic(ctx context.Context, name string) error

	GetSubscription(ctx context.Context, topic, name string) (*SubscriptionProperties, error)
	CreateSubscription(ctx context.Context, topic, name string, props SubscriptionProperties) error
	UpdateSubscription(ctx context.Context, topic, name string, props SubscriptionProperties) error
	DeleteSubscription(ctx context.Context, topic, name string) error
}
