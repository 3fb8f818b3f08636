package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
)

// GetSubscriberAddresses returns the address publishers send to for topic: the topic itself.
// Fan-out to subscribers happens in the broker.
func (t *Transport) GetSubscriberAddresses(_ context.Context, topic string) ([]string, error) {
	name := t.names.TopicName(topic)
	if name == "" {
		return nil, fmt.Errorf("topic %q: %w", topic, berr.ErrInvalidAddress)
	}

	return []string{ctr.TopicPrefix + name}, nil
}

// RegisterSubscriber makes topic forward to the own input queue through a subscription named after it.
// Registering twice is a no-op.
func (t *Transport) RegisterSubscriber(ctx context.Context, topic, subscriberAddress string) error {
	topicName, subName, err := t.subscription(topic, subscriberAddress)
	if err != nil {
		return err
	}

	return t.retryTransient(ctx, "register subscriber", func() error {
		if err := t.ensureTopic(ctx, topicName); err != nil {
			return err
		}

		return t.ensureSubscription(ctx, topicName, subName)
	})
}

// UnregisterSubscriber deletes the own subscription to topic. A missing subscription is not an error.
func (t *Transport) UnregisterSubscriber(ctx context.Context, topic, subscriberAddress string) error {
	topicName, subName, err := t.subscription(topic, subscriberAddress)
	if err != nil {
		return err
	}

	return t.retryTransient(ctx, "unregister subscriber", func() error {
		err := t.client.DeleteSubscription(ctx, topicName, subName)
		if err == nil {
			t.log.InfoContext(ctx, "subscription deleted", "topic", topicName, "subscription", subName)
			return nil
		}

		if errors.Is(err, berr.ErrEntityNotFound) {
			t.log.DebugContext(ctx, "subscription already gone", "topic", topicName, "subscription", subName)
			return nil
		}

		return fmt.Errorf("delete subscription %q on %q: %w", subName, topicName, err)
	})
}

func (t *Transport) subscription(topic, subscriberAddress string) (topicName, subName string, err error) {
	if t.address == "" {
		return "", "", fmt.Errorf("subscribe %q: %w", topic, berr.ErrSendOnly)
	}

	if subscriberAddress != t.address {
		return "", "", fmt.Errorf("subscriber %q is not the input queue %q: %w",
			subscriberAddress, t.address, berr.ErrSubscriberMismatch)
	}

	topicName = t.names.TopicName(topic)
	subName = t.names.SubscriptionName(t.address)

	if topicName == "" || subName == "" {
		return "", "", fmt.Errorf("topic %q: %w", topic, berr.ErrInvalidAddress)
	}

	return topicName, subName, nil
}

// ensureTopic creates topic unless it exists. Losing a creation race counts as success once the topic is seen.
func (t *Transport) ensureTopic(ctx context.Context, topic string) error {
	ok, err := t.client.TopicExists(ctx, topic)
	if err != nil {
		return fmt.Errorf("get topic %q: %w", topic, err)
	}

	if ok {
		return nil
	}

	err = t.client.CreateTopic(ctx, topic)
	if err == nil {
		t.log.InfoContext(ctx, "topic created", "topic", topic)
		return nil
	}

	if !errors.Is(err, berr.ErrEntityExists) {
		return fmt.Errorf("create topic %q: %w", topic, err)
	}

	if ok, gerr := t.client.TopicExists(ctx, topic); gerr != nil || !ok {
		return fmt.Errorf("create topic %q: %w", topic, errors.Join(err, gerr))
	}

	return nil
}

func (t *Transport) ensureSubscription(ctx context.Context, topic, sub string) error {
	want := broker.SubscriptionProperties{ForwardTo: t.inputQueue}

	props, err := t.client.GetSubscription(ctx, topic, sub)
	if err != nil {
		return fmt.Errorf("get subscription %q on %q: %w", sub, topic, err)
	}

	if props == nil {
		err := t.client.CreateSubscription(ctx, topic, sub, want)
		if err == nil {
			t.log.InfoContext(ctx, "subscription created", "topic", topic, "subscription", sub)
			return nil
		}

		if !errors.Is(err, berr.ErrEntityExists) {
			return fmt.Errorf("create subscription %q on %q: %w", sub, topic, err)
		}

		if props, err = t.client.GetSubscription(ctx, topic, sub); err != nil || props == nil {
			return fmt.Errorf("get subscription %q on %q: %w", sub, topic, errors.Join(berr.ErrEntityNotFound, err))
		}
	}

	if props.ForwardTo == want.ForwardTo {
		return nil
	}

	if err := t.client.UpdateSubscription(ctx, topic, sub, want); err != nil {
		return fmt.Errorf("update subscription %q on %q: %w", sub, topic, err)
	}

	t.log.InfoContext(ctx, "subscription forward target updated",
		"topic", topic, "subscription", sub, "from", props.ForwardTo, "to", want.ForwardTo)

	return nil
}
