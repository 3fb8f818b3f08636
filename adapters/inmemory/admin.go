package inmemory

import (
	"context"

	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

func (b *Broker) GetQueue(_ context.Context, name string) (*broker.QueueProperties, error) {
	if err := b.hit(OpGetQueue); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil, nil //nolint:nilnil // missing entity
	}

	p := q.props

	return &p, nil
}

func (b *Broker) CreateQueue(_ context.Context, name string, props broker.QueueProperties) error {
	if err := b.hit(OpCreateQueue); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; ok {
		return exists(name)
	}

	b.queues[name] = newQueue(name, props)

	return nil
}

func (b *Broker) UpdateQueue(_ context.Context, name string, props broker.QueueProperties) error {
	if err := b.hit(OpUpdateQueue); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return notFound(name)
	}

	q.props = props

	return nil
}

func (b *Broker) TopicExists(_ context.Context, name string) (bool, error) {
	if err := b.hit(OpTopicExists); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.topics[name]

	return ok, nil
}

func (b *Broker) CreateTopic(_ context.Context, name string) error {
	if err := b.hit(OpCreateTopic); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[name]; ok {
		return exists(name)
	}

	b.topics[name] = make(map[string]broker.SubscriptionProperties)

	return nil
}

func (b *Broker) GetSubscription(_ context.Context, topic, name string) (*broker.SubscriptionProperties, error) {
	if err := b.hit(OpGetSubscription); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.topics[topic][name]
	if !ok {
		return nil, nil //nolint:nilnil // missing entity
	}

	return &p, nil
}

func (b *Broker) CreateSubscription(_ context.Context, topic, name string, props broker.SubscriptionProperties) error {
	if err := b.hit(OpCreateSubscription); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return notFound(topic)
	}

	if _, ok := subs[name]; ok {
		return exists(topic + "/subscriptions/" + name)
	}

	subs[name] = props

	return nil
}

func (b *Broker) UpdateSubscription(_ context.Context, topic, name string, props broker.SubscriptionProperties) error {
	if err := b.hit(OpUpdateSubscription); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return notFound(topic)
	}

	if _, ok := subs[name]; !ok {
		return notFound(topic + "/subscriptions/" + name)
	}

	subs[name] = props

	return nil
}

func (b *Broker) DeleteSubscription(_ context.Context, topic, name string) error {
	if err := b.hit(OpDeleteSubscription); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return notFound(topic)
	}

	if _, ok := subs[name]; !ok {
		return notFound(topic + "/subscriptions/" + name)
	}

	delete(subs, name)

	return nil
}

// Subscriptions returns the subscriptions of topic by name.
func (b *Broker) Subscriptions(topic string) map[string]broker.SubscriptionProperties {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]broker.SubscriptionProperties, len(b.topics[topic]))
	for k, v := range b.topics[topic] {
		out[k] = v
	}

	return out
}
