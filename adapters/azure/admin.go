package azure

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	"github.com/sosodev/duration"
)

// maxSaneDuration caps durations read from the broker. Larger values are the broker's
// "never" sentinel and are reported as zero.
const maxSaneDuration = 100 * 365 * 24 * time.Hour

func (c *Client) GetQueue(ctx context.Context, name string) (*broker.QueueProperties, error) {
	resp, err := c.admin.GetQueue(ctx, name, nil)
	if err != nil {
		return nil, classify(name, err)
	}

	if resp == nil {
		return nil, nil //nolint:nilnil // missing entity
	}

	p := fromAdminQueue(resp.QueueProperties)

	return &p, nil
}

func (c *Client) CreateQueue(ctx context.Context, name string, props broker.QueueProperties) error {
	_, err := c.admin.CreateQueue(ctx, name, &admin.CreateQueueOptions{Properties: toAdminQueue(props)})

	return classify(name, err)
}

// UpdateQueue applies the mutable properties of props to the queue, keeping everything else as is.
func (c *Client) UpdateQueue(ctx context.Context, name string, props broker.QueueProperties) error {
	resp, err := c.admin.GetQueue(ctx, name, nil)
	if err != nil {
		return classify(name, err)
	}

	if resp == nil {
		return broker.NotFound(name, nil)
	}

	current := resp.QueueProperties
	current.LockDuration = isoDuration(props.LockDuration)
	current.DefaultMessageTimeToLive = isoDuration(props.DefaultMessageTimeToLive)
	current.AutoDeleteOnIdle = isoDuration(props.AutoDeleteOnIdle)

	_, err = c.admin.UpdateQueue(ctx, name, current, nil)

	return classify(name, err)
}

func (c *Client) TopicExists(ctx context.Context, name string) (bool, error) {
	resp, err := c.admin.GetTopic(ctx, name, nil)
	if err != nil {
		return false, classify(name, err)
	}

	return resp != nil, nil
}

func (c *Client) CreateTopic(ctx context.Context, name string) error {
	_, err := c.admin.CreateTopic(ctx, name, nil)

	return classify(name, err)
}

func (c *Client) GetSubscription(ctx context.Context, topic, name string) (*broker.SubscriptionProperties, error) {
	resp, err := c.admin.GetSubscription(ctx, topic, name, nil)
	if err != nil {
		return nil, classify(subscriptionPath(topic, name), err)
	}

	if resp == nil {
		return nil, nil //nolint:nilnil // missing entity
	}

	return &broker.SubscriptionProperties{ForwardTo: entityName(deref(resp.ForwardTo))}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, topic, name string, props broker.SubscriptionProperties) error {
	_, err := c.admin.CreateSubscription(ctx, topic, name, &admin.CreateSubscriptionOptions{
		Properties: &admin.SubscriptionProperties{ForwardTo: &props.ForwardTo},
	})

	return classify(subscriptionPath(topic, name), err)
}

func (c *Client) UpdateSubscription(ctx context.Context, topic, name string, props broker.SubscriptionProperties) error {
	resp, err := c.admin.GetSubscription(ctx, topic, name, nil)
	if err != nil {
		return classify(subscriptionPath(topic, name), err)
	}

	if resp == nil {
		return broker.NotFound(subscriptionPath(topic, name), nil)
	}

	current := resp.SubscriptionProperties
	current.ForwardTo = &props.ForwardTo

	_, err = c.admin.UpdateSubscription(ctx, topic, name, current, nil)

	return classify(subscriptionPath(topic, name), err)
}

func (c *Client) DeleteSubscription(ctx context.Context, topic, name string) error {
	_, err := c.admin.DeleteSubscription(ctx, topic, name, nil)

	return classify(subscriptionPath(topic, name), err)
}

func subscriptionPath(topic, name string) string { return topic + "/subscriptions/" + name }

func toAdminQueue(p broker.QueueProperties) *admin.QueueProperties {
	q := &admin.QueueProperties{
		EnablePartitioning:         &p.EnablePartitioning,
		RequiresSession:            &p.RequiresSession,
		RequiresDuplicateDetection: &p.RequiresDuplicateDetection,
		LockDuration:               isoDuration(p.LockDuration),
		DefaultMessageTimeToLive:   isoDuration(p.DefaultMessageTimeToLive),
		AutoDeleteOnIdle:           isoDuration(p.AutoDeleteOnIdle),
	}

	if p.RequiresDuplicateDetection {
		q.DuplicateDetectionHistoryTimeWindow = isoDuration(p.DuplicateDetectionHistoryTimeWindow)
	}

	if p.MaxDeliveryCount > 0 {
		q.MaxDeliveryCount = &p.MaxDeliveryCount
	}

	return q
}

func fromAdminQueue(q admin.QueueProperties) broker.QueueProperties {
	p := broker.QueueProperties{
		EnablePartitioning:                  deref(q.EnablePartitioning),
		RequiresSession:                     deref(q.RequiresSession),
		RequiresDuplicateDetection:          deref(q.RequiresDuplicateDetection),
		DuplicateDetectionHistoryTimeWindow: parseISODuration(q.DuplicateDetectionHistoryTimeWindow),
		LockDuration:                        parseISODuration(q.LockDuration),
		DefaultMessageTimeToLive:            parseISODuration(q.DefaultMessageTimeToLive),
		AutoDeleteOnIdle:                    parseISODuration(q.AutoDeleteOnIdle),
		MaxDeliveryCount:                    deref(q.MaxDeliveryCount),
	}

	return p
}

// isoDuration renders d as ISO 8601; zero means "leave the broker default".
func isoDuration(d time.Duration) *string {
	if d <= 0 {
		return nil
	}

	s := duration.FromTimeDuration(d).String()

	return &s
}

// parseISODuration reads an ISO 8601 duration. Unset, invalid and unbounded values are zero.
func parseISODuration(s *string) time.Duration {
	if s == nil || *s == "" {
		return 0
	}

	d, err := duration.Parse(*s)
	if err != nil {
		return 0
	}

	if d.Years > 100 || d.Months > 1200 || d.Weeks > 5200 || d.Days > 36500 {
		return 0
	}

	td := d.ToTimeDuration()
	if td <= 0 || td > maxSaneDuration {
		return 0
	}

	return td
}

// entityName reduces a forward-to value, which the broker may report as a full URL, to the entity path.
func entityName(forwardTo string) string {
	if u, err := url.Parse(forwardTo); err == nil && u.Host != "" {
		forwardTo = u.Path
	}

	return strings.ToLower(strings.Trim(forwardTo, "/"))
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}

	return *p
}

