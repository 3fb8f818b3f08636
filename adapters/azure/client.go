package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
)

const (
	purgeBatchSize   = 100
	purgeIdleTimeout = 2 * time.Second
)

// Config selects the namespace and credentials. A connection string wins over Namespace;
// with only Namespace set the default Azure credential chain is used.
type Config struct {
	ConnectionString string `env:"CONNECTION_STRING"`
	// Namespace is the fully qualified namespace, e.g. "contoso.servicebus.windows.net".
	Namespace string `env:"NAMESPACE"`
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by processors. Default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// Client is a broker.Client over one Service Bus namespace.
type Client struct {
	sb    *azservicebus.Client
	admin *admin.Client
	log   *slog.Logger
}

var _ broker.Client = (*Client)(nil)

// New connects to the namespace described by cfg. Connections are opened lazily by the SDK.
func New(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{log: slog.Default()}
	for _, o := range opts {
		o(c)
	}

	var err error

	switch {
	case cfg.ConnectionString != "":
		if c.sb, err = azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil); err != nil {
			return nil, fmt.Errorf("servicebus client: %w", err)
		}

		if c.admin, err = admin.NewClientFromConnectionString(cfg.ConnectionString, nil); err != nil {
			return nil, fmt.Errorf("servicebus admin client: %w", err)
		}
	case cfg.Namespace != "":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure credential: %w", err)
		}

		if c.sb, err = azservicebus.NewClient(cfg.Namespace, cred, nil); err != nil {
			return nil, fmt.Errorf("servicebus client: %w", err)
		}

		if c.admin, err = admin.NewClient(cfg.Namespace, cred, nil); err != nil {
			return nil, fmt.Errorf("servicebus admin client: %w", err)
		}
	default:
		return nil, errors.New("azure: connection string or namespace required")
	}

	return c, nil
}

func (c *Client) NewSender(entity string) (broker.Sender, error) { //nolint:ireturn
	s, err := c.sb.NewSender(entity, nil)
	if err != nil {
		return nil, classify(entity, err)
	}

	return &sender{s: s, entity: entity}, nil
}

func (c *Client) NewProcessor(queue string, opts broker.ProcessorOptions) (broker.Processor, error) { //nolint:ireturn
	return &processor{
		sb:    c.sb,
		queue: queue,
		opts:  opts,
		log:   c.log.With("queue", queue),
	}, nil
}

// Purge receives and deletes messages until the queue stays empty for a short while.
func (c *Client) Purge(ctx context.Context, queue string) (int, error) {
	props, err := c.GetQueue(ctx, queue)
	if err != nil {
		return 0, err
	}

	if props == nil {
		return 0, broker.NotFound(queue, nil)
	}

	r, err := c.sb.NewReceiverForQueue(queue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModeReceiveAndDelete,
	})
	if err != nil {
		return 0, classify(queue, err)
	}

	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()

	total := 0

	for {
		rctx, cancel := context.WithTimeout(ctx, purgeIdleTimeout)
		msgs, err := r.ReceiveMessages(rctx, purgeBatchSize, nil)
		cancel()

		total += len(msgs)

		switch {
		case ctx.Err() != nil:
			return total, ctx.Err()
		case err != nil && errors.Is(err, context.DeadlineExceeded):
			return total, nil
		case err != nil:
			return total, classify(queue, err)
		case len(msgs) == 0:
			return total, nil
		}
	}
}

// Close closes the namespace connection.
func (c *Client) Close(ctx context.Context) error {
	return c.sb.Close(ctx)
}
