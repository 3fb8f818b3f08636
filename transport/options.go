package transport

import (
	"log/slog"
	"time"

	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
	"go.opentelemetry.io/otel/trace"
)

// maxDeliveryCount is applied to the own input queue at creation.
const maxDeliveryCount = 100

// Options configures a Transport. Zero values fall back to the defaults listed on each field.
type Options struct {
	// InputQueue is the own input address. Empty makes the transport send-only.
	InputQueue string `env:"INPUT_QUEUE"`

	// MaxParallelism bounds concurrent deliveries (or concurrent sessions) and sizes the handoff queue. Default 10.
	MaxParallelism  int  `env:"MAX_PARALLELISM" envDefault:"10"`
	SessionsEnabled bool `env:"SESSIONS_ENABLED"`

	// Input queue properties applied at creation and checked on Initialize.
	EnablePartitioning       bool          `env:"ENABLE_PARTITIONING"`
	LockDuration             time.Duration `env:"LOCK_DURATION" envDefault:"5m"`
	DefaultMessageTimeToLive time.Duration `env:"DEFAULT_MESSAGE_TIME_TO_LIVE"`
	DuplicateDetection       bool          `env:"DUPLICATE_DETECTION"`
	DuplicateDetectionWindow time.Duration `env:"DUPLICATE_DETECTION_WINDOW" envDefault:"10m"`
	AutoDeleteOnIdle         time.Duration `env:"AUTO_DELETE_ON_IDLE"`

	// MaxAutoLockRenewalDuration bounds lock renewal of a message still being handled. Default 5m.
	MaxAutoLockRenewalDuration time.Duration `env:"MAX_AUTO_LOCK_RENEWAL_DURATION" envDefault:"5m"`

	// DoNotCreateQueues disables every create/update of queues; drift is only reported.
	DoNotCreateQueues            bool `env:"DO_NOT_CREATE_QUEUES"`
	DoNotCheckQueueConfiguration bool `env:"DO_NOT_CHECK_QUEUE_CONFIGURATION"`

	// ReceiveTimeout is how long Receive waits before reporting that nothing is pending. Default 1s.
	ReceiveTimeout time.Duration `env:"RECEIVE_TIMEOUT" envDefault:"1s"`

	// AdminRetries bounds retries of transient failures in topic/subscription administration.
	// Default 5; negative disables retries.
	AdminRetries         int           `env:"ADMIN_RETRIES" envDefault:"5"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"200ms"`

	Logger         *slog.Logger
	NameFormatter  NameFormatter
	Propagator     ctr.HeaderPropagator
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.MaxParallelism <= 0 {
		o.MaxParallelism = 10
	}

	if o.LockDuration == 0 {
		o.LockDuration = 5 * time.Minute
	}

	if o.MaxAutoLockRenewalDuration == 0 {
		o.MaxAutoLockRenewalDuration = 5 * time.Minute
	}

	if o.ReceiveTimeout == 0 {
		o.ReceiveTimeout = time.Second
	}

	if o.AdminRetries < 0 {
		o.AdminRetries = 0
	} else if o.AdminRetries == 0 {
		o.AdminRetries = 5
	}

	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 200 * time.Millisecond
	}

	if o.Logger == nil || o.Logger.Handler() == nil {
		o.Logger = slog.Default()
	}

	if o.NameFormatter == nil {
		o.NameFormatter = DefaultNameFormatter{}
	}

	if o.Propagator == nil {
		o.Propagator = ctr.NopHeaderPropagator{}
	}
}
