package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	messagesSent *prometheus.CounterVec
	batchesSent  *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	received     *prometheus.CounterVec
	settled      *prometheus.CounterVec
	handoffDepth *prometheus.GaugeVec
}

// defaultMetrics registers the transport collectors with the default registry once per process.
var defaultMetrics = sync.OnceValue(func() *metrics {
	const ns, sub = "scg", "servicebus_transport"

	return &metrics{
		messagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "messages_sent_total",
			Help: "Messages sent, by destination entity.",
		}, []string{"entity"}),
		batchesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "batches_sent_total",
			Help: "Batches sent, by destination entity.",
		}, []string{"entity"}),
		sendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "send_failures_total",
			Help: "Failed destination flushes, by destination entity.",
		}, []string{"entity"}),
		received: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "messages_received_total",
			Help: "Messages handed to the receive queue, by input queue.",
		}, []string{"queue"}),
		settled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "messages_settled_total",
			Help: "Settled messages, by input queue and outcome.",
		}, []string{"queue", "outcome"}),
		handoffDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "handoff_queue_depth",
			Help: "Delivered messages waiting for Receive.",
		}, []string{"queue"}),
	}
})
