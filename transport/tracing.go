package transport

import (
	"context"

	ctr "github.com/next-trace/scg-azure-servicebus/contract/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// OTelPropagator carries OpenTelemetry context in message headers.
type OTelPropagator struct {
	p propagation.TextMapPropagator
}

var _ ctr.HeaderPropagator = OTelPropagator{}

// NewOTelPropagator wraps p; nil uses the global propagator.
func NewOTelPropagator(p propagation.TextMapPropagator) OTelPropagator {
	if p == nil {
		p = otel.GetTextMapPropagator()
	}

	return OTelPropagator{p: p}
}

func (o OTelPropagator) Inject(ctx context.Context, h ctr.Headers) {
	o.p.Inject(ctx, propagation.MapCarrier(h))
}

// Extract returns ctx enriched with the trace context found in h.
func (o OTelPropagator) Extract(ctx context.Context, h ctr.Headers) context.Context {
	return o.p.Extract(ctx, propagation.MapCarrier(h))
}
