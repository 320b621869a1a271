package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/kafka"
	"github.com/NordCoder/sessiongate/internal/domain/outbox"
	"github.com/NordCoder/sessiongate/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

func withRetry(h outbox.KindHandler, p retry.Policy) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		return retry.Do(ctx, func() error { return h(ctx, data) }, p)
	}
}

func instrument(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind
	}
	h = withRetry(h, pol)
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		defer span.End()

		start := time.Now()
		err := h(ctx, data)
		outboxHandlerLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind).Inc()
		}
		return err
	}
}

func publishEvent(pub kafka.SessionEvents) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		var e auth.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal event payload: %w", err))
		}
		return pub.PublishEvent(ctx, e)
	}
}

// MakeGlobalOutboxHandler routes every security event kind to pub.
func MakeGlobalOutboxHandler(pub kafka.SessionEvents, pol retry.Policy) outbox.GlobalHandler {
	handlers := map[outbox.Kind]outbox.KindHandler{}
	for _, k := range []outbox.Kind{outbox.KindSessionRevoked, outbox.KindUserRevoked, outbox.KindTokenReuse} {
		handlers[k] = instrument(k.String(), publishEvent(pub), pol)
	}
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		h, ok := handlers[kind]
		if !ok {
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
		return h, nil
	}
}
