package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/carte/internal/infra/telemetry"
)

type clientMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newClientMetrics() clientMetrics {
	meter := otel.Meter("gateway.client")
	var m clientMetrics
	if counter, err := meter.Int64Counter("carte_gateway_requests_total",
		metric.WithDescription("Menu API requests by operation and result"),
		metric.WithUnit("{request}")); err == nil {
		m.requests = counter
	}
	if hist, err := meter.Float64Histogram("carte_gateway_request_duration",
		metric.WithDescription("Menu API round trip latency including retries"),
		metric.WithUnit("ms")); err == nil {
		m.duration = hist
	}
	return m
}

func (m clientMetrics) record(ctx context.Context, operation string, started time.Time, err error) {
	result := "success"
	if err != nil {
		result = resultLabel(err)
	}
	attrs := metric.WithAttributes(telemetry.OperationResultAttributes(telemetry.Environment(), operation, result)...)
	if m.requests != nil {
		m.requests.Add(context.WithoutCancel(ctx), 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(context.WithoutCancel(ctx), float64(time.Since(started).Microseconds())/1000, attrs)
	}
}
