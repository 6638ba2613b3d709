package guardstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/carte/internal/infra/telemetry"
)

type poolGauge struct {
	name        string
	description string
	read        func(*pgxpool.Stat) int64
}

var poolGauges = []poolGauge{
	{"carte_guard_pool_connections_total", "Total guard store connections (idle + acquired + constructing)",
		func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) }},
	{"carte_guard_pool_connections_idle", "Idle guard store connections ready for checkout",
		func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) }},
	{"carte_guard_pool_connections_acquired", "Guard store connections currently acquired",
		func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) }},
}

// observePoolMetrics registers observable gauges reporting pgx pool health.
// Registration errors stop further gauges; the store keeps working without them.
func observePoolMetrics(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	attrs := metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		attribute.String("guard_driver", string(DriverPostgres)),
	)
	meter := otel.Meter("guardstore.postgres")
	for _, g := range poolGauges {
		read := g.read
		if _, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{connection}"),
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				observer.Observe(read(pool.Stat()), attrs)
				return nil
			}),
		); err != nil {
			return
		}
	}
}
