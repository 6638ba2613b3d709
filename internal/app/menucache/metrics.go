package menucache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/carte/internal/domain/menu"
	"github.com/coachpo/carte/internal/infra/telemetry"
)

type cacheMetrics struct {
	lookups           metric.Int64Counter
	buildDuration     metric.Float64Histogram
	fanoutSize        metric.Int64Histogram
	aggregateFailures metric.Int64Counter
	submissions       metric.Int64Counter
}

func newCacheMetrics() *cacheMetrics {
	meter := otel.Meter("menucache")
	m := new(cacheMetrics)
	if counter, err := meter.Int64Counter("carte_menucache_lookups_total",
		metric.WithDescription("Category lookups by cache result"),
		metric.WithUnit("{lookup}")); err == nil {
		m.lookups = counter
	}
	if hist, err := meter.Float64Histogram("carte_menucache_build_duration",
		metric.WithDescription("Snapshot build latency including the rating fan-out"),
		metric.WithUnit("ms")); err == nil {
		m.buildDuration = hist
	}
	if hist, err := meter.Int64Histogram("carte_menucache_fanout_size",
		metric.WithDescription("Rating lookups issued per snapshot build"),
		metric.WithUnit("{request}")); err == nil {
		m.fanoutSize = hist
	}
	if counter, err := meter.Int64Counter("carte_menucache_aggregate_failures_total",
		metric.WithDescription("Rating aggregate lookups downgraded to zero"),
		metric.WithUnit("{request}")); err == nil {
		m.aggregateFailures = counter
	}
	if counter, err := meter.Int64Counter("carte_rating_submissions_total",
		metric.WithDescription("Rating submissions by outcome and reconciliation path"),
		metric.WithUnit("{submission}")); err == nil {
		m.submissions = counter
	}
	return m
}

func (m *cacheMetrics) recordLookup(category menu.CategoryID, result string) {
	if m == nil || m.lookups == nil {
		return
	}
	m.lookups.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.CacheAttributes(telemetry.Environment(), string(category), result)...))
}

func (m *cacheMetrics) recordBuild(category menu.CategoryID, items int, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = telemetry.CacheBuildFailed
	}
	attrs := metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrCategory.String(string(category)),
		telemetry.AttrResult.String(result),
	)
	if m.buildDuration != nil {
		m.buildDuration.Record(context.Background(), float64(time.Since(started).Microseconds())/1000, attrs)
	}
	if m.fanoutSize != nil && err == nil {
		m.fanoutSize.Record(context.Background(), int64(items), attrs)
	}
}

func (m *cacheMetrics) recordAggregateFailure(category menu.CategoryID) {
	if m == nil || m.aggregateFailures == nil {
		return
	}
	m.aggregateFailures.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrCategory.String(string(category)),
	))
}

func (m *cacheMetrics) recordSubmission(outcome Outcome, reconcile string) {
	if m == nil || m.submissions == nil {
		return
	}
	attrs := telemetry.SubmissionAttributes(telemetry.Environment(), outcome.String(), reconcile)
	m.submissions.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
