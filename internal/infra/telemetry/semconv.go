// Package telemetry provides OpenTelemetry initialization and semantic conventions for carte.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for carte telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrCategory identifies the menu category a cache signal belongs to.
	AttrCategory = attribute.Key("menu.category")
	// AttrCacheResult records hit, miss, refresh or stale_discarded for cache lookups.
	AttrCacheResult = attribute.Key("cache.result")
	// AttrOperation differentiates gateway operations (list_menu, rating_average, submit_rating).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrOutcome records the rating submission outcome.
	AttrOutcome = attribute.Key("rating.outcome")
	// AttrReconcile distinguishes authoritative refetches from local recomputation.
	AttrReconcile = attribute.Key("rating.reconcile")
	// AttrGuardDriver labels guard store metrics by backend.
	AttrGuardDriver = attribute.Key("guard.driver")
)

// Cache result values
const (
	CacheHit            = "hit"
	CacheMiss           = "miss"
	CacheRefresh        = "refresh"
	CacheStaleDiscarded = "stale_discarded"
	CacheBuildFailed    = "build_failed"
)

// Reconciliation path values
const (
	ReconcileAuthoritative = "authoritative"
	ReconcileLocal         = "local"
)

// CacheAttributes returns common attributes for cache lookups.
func CacheAttributes(environment, category, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrCategory.String(category),
		AttrCacheResult.String(result),
	}
}

// OperationResultAttributes returns attributes for gateway operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// SubmissionAttributes returns attributes for rating submission metrics.
func SubmissionAttributes(environment, outcome, reconcile string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOutcome.String(outcome),
	}
	if reconcile != "" {
		attrs = append(attrs, AttrReconcile.String(reconcile))
	}
	return attrs
}
