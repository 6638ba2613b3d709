package menucache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
	"github.com/coachpo/carte/internal/infra/telemetry"
	"github.com/coachpo/carte/internal/observability"
)

// DefaultTTL is the validity window of a cached category snapshot.
const DefaultTTL = 5 * time.Minute

// Config wires a Cache.
type Config struct {
	TTL           time.Duration
	FanoutWorkers int
	Clock         Clock
	Logger        observability.Logger
}

// Cache memoizes category snapshots and reconciles rating submissions.
type Cache struct {
	mu      sync.RWMutex
	entries map[menu.CategoryID]*entry

	gateway Gateway
	guard   Guard
	builder *Builder
	ttl     time.Duration
	clock   Clock
	logger  observability.Logger
	metrics *cacheMetrics

	// submissions holds one lock per guard key between the guard check and
	// the marker write.
	submissions keyedLocks
}

type entry struct {
	mu       sync.Mutex
	snapshot *menu.CategorySnapshot
	tickets  uint64
}

// NewCache constructs a cache over the gateway and guard store.
func NewCache(gateway Gateway, guard Guard, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Log()
	}
	return &Cache{
		entries: make(map[menu.CategoryID]*entry),
		gateway: gateway,
		guard:   guard,
		builder: NewBuilder(gateway, cfg.FanoutWorkers, cfg.Clock, cfg.Logger),
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: newCacheMetrics(),
	}
}

// TTL returns the configured validity window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the category snapshot, rebuilding it when forceRefresh is set,
// when nothing is cached, or when the cached copy is older than the TTL.
// A failed rebuild leaves the previous snapshot in place.
func (c *Cache) Get(ctx context.Context, categoryID menu.CategoryID, forceRefresh bool) (menu.CategorySnapshot, error) {
	return c.get(ctx, categoryID, forceRefresh, nil)
}

// get is Get with a hook that runs, without any cache lock held, exactly when
// a rebuild is about to start.
func (c *Cache) get(ctx context.Context, categoryID menu.CategoryID, forceRefresh bool, onBuild func()) (menu.CategorySnapshot, error) {
	categoryID = menu.CategoryID(strings.TrimSpace(string(categoryID)))
	if categoryID == "" {
		return menu.CategorySnapshot{}, errs.New("menucache/get", errs.CodeInvalid, errs.WithMessage("category id required"))
	}
	e := c.entryFor(categoryID)

	e.mu.Lock()
	if !forceRefresh && c.usable(e.snapshot) {
		snap := e.snapshot.Clone()
		e.mu.Unlock()
		c.metrics.recordLookup(categoryID, telemetry.CacheHit)
		return snap, nil
	}
	e.tickets++
	ticket := e.tickets
	e.mu.Unlock()

	result := telemetry.CacheMiss
	if forceRefresh {
		result = telemetry.CacheRefresh
	}
	if onBuild != nil {
		onBuild()
	}

	built, err := c.builder.Build(ctx, categoryID)
	if err != nil {
		c.metrics.recordLookup(categoryID, telemetry.CacheBuildFailed)
		c.logger.Warn("category snapshot rebuild failed",
			observability.F("category", string(categoryID)),
			observability.F("error", err))
		return menu.CategorySnapshot{}, err
	}
	built.Generation = ticket

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot != nil && e.snapshot.Generation > ticket {
		c.metrics.recordLookup(categoryID, telemetry.CacheStaleDiscarded)
		c.logger.Debug("discarding superseded snapshot",
			observability.F("category", string(categoryID)),
			observability.F("generation", ticket),
			observability.F("current", e.snapshot.Generation))
		return e.snapshot.Clone(), nil
	}
	e.snapshot = &built
	c.metrics.recordLookup(categoryID, result)
	return built.Clone(), nil
}

// Refresh rebuilds the category snapshot regardless of its age.
func (c *Cache) Refresh(ctx context.Context, categoryID menu.CategoryID) (menu.CategorySnapshot, error) {
	return c.Get(ctx, categoryID, true)
}

// Fresh reports whether a Get without forceRefresh would be served from cache.
func (c *Cache) Fresh(categoryID menu.CategoryID) bool {
	e, ok := c.lookup(categoryID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.usable(e.snapshot)
}

// Peek returns the cached snapshot without fetching, regardless of age.
func (c *Cache) Peek(categoryID menu.CategoryID) (menu.CategorySnapshot, bool) {
	e, ok := c.lookup(categoryID)
	if !ok {
		return menu.CategorySnapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return menu.CategorySnapshot{}, false
	}
	return e.snapshot.Clone(), true
}

// Reset drops every cached snapshot. Builds in flight still complete and
// their result is discarded.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[menu.CategoryID]*entry)
	c.mu.Unlock()
}

func (c *Cache) usable(snap *menu.CategorySnapshot) bool {
	return snap != nil && c.clock().Sub(snap.FetchedAt) < c.ttl
}

func (c *Cache) lookup(categoryID menu.CategoryID) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[categoryID]
	return e, ok
}

func (c *Cache) entryFor(categoryID menu.CategoryID) *entry {
	if e, ok := c.lookup(categoryID); ok {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[categoryID]; ok {
		return e
	}
	e := new(entry)
	c.entries[categoryID] = e
	return e
}

func (c *Cache) snapshotEntries() []*entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// aggregateOf returns the cached aggregate for the item from any category
// that lists it.
func (c *Cache) aggregateOf(itemID menu.ItemID) menu.RatingAggregate {
	for _, e := range c.snapshotEntries() {
		e.mu.Lock()
		if e.snapshot != nil && e.snapshot.Contains(itemID) {
			agg := e.snapshot.Ratings[itemID]
			e.mu.Unlock()
			return agg
		}
		e.mu.Unlock()
	}
	return menu.RatingAggregate{}
}

// patchAggregate replaces the item's aggregate in every cached snapshot that
// currently lists it. FetchedAt and Generation are left untouched.
func (c *Cache) patchAggregate(itemID menu.ItemID, agg menu.RatingAggregate) int {
	patched := 0
	for _, e := range c.snapshotEntries() {
		e.mu.Lock()
		if e.snapshot != nil && e.snapshot.Contains(itemID) {
			e.snapshot.Ratings[itemID] = agg
			patched++
		}
		e.mu.Unlock()
	}
	return patched
}
