package menucache

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
	"github.com/coachpo/carte/internal/observability"
)

// Builder assembles a fresh CategorySnapshot from the menu API.
type Builder struct {
	gateway    Gateway
	maxWorkers int
	clock      Clock
	logger     observability.Logger
	metrics    *cacheMetrics
}

// NewBuilder constructs a snapshot builder. maxWorkers <= 0 issues every
// aggregate lookup at once.
func NewBuilder(gateway Gateway, maxWorkers int, clock Clock, logger observability.Logger) *Builder {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = observability.Log()
	}
	return &Builder{
		gateway:    gateway,
		maxWorkers: maxWorkers,
		clock:      clock,
		logger:     logger,
		metrics:    newCacheMetrics(),
	}
}

// Build fetches the ordered item list and every item's rating aggregate.
// A list failure aborts the build; an aggregate failure degrades that item
// to the zero aggregate.
func (b *Builder) Build(ctx context.Context, categoryID menu.CategoryID) (menu.CategorySnapshot, error) {
	started := time.Now()
	items, err := b.gateway.ListMenuItems(ctx, categoryID)
	if err != nil {
		b.metrics.recordBuild(categoryID, 0, started, err)
		return menu.CategorySnapshot{}, errs.New("menucache/build", errs.CodeUnavailable,
			errs.WithCanonicalCode(errs.CanonicalListFetchFailed),
			errs.WithField("category", string(categoryID)),
			errs.WithCause(err))
	}

	aggregates := b.fetchAggregates(ctx, categoryID, items)

	ratings := make(map[menu.ItemID]menu.RatingAggregate, len(items))
	for idx, item := range items {
		if _, seen := ratings[item.ID]; seen {
			continue
		}
		ratings[item.ID] = aggregates[idx]
	}
	if items == nil {
		items = []menu.MenuItem{}
	}
	snapshot := menu.CategorySnapshot{
		CategoryID: categoryID,
		Items:      items,
		Ratings:    ratings,
		FetchedAt:  b.clock(),
	}
	b.metrics.recordBuild(categoryID, len(items), started, nil)
	return snapshot, nil
}

// fetchAggregates returns one aggregate per item, indexed like items.
func (b *Builder) fetchAggregates(ctx context.Context, categoryID menu.CategoryID, items []menu.MenuItem) []menu.RatingAggregate {
	out := make([]menu.RatingAggregate, len(items))
	if len(items) == 0 {
		return out
	}
	workerLimit := b.maxWorkers
	if workerLimit <= 0 || workerLimit > len(items) {
		workerLimit = len(items)
	}
	p := pool.New().WithMaxGoroutines(workerLimit)
	for idx, item := range items {
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					out[idx] = menu.RatingAggregate{}
					b.aggregateFailed(categoryID, item.ID, fmt.Errorf("rating lookup panic: %v", r))
				}
			}()
			agg, err := b.gateway.RatingAverage(ctx, item.ID)
			if err != nil {
				b.aggregateFailed(categoryID, item.ID, err)
				return
			}
			out[idx] = agg.Normalize()
		})
	}
	p.Wait()
	return out
}

func (b *Builder) aggregateFailed(categoryID menu.CategoryID, itemID menu.ItemID, cause error) {
	err := errs.New("menucache/aggregate", errs.CodeRemote,
		errs.WithCanonicalCode(errs.CanonicalAggregateFetchFailed),
		errs.WithField("item", string(itemID)),
		errs.WithCause(cause))
	b.logger.Warn("rating aggregate unavailable, using zero",
		observability.F("category", string(categoryID)),
		observability.F("item", string(itemID)),
		observability.F("error", err))
	b.metrics.recordAggregateFailure(categoryID)
}
