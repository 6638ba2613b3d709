package menucache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
	"github.com/coachpo/carte/internal/infra/config"
	"github.com/coachpo/carte/internal/observability"
)

func TestBuildDegradesFailedItemToZero(t *testing.T) {
	gw := newFakeGateway()
	gw.setItems("c", "1", "2", "3", "4")
	gw.setAggregate("1", menu.RatingAggregate{Avg: 4, Count: 2})
	gw.setAggregate("2", menu.RatingAggregate{Avg: 3, Count: 9})
	gw.setAggregate("4", menu.RatingAggregate{Avg: 5, Count: 1})
	gw.failAgg["2"] = true
	gw.panicAgg["3"] = true

	clock := newFakeClock()
	b := NewBuilder(gw, 2, clock.Now, observability.Nop())
	snap, err := b.Build(context.Background(), "c")
	require.NoError(t, err)

	require.Len(t, snap.Items, 4)
	require.Len(t, snap.Ratings, 4)
	require.Equal(t, menu.RatingAggregate{Avg: 4, Count: 2}, snap.Ratings["1"])
	require.Equal(t, menu.RatingAggregate{}, snap.Ratings["2"])
	require.Equal(t, menu.RatingAggregate{}, snap.Ratings["3"])
	require.Equal(t, menu.RatingAggregate{Avg: 5, Count: 1}, snap.Ratings["4"])
	require.Equal(t, clock.Now(), snap.FetchedAt)
	require.Equal(t, []menu.RatingAggregate{
		{Avg: 4, Count: 2}, {}, {}, {Avg: 5, Count: 1},
	}, snap.OrderedRatings())
}

func TestBuildEmptyCategorySkipsFanout(t *testing.T) {
	gw := newFakeGateway()
	b := NewBuilder(gw, 4, nil, observability.Nop())

	snap, err := b.Build(context.Background(), "empty")
	require.NoError(t, err)
	require.Empty(t, snap.Items)
	require.NotNil(t, snap.Ratings)
	require.Empty(t, snap.Ratings)
	require.Equal(t, int32(0), gw.aggCalls.Load())
}

func TestBuildListFailureAborts(t *testing.T) {
	gw := newFakeGateway()
	gw.failList = true
	b := NewBuilder(gw, 4, nil, observability.Nop())

	_, err := b.Build(context.Background(), "c")
	require.Error(t, err)
	require.True(t, errs.IsCanonical(err, errs.CanonicalListFetchFailed))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, int32(0), gw.aggCalls.Load())
}

// barrierGateway blocks every aggregate lookup until all expected lookups
// are in flight at once.
type barrierGateway struct {
	*fakeGateway
	expected int
	mu       sync.Mutex
	arrived  int
	all      chan struct{}
}

func (g *barrierGateway) RatingAverage(ctx context.Context, id menu.ItemID) (menu.RatingAggregate, error) {
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.expected {
		close(g.all)
	}
	g.mu.Unlock()
	select {
	case <-g.all:
		return menu.RatingAggregate{Avg: 1, Count: 1}, nil
	case <-time.After(2 * time.Second):
		return menu.RatingAggregate{}, errBoom
	}
}

func TestBuildIssuesLookupsConcurrently(t *testing.T) {
	inner := newFakeGateway()
	inner.setItems("c", "a", "b", "c", "d", "e")
	gw := &barrierGateway{fakeGateway: inner, expected: 5, all: make(chan struct{})}

	b := NewBuilder(gw, 0, nil, observability.Nop())
	snap, err := b.Build(context.Background(), "c")
	require.NoError(t, err)
	for _, agg := range snap.Ratings {
		require.Equal(t, menu.RatingAggregate{Avg: 1, Count: 1}, agg)
	}
}

func TestBuildWithDefaultWorkersLaunchesEveryLookup(t *testing.T) {
	ids := make([]menu.ItemID, 16)
	for i := range ids {
		ids[i] = menu.ItemID(fmt.Sprintf("item-%02d", i))
	}
	inner := newFakeGateway()
	inner.setItems("c", ids...)
	gw := &barrierGateway{fakeGateway: inner, expected: len(ids), all: make(chan struct{})}

	workers := config.DefaultAppConfig().Cache.FanoutWorkers.Count()
	b := NewBuilder(gw, workers, nil, observability.Nop())
	snap, err := b.Build(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, snap.Ratings, len(ids))
	for id, agg := range snap.Ratings {
		require.Equal(t, menu.RatingAggregate{Avg: 1, Count: 1}, agg, "lookup for %s did not reach the barrier", id)
	}
}

func TestBuildRatingsMatchItems(t *testing.T) {
	gw := newFakeGateway()
	gw.setItems("c", "x", "y", "x")
	b := NewBuilder(gw, 3, nil, observability.Nop())

	snap, err := b.Build(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, snap.Ratings, 2)
	for _, item := range snap.Items {
		_, ok := snap.Ratings[item.ID]
		require.True(t, ok, "missing aggregate for %s", item.ID)
	}
}
