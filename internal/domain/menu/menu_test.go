package menu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRatingAggregateWithRecomputesMean(t *testing.T) {
	prior := RatingAggregate{Avg: 4.0, Count: 3}
	next := prior.With(5)
	require.Equal(t, 4, next.Count)
	require.InDelta(t, 4.25, next.Avg, 1e-9)
}

func TestRatingAggregateWithFromEmpty(t *testing.T) {
	next := RatingAggregate{}.With(3)
	require.Equal(t, RatingAggregate{Avg: 3, Count: 1}, next)
}

func TestRatingAggregateNormalizeZeroCount(t *testing.T) {
	require.Equal(t, RatingAggregate{}, RatingAggregate{Avg: 3.5, Count: 0}.Normalize())
	require.Equal(t, RatingAggregate{Avg: 5, Count: 2}, RatingAggregate{Avg: 7, Count: 2}.Normalize())
}

func TestValidStars(t *testing.T) {
	require.False(t, ValidStars(0))
	require.True(t, ValidStars(1))
	require.True(t, ValidStars(5))
	require.False(t, ValidStars(6))
}

func TestGuardKeyEmbedsLocalDate(t *testing.T) {
	day := time.Date(2025, time.July, 29, 23, 59, 0, 0, time.Local)
	require.Equal(t, "rated:17:2025-07-29", GuardKey("17", day))
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	snap := CategorySnapshot{
		CategoryID: "1",
		Items:      []MenuItem{{ID: "a"}, {ID: "b"}},
		Ratings:    map[ItemID]RatingAggregate{"a": {Avg: 2, Count: 5}, "b": {}},
	}
	clone := snap.Clone()
	clone.Items[0].Name = "changed"
	clone.Ratings["a"] = RatingAggregate{Avg: 1, Count: 1}

	require.Empty(t, snap.Items[0].Name)
	require.Equal(t, RatingAggregate{Avg: 2, Count: 5}, snap.Ratings["a"])
	require.True(t, snap.Contains("b"))
	require.False(t, snap.Contains("c"))
	require.Equal(t, []RatingAggregate{{Avg: 2, Count: 5}, {}}, snap.OrderedRatings())
}
