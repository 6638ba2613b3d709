// Package menu defines the menu, category and rating aggregate types shared by
// the cache, the gateway client and the control API.
package menu

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinStars and MaxStars bound a single submitted rating.
const (
	MinStars = 1
	MaxStars = 5
)

// ItemID identifies a menu item.
type ItemID string

// CategoryID identifies a menu category.
type CategoryID string

// Category is a named grouping of menu items.
type Category struct {
	ID   CategoryID `json:"id"`
	Name string     `json:"name"`
}

// MenuItem is the opaque item payload returned by the menu API. Only ID is
// interpreted by the cache.
type MenuItem struct {
	ID          ItemID          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Ingredients string          `json:"ingredients,omitempty"`
	Badge       string          `json:"badge,omitempty"`
	Image       string          `json:"image,omitempty"`
	Available   bool            `json:"available"`
	OutOfStock  bool            `json:"outOfStock"`
	CategoryID  CategoryID      `json:"categoryId,omitempty"`
}

// RatingAggregate is the mean and count of submitted stars for one item.
type RatingAggregate struct {
	Avg   float64 `json:"avgRating"`
	Count int     `json:"count"`
}

// Normalize enforces Count == 0 => Avg == 0 and clamps Avg into [0, MaxStars].
func (a RatingAggregate) Normalize() RatingAggregate {
	if a.Count <= 0 {
		return RatingAggregate{}
	}
	if a.Avg < 0 {
		a.Avg = 0
	}
	if a.Avg > MaxStars {
		a.Avg = MaxStars
	}
	return a
}

// With returns the aggregate after one more rating of the given stars.
func (a RatingAggregate) With(stars int) RatingAggregate {
	base := a.Normalize()
	count := base.Count + 1
	return RatingAggregate{
		Avg:   (base.Avg*float64(base.Count) + float64(stars)) / float64(count),
		Count: count,
	}
}

// ValidStars reports whether stars is a submittable rating.
func ValidStars(stars int) bool {
	return stars >= MinStars && stars <= MaxStars
}

// CategorySnapshot is the cached listing of one category at one point in time.
type CategorySnapshot struct {
	CategoryID CategoryID                 `json:"categoryId"`
	Items      []MenuItem                 `json:"items"`
	Ratings    map[ItemID]RatingAggregate `json:"ratings"`
	FetchedAt  time.Time                  `json:"fetchedAt"`
	Generation uint64                     `json:"generation"`
}

// Clone returns a deep copy of the snapshot.
func (s CategorySnapshot) Clone() CategorySnapshot {
	clone := s
	if s.Items != nil {
		clone.Items = make([]MenuItem, len(s.Items))
		copy(clone.Items, s.Items)
	}
	clone.Ratings = make(map[ItemID]RatingAggregate, len(s.Ratings))
	for id, agg := range s.Ratings {
		clone.Ratings[id] = agg
	}
	return clone
}

// Contains reports whether the snapshot lists the item.
func (s CategorySnapshot) Contains(id ItemID) bool {
	for _, item := range s.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// OrderedRatings returns the aggregates in item order.
func (s CategorySnapshot) OrderedRatings() []RatingAggregate {
	out := make([]RatingAggregate, 0, len(s.Items))
	for _, item := range s.Items {
		out = append(out, s.Ratings[item.ID])
	}
	return out
}

// GuardKey builds the once-per-day marker key for an item on a date.
func GuardKey(id ItemID, day time.Time) string {
	return "rated:" + strings.TrimSpace(string(id)) + ":" + day.Format(time.DateOnly)
}
