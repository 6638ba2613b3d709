package menucache

import (
	"context"
	"time"

	"github.com/coachpo/carte/internal/domain/menu"
)

// Gateway is the subset of the menu API the cache depends on.
type Gateway interface {
	ListCategories(ctx context.Context) ([]menu.Category, error)
	ListMenuItems(ctx context.Context, categoryID menu.CategoryID) ([]menu.MenuItem, error)
	RatingAverage(ctx context.Context, itemID menu.ItemID) (menu.RatingAggregate, error)
	SubmitRating(ctx context.Context, itemID menu.ItemID, stars int) error
}

// Guard persists the once-per-day rating markers.
type Guard interface {
	Has(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Clock returns the current local time.
type Clock func() time.Time
