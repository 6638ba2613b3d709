package menucache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
)

var errBoom = errors.New("boom")

type fakeGateway struct {
	mu         sync.Mutex
	categories []menu.Category
	items      map[menu.CategoryID][]menu.MenuItem
	aggregates map[menu.ItemID]menu.RatingAggregate
	failAgg    map[menu.ItemID]bool
	panicAgg   map[menu.ItemID]bool
	failList   bool
	failCats   bool
	submitErr  error
	// refetchFails fails every aggregate lookup once a rating has been posted.
	refetchFails bool

	listHook   func(menu.CategoryID)
	submitHook func(menu.ItemID)

	listCalls   atomic.Int32
	aggCalls    atomic.Int32
	submitCalls atomic.Int32
	submitted   []submission
}

type submission struct {
	item  menu.ItemID
	stars int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		items:      make(map[menu.CategoryID][]menu.MenuItem),
		aggregates: make(map[menu.ItemID]menu.RatingAggregate),
		failAgg:    make(map[menu.ItemID]bool),
		panicAgg:   make(map[menu.ItemID]bool),
	}
}

func (g *fakeGateway) calls() int32 {
	return g.listCalls.Load() + g.aggCalls.Load() + g.submitCalls.Load()
}

func (g *fakeGateway) ListCategories(ctx context.Context) ([]menu.Category, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCats {
		return nil, errBoom
	}
	return append([]menu.Category(nil), g.categories...), nil
}

func (g *fakeGateway) ListMenuItems(ctx context.Context, categoryID menu.CategoryID) ([]menu.MenuItem, error) {
	g.listCalls.Add(1)
	g.mu.Lock()
	hook := g.listHook
	fail := g.failList
	items := append([]menu.MenuItem(nil), g.items[categoryID]...)
	g.mu.Unlock()
	if hook != nil {
		hook(categoryID)
	}
	if fail {
		return nil, errBoom
	}
	return items, nil
}

func (g *fakeGateway) RatingAverage(ctx context.Context, itemID menu.ItemID) (menu.RatingAggregate, error) {
	g.aggCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicAgg[itemID] {
		panic("aggregate exploded")
	}
	if g.failAgg[itemID] {
		return menu.RatingAggregate{}, errBoom
	}
	if g.refetchFails && len(g.submitted) > 0 {
		return menu.RatingAggregate{}, errBoom
	}
	return g.aggregates[itemID], nil
}

func (g *fakeGateway) SubmitRating(ctx context.Context, itemID menu.ItemID, stars int) error {
	g.submitCalls.Add(1)
	g.mu.Lock()
	hook := g.submitHook
	g.mu.Unlock()
	if hook != nil {
		hook(itemID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return g.submitErr
	}
	g.submitted = append(g.submitted, submission{item: itemID, stars: stars})
	return nil
}

func (g *fakeGateway) setItems(category menu.CategoryID, ids ...menu.ItemID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	items := make([]menu.MenuItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, menu.MenuItem{ID: id, Name: "item " + string(id), CategoryID: category})
	}
	g.items[category] = items
}

func (g *fakeGateway) setAggregate(id menu.ItemID, agg menu.RatingAggregate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aggregates[id] = agg
}

type fakeGuard struct {
	mu       sync.Mutex
	keys     map[string]bool
	hasCalls int
	hasErr   error
	markErr  error
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{keys: make(map[string]bool)}
}

func (g *fakeGuard) Has(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasCalls++
	if g.hasErr != nil {
		return false, g.hasErr
	}
	return g.keys[key], nil
}

func (g *fakeGuard) Mark(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.markErr != nil {
		return g.markErr
	}
	g.keys[key] = true
	return nil
}

func (g *fakeGuard) marked(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[key]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 9, 12, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func serverRejection(message string) error {
	return errs.New("gateway/submit_rating", errs.CodeValidation,
		errs.WithHTTP(400), errs.WithMessage(message))
}
