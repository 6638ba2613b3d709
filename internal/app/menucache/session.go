package menucache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
	"github.com/coachpo/carte/internal/observability"
)

// Status messages shown next to an item after a rating attempt.
const (
	MsgAlreadyRated    = "You have already rated this item today."
	MsgThanks          = "Thank you for your rating!"
	MsgSubmitFailed    = "Failed to submit rating. Please try again."
	MsgCategoriesError = "Failed to fetch categories"
	MsgMenuError       = "Failed to fetch menu items"
)

// View is a point-in-time copy of the session state a UI renders.
type View struct {
	Categories       []menu.Category                      `json:"categories"`
	SelectedCategory menu.CategoryID                      `json:"selectedCategory,omitempty"`
	Items            []menu.MenuItem                      `json:"menuItems"`
	Ratings          map[menu.ItemID]menu.RatingAggregate `json:"menuRatings"`
	Loading          bool                                 `json:"loading"`
	MenuLoading      bool                                 `json:"menuLoading"`
	Error            string                               `json:"error,omitempty"`
	Selections       map[menu.ItemID]int                  `json:"rating"`
	Messages         map[menu.ItemID]string               `json:"ratingMsg"`
}

func newView() View {
	return View{
		Categories: []menu.Category{},
		Items:      []menu.MenuItem{},
		Ratings:    map[menu.ItemID]menu.RatingAggregate{},
		Selections: map[menu.ItemID]int{},
		Messages:   map[menu.ItemID]string{},
	}
}

func (v View) clone() View {
	out := v
	out.Categories = append([]menu.Category{}, v.Categories...)
	out.Items = append([]menu.MenuItem{}, v.Items...)
	out.Ratings = make(map[menu.ItemID]menu.RatingAggregate, len(v.Ratings))
	for k, val := range v.Ratings {
		out.Ratings[k] = val
	}
	out.Selections = make(map[menu.ItemID]int, len(v.Selections))
	for k, val := range v.Selections {
		out.Selections[k] = val
	}
	out.Messages = make(map[menu.ItemID]string, len(v.Messages))
	for k, val := range v.Messages {
		out.Messages[k] = val
	}
	return out
}

// Session is the stateful facade a menu UI drives: category selection,
// pending star selections and per-item status messages over a shared Cache.
type Session struct {
	mu     sync.Mutex
	state  View
	seq    uint64
	cache  *Cache
	logger observability.Logger
}

// NewSession constructs an empty session over the cache.
func NewSession(cache *Cache, logger observability.Logger) *Session {
	if logger == nil {
		logger = observability.Log()
	}
	return &Session{state: newView(), cache: cache, logger: logger}
}

// View returns a copy of the current session state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Categories returns the last loaded category list.
func (s *Session) Categories() []menu.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]menu.Category{}, s.state.Categories...)
}

// LoadCategories fetches the category list and selects the first category.
// A failure loading that first category is reflected in the view only.
func (s *Session) LoadCategories(ctx context.Context) ([]menu.Category, error) {
	s.mu.Lock()
	s.state.Loading = true
	s.state.Error = ""
	s.mu.Unlock()

	categories, err := s.cache.gateway.ListCategories(ctx)

	s.mu.Lock()
	s.state.Loading = false
	if err != nil {
		s.state.Error = MsgCategoriesError
		s.mu.Unlock()
		return nil, errs.New("menucache/categories", errs.CodeUnavailable,
			errs.WithCanonicalCode(errs.CanonicalListFetchFailed),
			errs.WithCause(err))
	}
	if categories == nil {
		categories = []menu.Category{}
	}
	s.state.Categories = append([]menu.Category{}, categories...)
	s.mu.Unlock()

	if len(categories) > 0 {
		if _, err := s.SelectCategory(ctx, categories[0].ID); err != nil {
			s.logger.Warn("initial category load failed",
				observability.F("category", string(categories[0].ID)),
				observability.F("error", err))
		}
	}
	return categories, nil
}

// SelectCategory makes the category current and returns its snapshot,
// served from cache when still valid.
func (s *Session) SelectCategory(ctx context.Context, categoryID menu.CategoryID) (menu.CategorySnapshot, error) {
	return s.selectCategory(ctx, categoryID, false)
}

// RefreshCurrent rebuilds the selected category. It is a no-op without a
// selection.
func (s *Session) RefreshCurrent(ctx context.Context) (menu.CategorySnapshot, error) {
	s.mu.Lock()
	current := s.state.SelectedCategory
	s.mu.Unlock()
	if current == "" {
		return menu.CategorySnapshot{}, nil
	}
	return s.selectCategory(ctx, current, true)
}

// RefreshCategory makes the category current and rebuilds its snapshot.
func (s *Session) RefreshCategory(ctx context.Context, categoryID menu.CategoryID) (menu.CategorySnapshot, error) {
	return s.selectCategory(ctx, categoryID, true)
}

func (s *Session) selectCategory(ctx context.Context, categoryID menu.CategoryID, force bool) (menu.CategorySnapshot, error) {
	categoryID = menu.CategoryID(strings.TrimSpace(string(categoryID)))
	if categoryID == "" {
		return menu.CategorySnapshot{}, errs.New("menucache/select", errs.CodeInvalid, errs.WithMessage("category id required"))
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.state.SelectedCategory = categoryID
	s.mu.Unlock()

	snap, err := s.cache.get(ctx, categoryID, force, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if seq != s.seq {
			return
		}
		// Items are not authoritative until MenuLoading clears.
		s.state.MenuLoading = true
		s.state.Items = []menu.MenuItem{}
		s.state.Ratings = map[menu.ItemID]menu.RatingAggregate{}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		// A later selection owns the view.
		return snap, err
	}
	s.state.MenuLoading = false
	if err != nil {
		s.state.Error = MsgMenuError
		return menu.CategorySnapshot{}, err
	}
	s.state.Items = append([]menu.MenuItem{}, snap.Items...)
	s.state.Ratings = make(map[menu.ItemID]menu.RatingAggregate, len(snap.Ratings))
	for id, agg := range snap.Ratings {
		s.state.Ratings[id] = agg
	}
	return snap, nil
}

// SelectRating sets the pending star selection for the item and clears its
// status message. Selecting the current value again clears the selection.
// It returns the resulting selection.
func (s *Session) SelectRating(itemID menu.ItemID, stars int) (int, error) {
	itemID = menu.ItemID(strings.TrimSpace(string(itemID)))
	if itemID == "" {
		return 0, errs.New("menucache/select-rating", errs.CodeInvalid, errs.WithMessage("item id required"))
	}
	if stars != 0 && !menu.ValidStars(stars) {
		return 0, errs.New("menucache/select-rating", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("stars must be between %d and %d", menu.MinStars, menu.MaxStars)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Selections[itemID] == stars {
		stars = 0
	}
	if stars == 0 {
		delete(s.state.Selections, itemID)
	} else {
		s.state.Selections[itemID] = stars
	}
	s.state.Messages[itemID] = ""
	return stars, nil
}

// SubmitRating submits the pending selection for the item and updates the
// item's status message.
func (s *Session) SubmitRating(ctx context.Context, itemID menu.ItemID) (SubmitResult, error) {
	itemID = menu.ItemID(strings.TrimSpace(string(itemID)))
	s.mu.Lock()
	stars := s.state.Selections[itemID]
	s.mu.Unlock()

	res, err := s.cache.SubmitRating(ctx, itemID, stars)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch res.Outcome {
	case NoSelection:
	case AlreadyRatedToday:
		s.state.Messages[itemID] = MsgAlreadyRated
	case SubmissionFailed:
		s.state.Messages[itemID] = failureMessage(err)
	case Submitted:
		delete(s.state.Selections, itemID)
		s.state.Messages[itemID] = MsgThanks
		if _, listed := s.state.Ratings[itemID]; listed {
			s.state.Ratings[itemID] = res.Aggregate
		}
	}
	return res, err
}

// Reset clears the session and every cached snapshot.
func (s *Session) Reset() {
	s.cache.Reset()
	s.mu.Lock()
	s.seq++
	s.state = newView()
	s.mu.Unlock()
}

// failureMessage prefers the server's own message for rejected submissions.
func failureMessage(err error) string {
	var e *errs.E
	if errors.As(err, &e) && e.Code == errs.CodeInvalid {
		if msg := errs.UserMessage(err); msg != "" {
			return msg
		}
	}
	if msg := serverMessage(err); msg != "" {
		return msg
	}
	return MsgSubmitFailed
}

func serverMessage(err error) string {
	for err != nil {
		var e *errs.E
		if !errors.As(err, &e) {
			return ""
		}
		if e.HTTP >= 400 && e.Message != "" {
			return e.Message
		}
		err = errors.Unwrap(e)
	}
	return ""
}
