package gateway

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/carte/internal/domain/menu"
)

// flexID accepts both numeric and string identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type categoryRecord struct {
	MongoID flexID `json:"_id"`
	ID      flexID `json:"id"`
	Name    string `json:"name"`
}

func (r categoryRecord) toDomain() menu.Category {
	return menu.Category{ID: menu.CategoryID(pickID(r.MongoID, r.ID)), Name: strings.TrimSpace(r.Name)}
}

type menuRecord struct {
	MongoID       flexID           `json:"_id"`
	ID            flexID           `json:"id"`
	Name          string           `json:"name"`
	Ingredients   string           `json:"ingredients"`
	Price         *decimal.Decimal `json:"price"`
	Image         string           `json:"image"`
	Available     *bool            `json:"available"`
	OutOfStock    bool             `json:"outOfStock"`
	OutOfStockAlt bool             `json:"out_of_stock"`
	Badge         string           `json:"badge"`
	CategoryID    flexID           `json:"category_id"`
}

func (r menuRecord) toDomain() menu.MenuItem {
	item := menu.MenuItem{
		ID:          menu.ItemID(pickID(r.MongoID, r.ID)),
		Name:        r.Name,
		Ingredients: r.Ingredients,
		Badge:       r.Badge,
		Image:       r.Image,
		Available:   r.Available == nil || *r.Available,
		OutOfStock:  r.OutOfStock || r.OutOfStockAlt,
		CategoryID:  menu.CategoryID(r.CategoryID),
	}
	if r.Price != nil {
		item.Price = *r.Price
	}
	return item
}

type averageRecord struct {
	AvgRating *float64 `json:"avgRating"`
	Count     *int     `json:"count"`
}

func (r averageRecord) toDomain() menu.RatingAggregate {
	agg := menu.RatingAggregate{}
	if r.AvgRating != nil {
		agg.Avg = *r.AvgRating
	}
	if r.Count != nil {
		agg.Count = *r.Count
	}
	return agg.Normalize()
}

type ratingRequest struct {
	Menu  string `json:"menu"`
	Stars int    `json:"stars"`
}

// errorRecord covers both {"message": "..."} and {"errors": {"field": ["..."]}} bodies.
type errorRecord struct {
	Message string                     `json:"message"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

func (r errorRecord) text() string {
	if msg := strings.TrimSpace(r.Message); msg != "" {
		return msg
	}
	if len(r.Errors) == 0 {
		return ""
	}
	fields := make([]string, 0, len(r.Errors))
	for field := range r.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		var list []string
		if err := json.Unmarshal(r.Errors[field], &list); err == nil {
			for _, msg := range list {
				parts = append(parts, field+" "+msg)
			}
			continue
		}
		var single string
		if err := json.Unmarshal(r.Errors[field], &single); err == nil {
			parts = append(parts, field+" "+single)
		}
	}
	return strings.Join(parts, "; ")
}

func pickID(primary, secondary flexID) string {
	if primary != "" {
		return string(primary)
	}
	return string(secondary)
}

func pathID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
