package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
)

func newTestClient(t *testing.T, handler http.Handler, mutate func(*Options)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts := Options{
		BaseURL:         srv.URL,
		Timeout:         2 * time.Second,
		RetryAttempts:   1,
		RetryMaxElapsed: time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := NewClient(opts)
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsMissingBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)

	_, err = NewClient(Options{BaseURL: "ftp://menu"})
	require.Error(t, err)
}

func TestListCategoriesAcceptsBothIDKeys(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/categories", r.URL.Path)
		require.NotEmpty(t, r.Header.Get(headerRequestID))
		_, _ = io.WriteString(w, `[{"_id":1,"name":"Starters"},{"id":"mains","name":"Mains"}]`)
	}), nil)

	categories, err := client.ListCategories(context.Background())
	require.NoError(t, err)
	require.Equal(t, []menu.Category{
		{ID: "1", Name: "Starters"},
		{ID: "mains", Name: "Mains"},
	}, categories)
}

func TestListMenuItemsDecodesItems(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/menus/category/7", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"_id":11,"name":"Soup","ingredients":"leek","price":"6.50","available":true,"outOfStock":false,"badge":"new","category_id":7},
			{"id":12,"name":"Bread","price":3,"available":false,"outOfStock":true}
		]`)
	}), nil)

	items, err := client.ListMenuItems(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, menu.ItemID("11"), items[0].ID)
	require.Equal(t, "6.5", items[0].Price.String())
	require.Equal(t, "new", items[0].Badge)
	require.True(t, items[0].Available)
	require.Equal(t, menu.CategoryID("7"), items[0].CategoryID)

	require.Equal(t, menu.ItemID("12"), items[1].ID)
	require.Equal(t, "3", items[1].Price.String())
	require.False(t, items[1].Available)
	require.True(t, items[1].OutOfStock)
	require.Equal(t, menu.CategoryID("7"), items[1].CategoryID)
}

func TestRatingAverageTreatsNullAsZero(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ratings/menu/1/average":
			_, _ = io.WriteString(w, `{"avgRating":4.25,"count":4}`)
		case "/ratings/menu/2/average":
			_, _ = io.WriteString(w, `{"avgRating":null,"count":0}`)
		default:
			http.NotFound(w, r)
		}
	}), nil)

	agg, err := client.RatingAverage(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, menu.RatingAggregate{Avg: 4.25, Count: 4}, agg)

	agg, err = client.RatingAverage(context.Background(), "2")
	require.NoError(t, err)
	require.Equal(t, menu.RatingAggregate{}, agg)
}

func TestSubmitRatingPostsBody(t *testing.T) {
	var got ratingRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ratings", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"_id":99,"menu":5,"stars":4}`)
	}), nil)

	require.NoError(t, client.SubmitRating(context.Background(), "5", 4))
	require.Equal(t, ratingRequest{Menu: "5", Stars: 4}, got)
}

func TestSubmitRatingSurfacesServerMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"Menu and stars are required."}`)
	}), nil)

	err := client.SubmitRating(context.Background(), "5", 4)
	require.Error(t, err)
	require.Equal(t, "Menu and stars are required.", errs.UserMessage(err))

	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeValidation, e.Code)
	require.Equal(t, http.StatusBadRequest, e.HTTP)
}

func TestSubmitRatingFlattensValidationErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"errors":{"stars":["must be less than or equal to 5"],"menu":["must exist"]}}`)
	}), nil)

	err := client.SubmitRating(context.Background(), "5", 4)
	require.Error(t, err)
	require.Equal(t, "menu must exist; stars must be less than or equal to 5", errs.UserMessage(err))
}

func TestSubmitRatingIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), func(o *Options) { o.RetryAttempts = 3 })

	require.Error(t, client.SubmitRating(context.Background(), "5", 4))
	require.Equal(t, int32(1), calls.Load())
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"avgRating":3,"count":1}`)
	}), func(o *Options) { o.RetryAttempts = 3 })

	agg, err := client.RatingAverage(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, menu.RatingAggregate{Avg: 3, Count: 1}, agg)
	require.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}), func(o *Options) { o.RetryAttempts = 3 })

	_, err := client.ListMenuItems(context.Background(), "404")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeNotFound, e.Code)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), func(o *Options) {
		o.BreakerFailures = 2
		o.BreakerCooldown = time.Minute
	})

	for i := 0; i < 2; i++ {
		_, err := client.ListCategories(context.Background())
		require.Error(t, err)
	}
	_, err := client.ListCategories(context.Background())
	require.Error(t, err)

	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeUnavailable, e.Code)
	require.Equal(t, int32(2), calls.Load())
}

func TestMalformedBodyIsRemoteError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	}), nil)

	_, err := client.ListCategories(context.Background())
	require.Error(t, err)
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeRemote, e.Code)
}

func TestClientIDIsStable(t *testing.T) {
	var seen []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get(headerClientID))
		_, _ = io.WriteString(w, `[]`)
	}), func(o *Options) { o.ClientID = "kiosk-1" })

	_, err := client.ListCategories(context.Background())
	require.NoError(t, err)
	_, err = client.ListCategories(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"kiosk-1", "kiosk-1"}, seen)
	require.Equal(t, "kiosk-1", client.ClientID())
}
