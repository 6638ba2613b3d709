// Package gateway implements the REST client of the remote menu API.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
)

const (
	opListCategories = "list_categories"
	opListMenu       = "list_menu"
	opRatingAverage  = "rating_average"
	opSubmitRating   = "submit_rating"

	headerRequestID = "X-Request-ID"
	headerClientID  = "X-Client-ID"
)

// Client talks to the menu REST API.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	opts     Options
	clientID string
	metrics  clientMetrics
}

// NewClient constructs a client for the configured base URL.
func NewClient(opts Options) (*Client, error) {
	opts = opts.normalised()
	if opts.BaseURL == "" {
		return nil, errs.New("gateway/new", errs.CodeInvalid, errs.WithMessage("base url required"))
	}
	if !strings.HasPrefix(opts.BaseURL, "http://") && !strings.HasPrefix(opts.BaseURL, "https://") {
		return nil, errs.New("gateway/new", errs.CodeInvalid,
			errs.WithMessage("base url must use http or https"),
			errs.WithField("baseURL", opts.BaseURL))
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	c := &Client{
		baseURL:  opts.BaseURL,
		http:     opts.httpClient(),
		limiter:  rate.NewLimiter(limit, opts.Burst),
		opts:     opts,
		clientID: clientID,
		metrics:  newClientMetrics(),
	}
	if opts.BreakerFailures > 0 {
		threshold := opts.BreakerFailures
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "menu-api",
			MaxRequests: defaultBreakerHalfOpen,
			Timeout:     opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !countsAsOutage(err)
			},
		})
	}
	return c, nil
}

// ClientID returns the identifier sent with every request.
func (c *Client) ClientID() string {
	return c.clientID
}

// ListCategories returns all categories in server order.
func (c *Client) ListCategories(ctx context.Context) ([]menu.Category, error) {
	var records []categoryRecord
	if err := c.get(ctx, opListCategories, "/categories", &records); err != nil {
		return nil, err
	}
	out := make([]menu.Category, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ListMenuItems returns the ordered items of one category.
func (c *Client) ListMenuItems(ctx context.Context, categoryID menu.CategoryID) ([]menu.MenuItem, error) {
	if strings.TrimSpace(string(categoryID)) == "" {
		return nil, errs.New("gateway/"+opListMenu, errs.CodeInvalid, errs.WithMessage("category id required"))
	}
	var records []menuRecord
	if err := c.get(ctx, opListMenu, "/menus/category/"+pathID(string(categoryID)), &records); err != nil {
		return nil, err
	}
	out := make([]menu.MenuItem, 0, len(records))
	for _, record := range records {
		item := record.toDomain()
		if item.CategoryID == "" {
			item.CategoryID = categoryID
		}
		out = append(out, item)
	}
	return out, nil
}

// RatingAverage returns the server-side aggregate for one item.
func (c *Client) RatingAverage(ctx context.Context, itemID menu.ItemID) (menu.RatingAggregate, error) {
	if strings.TrimSpace(string(itemID)) == "" {
		return menu.RatingAggregate{}, errs.New("gateway/"+opRatingAverage, errs.CodeInvalid, errs.WithMessage("item id required"))
	}
	var record averageRecord
	if err := c.get(ctx, opRatingAverage, "/ratings/menu/"+pathID(string(itemID))+"/average", &record); err != nil {
		return menu.RatingAggregate{}, err
	}
	return record.toDomain(), nil
}

// SubmitRating posts one rating. Submissions are never retried.
func (c *Client) SubmitRating(ctx context.Context, itemID menu.ItemID, stars int) error {
	started := time.Now()
	body, err := json.Marshal(ratingRequest{Menu: string(itemID), Stars: stars})
	if err != nil {
		return errs.New("gateway/"+opSubmitRating, errs.CodeInvalid, errs.WithCause(err))
	}
	err = c.guarded(func() error {
		return c.do(ctx, opSubmitRating, http.MethodPost, "/ratings", body, nil)
	})
	c.metrics.record(ctx, opSubmitRating, started, err)
	return err
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	started := time.Now()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.guarded(func() error {
			return c.do(ctx, op, http.MethodGet, path, nil, out)
		})
		if err != nil && (!retryable(err) || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.opts.RetryAttempts),
		backoff.WithMaxElapsedTime(c.opts.RetryMaxElapsed),
	)
	c.metrics.record(ctx, op, started, err)
	return err
}

func (c *Client) guarded(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.New("gateway", errs.CodeUnavailable,
			errs.WithMessage("menu api temporarily unavailable"),
			errs.WithCause(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.New("gateway/"+op, errs.CodeRateLimited, errs.WithCause(err))
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.New("gateway/"+op, errs.CodeInvalid, errs.WithCause(fmt.Errorf("create request: %w", err)))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerRequestID, uuid.NewString())
	req.Header.Set(headerClientID, c.clientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New("gateway/"+op, errs.CodeNetwork,
			errs.WithMessage("menu api unreachable"),
			errs.WithField("path", path),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New("gateway/"+op, errs.CodeRemote,
			errs.WithMessage("malformed response"),
			errs.WithField("path", path),
			errs.WithCause(err))
	}
	return nil
}

func statusError(op, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var payload errorRecord
	message := ""
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &payload) == nil {
		message = payload.text()
	}
	opts := []errs.Option{
		errs.WithHTTP(resp.StatusCode),
		errs.WithField("path", path),
		errs.WithCause(fmt.Errorf("http %d", resp.StatusCode)),
	}
	if message != "" {
		opts = append(opts, errs.WithMessage(message))
	}
	return errs.New("gateway/"+op, codeForStatus(resp.StatusCode), opts...)
}

func codeForStatus(status int) errs.Code {
	switch {
	case status == http.StatusNotFound:
		return errs.CodeNotFound
	case status == http.StatusConflict:
		return errs.CodeConflict
	case status == http.StatusTooManyRequests:
		return errs.CodeRateLimited
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return errs.CodeUnavailable
	case status >= 500:
		return errs.CodeRemote
	case status >= 400:
		return errs.CodeValidation
	default:
		return errs.CodeRemote
	}
}

func retryable(err error) bool {
	var e *errs.E
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case errs.CodeNetwork, errs.CodeRateLimited, errs.CodeUnavailable, errs.CodeRemote:
		return e.HTTP == 0 || e.HTTP == http.StatusTooManyRequests || e.HTTP >= 500
	default:
		return false
	}
}

// countsAsOutage reports whether err should move the breaker toward open.
// Client-side rejections (4xx) and caller cancellation do not.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var e *errs.E
	if !errors.As(err, &e) {
		return true
	}
	switch e.Code {
	case errs.CodeNetwork, errs.CodeUnavailable, errs.CodeRemote:
		return true
	default:
		return false
	}
}

func resultLabel(err error) string {
	var e *errs.E
	if errors.As(err, &e) && e.Code != "" {
		return string(e.Code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}
