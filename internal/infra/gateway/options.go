package gateway

import (
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultRetryAttempts   = 2
	defaultRetryMaxElapsed = 3 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	defaultBreakerHalfOpen = 1
	maxErrorBodyBytes      = 4 << 10
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond <= 0 disables client-side limiting.
	RequestsPerSecond float64
	Burst             int
	// RetryAttempts bounds the tries of idempotent GETs; 1 disables retries.
	RetryAttempts   uint
	RetryMaxElapsed time.Duration
	// BreakerFailures consecutive failures open the breaker; 0 disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	ClientID        string
	HTTPClient      *http.Client
}

func (o Options) normalised() Options {
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = defaultRetryMaxElapsed
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = defaultBreakerCooldown
	}
	o.ClientID = strings.TrimSpace(o.ClientID)
	return o
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: o.Timeout}
}
