package transport

import (
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Default retry policy values.
const (
	DefaultTotalRetries   = 5
	DefaultConnectRetries = 3
	DefaultReadRetries    = 2
	DefaultBackoffFactor  = 0.5
	DefaultBackoffMax     = 120 * time.Second
)

// DefaultStatusForcelist is the set of status codes retried by default.
var DefaultStatusForcelist = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// DefaultMethods is the default idempotent method allow-list.
var DefaultMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// RetryPolicy bounds how a RetryingTransport retries a single exchange.
//
// Total is checked before Connect and Read, so Connect or Read values above
// Total have no effect. A zero counter disables retries of that class.
type RetryPolicy struct {
	// Total is the overall retry budget per request.
	Total int
	// Connect is the budget for failures before a response was received.
	Connect int
	// Read is the budget for timeouts or broken reads after the request was sent.
	Read int
	// BackoffFactor is in seconds; retry n (0-based) waits BackoffFactor * 2^n.
	BackoffFactor float64
	// BackoffMax caps a single backoff wait. Zero means DefaultBackoffMax.
	BackoffMax time.Duration
	// StatusForcelist lists response codes that trigger a retry.
	StatusForcelist []int
	// Methods lists methods eligible for connect and read retries.
	Methods []string
	// StatusRetryAnyMethod applies StatusForcelist retries to every method
	// instead of only to Methods.
	StatusRetryAnyMethod bool
	// RespectRetryAfter honours a Retry-After header on 429 and 503 responses.
	RespectRetryAfter bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Total:                DefaultTotalRetries,
		Connect:              DefaultConnectRetries,
		Read:                 DefaultReadRetries,
		BackoffFactor:        DefaultBackoffFactor,
		BackoffMax:           DefaultBackoffMax,
		StatusForcelist:      slices.Clone(DefaultStatusForcelist),
		Methods:              slices.Clone(DefaultMethods),
		StatusRetryAnyMethod: true,
		RespectRetryAfter:    true,
	}
}

// NoRetries returns a policy that never retries.
func NoRetries() RetryPolicy {
	return RetryPolicy{}
}

// Backoff returns the wait before retry attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BackoffFactor <= 0 || attempt < 0 {
		return 0
	}
	limit := p.BackoffMax
	if limit <= 0 {
		limit = DefaultBackoffMax
	}
	wait := p.BackoffFactor * math.Pow(2, float64(attempt)) * float64(time.Second)
	if wait > float64(limit) {
		return limit
	}
	return time.Duration(wait)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func (p RetryPolicy) retryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	if !p.RespectRetryAfter || resp == nil {
		return 0, false
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func (p RetryPolicy) methodAllowed(method string) bool {
	for _, m := range p.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (p RetryPolicy) retryableStatus(method string, code int) bool {
	if !slices.Contains(p.StatusForcelist, code) {
		return false
	}
	return p.StatusRetryAnyMethod || p.methodAllowed(method)
}
