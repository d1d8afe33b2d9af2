package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// failure classifies the outcome of a single attempt.
type failure int

const (
	failureNone failure = iota
	failureConnect
	failureRead
	failureStatus
	failureFatal
)

func (f failure) String() string {
	switch f {
	case failureConnect:
		return "connect"
	case failureRead:
		return "read"
	case failureStatus:
		return "status"
	case failureFatal:
		return "fatal"
	}
	return "none"
}

// budget tracks the retry counters left for one request.
type budget struct {
	method  string
	url     string
	total   int
	connect int
	read    int
}

type budgetKey struct{}

// spend consumes one unit for class and reports whether a retry is allowed.
func (b *budget) spend(class failure) bool {
	if b.total <= 0 {
		return false
	}
	switch class {
	case failureConnect:
		if b.connect <= 0 {
			return false
		}
		b.connect--
	case failureRead:
		if b.read <= 0 {
			return false
		}
		b.read--
	case failureStatus:
	default:
		return false
	}
	b.total--
	return true
}

// RetryingTransport is an http.RoundTripper that retries connect failures,
// read failures and forcelisted status codes according to a RetryPolicy.
type RetryingTransport struct {
	policy RetryPolicy
	base   http.RoundTripper
	log    logr.Logger
	rt     *retryablehttp.RoundTripper
	now    func() time.Time
}

var _ http.RoundTripper = (*RetryingTransport)(nil)

// NewRetryingTransport wraps base with policy. A nil base uses a pooled
// transport from go-cleanhttp.
func NewRetryingTransport(base http.RoundTripper, policy RetryPolicy, log logr.Logger) *RetryingTransport {
	if base == nil {
		base = cleanhttp.DefaultPooledTransport()
	}
	t := &RetryingTransport{
		policy: policy,
		base:   base,
		log:    log,
		now:    time.Now,
	}
	client := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: base,
			// Redirects are left to the client this transport is mounted on.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Logger:       leveledLogger{log: log},
		RetryMax:     max(policy.Total, 0),
		CheckRetry:   t.checkRetry,
		Backoff:      t.backoff,
		ErrorHandler: surfaceLast,
	}
	t.rt = &retryablehttp.RoundTripper{Client: client}
	return t
}

// Policy returns the policy the transport was built with.
func (t *RetryingTransport) Policy() RetryPolicy {
	return t.policy
}

// RoundTrip implements http.RoundTripper.
func (t *RetryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b := &budget{
		method:  req.Method,
		url:     req.URL.Redacted(),
		total:   t.policy.Total,
		connect: t.policy.Connect,
		read:    t.policy.Read,
	}
	ctx := context.WithValue(req.Context(), budgetKey{}, b)
	return t.rt.RoundTrip(req.WithContext(ctx))
}

// CloseIdleConnections closes idle connections of the base transport.
func (t *RetryingTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

func (t *RetryingTransport) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	b, ok := ctx.Value(budgetKey{}).(*budget)
	if !ok {
		return false, nil
	}

	class := t.classify(b.method, resp, err)
	switch class {
	case failureNone, failureFatal:
		return false, nil
	case failureConnect, failureRead:
		if !t.policy.methodAllowed(b.method) {
			return false, nil
		}
	}

	if !b.spend(class) {
		retryExhaustedTotal.WithLabelValues(class.String()).Inc()
		t.log.V(1).Info("Retry budget exhausted", "method", b.method, "url", b.url, "reason", class.String())
		return false, nil
	}
	retryAttemptsTotal.WithLabelValues(class.String()).Inc()
	t.log.V(1).Info("Retrying request", "method", b.method, "url", b.url, "reason", class.String(),
		"remaining", b.total)
	return true, nil
}

func (t *RetryingTransport) classify(method string, resp *http.Response, err error) failure {
	if err != nil {
		return classifyError(err)
	}
	if resp != nil && t.policy.retryableStatus(method, resp.StatusCode) {
		return failureStatus
	}
	return failureNone
}

// classifyError maps a transport error onto a retry class. Errors raised
// before the connection was established count against the connect budget;
// timeouts and broken reads on an established connection count against read.
//
// Dial and response-header timeouts match context.DeadlineExceeded through
// errors.Is, so expiry of the caller's context is detected by checkRetry from
// the request context rather than here.
func classifyError(err error) failure {
	if errors.Is(err, context.Canceled) {
		return failureFatal
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return failureConnect
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return failureConnect
	}
	if strings.Contains(err.Error(), "TLS handshake timeout") {
		return failureConnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureRead
	}
	if opErr != nil {
		return failureRead
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return failureRead
	}
	return failureFatal
}

// surfaceLast hands the final attempt's outcome back to the caller instead of
// retryablehttp's "giving up" error: the last response for status failures,
// the last error otherwise.
func surfaceLast(resp *http.Response, err error, _ int) (*http.Response, error) {
	if err != nil && resp != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, err
}

func (t *RetryingTransport) backoff(_, _ time.Duration, attempt int, resp *http.Response) time.Duration {
	if d, ok := t.policy.retryAfter(resp, t.now()); ok {
		return d
	}
	return t.policy.Backoff(attempt)
}
