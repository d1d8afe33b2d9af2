package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Rewriter is an http.RoundTripper that re-targets every request at the
// public URL of an active gateway. Method, path, query, headers and body are
// kept; only scheme and authority change.
type Rewriter struct {
	gateway *LifecycleManager
	next    http.RoundTripper
}

var _ http.RoundTripper = (*Rewriter)(nil)

// NewRewriter returns a Rewriter sending through next (http.DefaultTransport
// when nil).
func NewRewriter(m *LifecycleManager, next http.RoundTripper) *Rewriter {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Rewriter{gateway: m, next: next}
}

// RoundTrip implements http.RoundTripper. It fails with ErrNotActive until
// the gateway is active.
func (r *Rewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	publicURL, ok := r.gateway.activeURL()
	if !ok {
		closeBody(req)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), ErrNotActive)
	}
	out, err := RewriteRequest(req, publicURL)
	if err != nil {
		closeBody(req)
		return nil, err
	}
	return r.next.RoundTrip(out)
}

// RewriteRequest returns a copy of req addressed to publicURL + req's path
// and query. The Host header follows the new URL.
func RewriteRequest(req *http.Request, publicURL string) (*http.Request, error) {
	target, err := url.Parse(publicURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url %q: %w", publicURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("gateway url %q is not absolute", publicURL)
	}

	prefix := strings.TrimRight(target.Path, "/")
	u := &url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     prefix + req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}
	if req.URL.RawPath != "" {
		u.RawPath = strings.TrimRight(target.EscapedPath(), "/") + req.URL.RawPath
	}

	out := req.Clone(req.Context())
	out.URL = u
	out.Host = ""
	out.RequestURI = ""
	return out, nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
