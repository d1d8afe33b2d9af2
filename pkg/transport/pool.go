package transport

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	// DefaultDialTimeout bounds establishing a TCP connection.
	DefaultDialTimeout = 5 * time.Second
	// DefaultResponseHeaderTimeout bounds waiting for response headers once
	// the request has been written.
	DefaultResponseHeaderTimeout = 10 * time.Second
)

// PoolConfig configures the pooled base transport.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	// Proxies maps a URL scheme ("http", "https"), a "scheme://host" pair or
	// "all" to a proxy URL. When empty the environment proxy settings apply.
	Proxies map[string]string
}

// DefaultPoolConfig returns the pool settings used by NewClient.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		DialTimeout:           DefaultDialTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
	}
}

// NewPooledTransport builds an http.Transport from go-cleanhttp's pooled
// defaults with cfg applied on top. Zero fields keep the cleanhttp value.
func NewPooledTransport(cfg PoolConfig) (*http.Transport, error) {
	tr := cleanhttp.DefaultPooledTransport()
	if cfg.MaxIdleConns > 0 {
		tr.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		tr.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		tr.IdleConnTimeout = cfg.IdleConnTimeout
	}
	if cfg.DialTimeout > 0 {
		tr.DialContext = (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	if cfg.ResponseHeaderTimeout > 0 {
		tr.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	}
	proxy, err := proxyFunc(cfg.Proxies)
	if err != nil {
		return nil, err
	}
	tr.Proxy = proxy
	return tr, nil
}

func proxyFunc(proxies map[string]string) (func(*http.Request) (*url.URL, error), error) {
	if len(proxies) == 0 {
		return http.ProxyFromEnvironment, nil
	}
	parsed := make(map[string]*url.URL, len(proxies))
	for key, raw := range proxies {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("proxy for %q: %w", key, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy for %q: %q is not an absolute URL", key, raw)
		}
		parsed[strings.ToLower(key)] = u
	}
	return func(req *http.Request) (*url.URL, error) {
		scheme := strings.ToLower(req.URL.Scheme)
		for _, key := range []string{scheme + "://" + strings.ToLower(req.URL.Hostname()), scheme, "all"} {
			if u, ok := parsed[key]; ok {
				return u, nil
			}
		}
		return nil, nil
	}, nil
}
