package transport

import (
	"net/http"

	"github.com/go-logr/logr"
)

// NewClient returns an http.Client whose transport retries with policy over
// a pooled base transport built from pool.
func NewClient(policy RetryPolicy, pool PoolConfig, log logr.Logger) (*http.Client, error) {
	base, err := NewPooledTransport(pool)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: NewRetryingTransport(base, policy, log)}, nil
}
