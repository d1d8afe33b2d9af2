package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// retryAttemptsTotal counts retries granted by the policy, by failure class.
	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apigw_proxy",
			Subsystem: "transport",
			Name:      "retries_total",
			Help:      "Total number of retried HTTP attempts by failure class",
		},
		[]string{"reason"},
	)

	// retryExhaustedTotal counts requests that failed with their budget spent.
	retryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apigw_proxy",
			Subsystem: "transport",
			Name:      "retries_exhausted_total",
			Help:      "Total number of HTTP requests that exhausted their retry budget",
		},
		[]string{"reason"},
	)
)
