package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// controlPlaneRequestsTotal counts control-plane calls by method and status code.
	controlPlaneRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apigw_proxy",
			Subsystem: "control_plane",
			Name:      "requests_total",
			Help:      "Total number of control-plane requests by method and status code",
		},
		[]string{"method", "code"},
	)

	// gatewayOperationsTotal counts Open and Close outcomes.
	gatewayOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apigw_proxy",
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Total number of gateway lifecycle operations by result",
		},
		[]string{"operation", "result"},
	)

	// provisionDuration measures how long Open took to reach an active gateway.
	provisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apigw_proxy",
			Subsystem: "gateway",
			Name:      "provision_duration_seconds",
			Help:      "Time from Open to an active gateway in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)
)
