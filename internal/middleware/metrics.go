package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PanicsRecovered counts panics caught by the recovery middleware.
	PanicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "middleware_panics_recovered_total",
			Help: "Total number of panics recovered in HTTP handlers",
		},
	)

	// RateLimitRejections counts requests rejected by the rate limiter.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "middleware_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
