package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}

var (
	// RedeemCouponDuration tracks the latency of coupon redemption
	RedeemCouponDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coupon_redeem_duration_seconds",
			Help:    "Duration of coupon redemption requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"result"}, // success, rejected or error
	)

	// RedemptionsTotal counts redemption attempts by outcome reason
	RedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Total number of redemption attempts by reason",
		},
		[]string{"reason"},
	)

	// CouponsGeneratedTotal counts persisted coupons
	CouponsGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_generated_total",
			Help: "Total number of coupons persisted by the batch issuer",
		},
	)

	// DuplicatesAvoidedTotal counts generated codes discarded as duplicates
	DuplicatesAvoidedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_generation_duplicates_avoided_total",
			Help: "Total number of generated codes discarded because they already existed",
		},
	)

	// GenerationRequestsTotal counts finished generation requests by status
	GenerationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_generation_requests_total",
			Help: "Total number of generation requests by final status",
		},
		[]string{"status"},
	)

	// GenerationDuration tracks how long a generation request runs
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coupon_generation_duration_seconds",
			Help:    "Duration of generation requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	// StatsFallbackTotal counts stats reads answered with zeros after a failure
	StatsFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_stats_fallback_total",
			Help: "Total number of campaign stats reads that fell back to zero values",
		},
	)

	// HTTPRequestDuration tracks HTTP latency by route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coupon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordRedeemCouponDuration records the duration of a coupon redemption request
func RecordRedeemCouponDuration(result string, duration float64) {
	RedeemCouponDuration.WithLabelValues(result).Observe(duration)
}

// RecordRedemption counts one redemption attempt
func RecordRedemption(reason string) {
	if reason == "" {
		reason = "SUCCESS"
	}
	RedemptionsTotal.WithLabelValues(reason).Inc()
}

// RecordGenerationFinished records the terminal state of a generation request
func RecordGenerationFinished(status string, duration float64) {
	GenerationRequestsTotal.WithLabelValues(status).Inc()
	GenerationDuration.Observe(duration)
}
