package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(providerCallSeconds, providerBreakerState, providerRejectedTotal) }

var (
	providerCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_provider_call_seconds",
			Help:    "Provider generation latency in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"provider", "success"},
	)

	providerBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "video_provider_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		},
		[]string{"provider"},
	)

	providerRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_provider_rejected_total",
			Help: "Calls refused before reaching the provider, labeled by reason.",
		},
		[]string{"provider", "reason"}, // 'breaker_open', 'unknown'
	)
)

func ObserveProviderCall(provider string, d time.Duration, success bool) {
	providerCallSeconds.WithLabelValues(norm(provider), strconv.FormatBool(success)).Observe(d.Seconds())
}

func SetBreakerState(provider string, state int) {
	providerBreakerState.WithLabelValues(norm(provider)).Set(float64(state))
}

func IncProviderRejected(provider, reason string) {
	providerRejectedTotal.WithLabelValues(norm(provider), norm(reason)).Inc()
}
