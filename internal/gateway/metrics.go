package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's prometheus collectors, labelled by provider
type Metrics struct {
	Dispatched *prometheus.CounterVec
	Completed  *prometheus.CounterVec
	Failed     *prometheus.CounterVec
	Retried    *prometheus.CounterVec
	Throttled  *prometheus.CounterVec
	Timeouts   *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_dispatched_total",
			Help: "Requests claimed and dispatched to a provider",
		}, []string{"provider"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_completed_total",
			Help: "Requests completed successfully",
		}, []string{"provider"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_failed_total",
			Help: "Requests terminated as failed",
		}, []string{"provider"}),
		Retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_retried_total",
			Help: "Requests returned to pending with a backoff deadline",
		}, []string{"provider"}),
		Throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ticks_throttled_total",
			Help: "Driver ticks skipped because a rate window was saturated",
		}, []string{"provider"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_caller_timeouts_total",
			Help: "Submit calls that timed out before completion",
		}, []string{"provider"}),
	}

	reg.MustRegister(m.Dispatched, m.Completed, m.Failed, m.Retried, m.Throttled, m.Timeouts)
	return m
}

// NewUnregisteredMetrics creates collectors without registering them; used
// by tests that construct several gateways.
func NewUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
