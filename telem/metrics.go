package telem

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the HTTP-level collectors.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LoginRequests   *prometheus.CounterVec
	Throttled       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of request durations",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		LoginRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "login_requests_by_status_total",
			Help: "Total number of login requests by status",
		}, []string{"status"}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_throttled_total",
			Help: "Requests rejected by the per-user rate limit",
		}),
	}
	reg.MustRegister(m.Requests, m.RequestDuration, m.LoginRequests, m.Throttled)
	return m
}
