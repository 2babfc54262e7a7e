package tbc

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	exchanges *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tbc_installment_requests_total",
			Help: "Requests to the bank by operation and response status code.",
		}, []string{"operation", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tbc_installment_request_duration_seconds",
			Help:    "Duration of requests to the bank.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}, []string{"operation"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tbc_installment_token_exchanges_total",
			Help: "OAuth token exchanges by result.",
		}, []string{"result"}),
	}
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.requests.Describe(ch)
	m.duration.Describe(ch)
	m.exchanges.Describe(ch)
}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.requests.Collect(ch)
	m.duration.Collect(ch)
	m.exchanges.Collect(ch)
}
