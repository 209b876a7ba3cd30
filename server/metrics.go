package server

import "github.com/prometheus/client_golang/prometheus"

var (
	// tr_chunksync_requests_code_total{protocol="HTTP/1.1",code="200"} 11111
	_metricRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "requests_code_total",
		Help:      "The total number of processed requests",
	}, []string{"protocol", "code"})
	_metricRequestUnexpectedClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "requests_unexpected_closed",
		Help:      "The total number of requests closed by the client before the response",
	}, []string{"protocol", "method"})
)

func init() {
	prometheus.MustRegister(_metricRequestsTotal)
	prometheus.MustRegister(_metricRequestUnexpectedClosed)

	_metricRequestsTotal.WithLabelValues("HTTP/1.1", "200")
	_metricRequestsTotal.WithLabelValues("HTTP/1.1", "400")
	_metricRequestsTotal.WithLabelValues("HTTP/1.1", "404")
	_metricRequestsTotal.WithLabelValues("HTTP/1.1", "500")
	_metricRequestsTotal.WithLabelValues("HTTP/1.1", "503")

	_metricRequestUnexpectedClosed.WithLabelValues("HTTP/1.1", "GET")
	_metricRequestUnexpectedClosed.WithLabelValues("HTTP/1.1", "POST")
}
