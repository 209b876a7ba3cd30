package verifier

import "github.com/prometheus/client_golang/prometheus"

var (
	// Labels result
	//	e.g. match, mismatch, skipped
	_metricVerifierChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "verifier_checks_total",
		Help:      "Total number of verified chunk hashes",
	}, []string{"result"})

	// Labels http.StatusCode  if code is 0 means network problem.
	//	e.g. 200, 400, 500 ...
	_metricVerifierRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "verifier_requests_total",
		Help:      "Total number of verifier reports",
	}, []string{"code"})
)

func init() {
	prometheus.MustRegister(_metricVerifierChecksTotal, _metricVerifierRequestsTotal)

	_metricVerifierChecksTotal.WithLabelValues("match")
	_metricVerifierChecksTotal.WithLabelValues("mismatch")
	_metricVerifierRequestsTotal.WithLabelValues("409")
	_metricVerifierRequestsTotal.WithLabelValues("200")
	_metricVerifierRequestsTotal.WithLabelValues("0")
}
