package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	_metricNotifyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "notify_requests_total",
		Help:      "Total number of push notification requests",
	}, []string{"code"})
)

func init() {
	prometheus.MustRegister(_metricNotifyRequestsTotal)

	_metricNotifyRequestsTotal.WithLabelValues("202")
	_metricNotifyRequestsTotal.WithLabelValues("400")
	_metricNotifyRequestsTotal.WithLabelValues("403")
}
