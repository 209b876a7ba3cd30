package listener

import "github.com/prometheus/client_golang/prometheus"

var (
	// tr_chunksync_notifications_total{result="forwarded"}
	_metricNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "notifications_total",
		Help:      "The total number of received notification keys by result",
	}, []string{"result"})
	_metricBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "notification_batches_total",
		Help:      "The total number of coalesced batches forwarded to the controller",
	}, []string{"result"})
	_metricReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "push_reconnects_total",
		Help:      "The total number of push channel reconnects",
	})
)

func init() {
	prometheus.MustRegister(_metricNotifications)
	prometheus.MustRegister(_metricBatches)
	prometheus.MustRegister(_metricReconnects)

	_metricNotifications.WithLabelValues("received")
	_metricNotifications.WithLabelValues("malformed")
	_metricBatches.WithLabelValues("ok")
	_metricBatches.WithLabelValues("error")
}
