package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	_metricState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "controller_state",
		Help:      "The controller state (0=uninitialized 1=loading 2=ready 3=failed 4=stopped)",
	})
	_metricStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "store_chunks",
		Help:      "The number of chunks held by the store",
	})
	// tr_chunksync_loads_total{kind="full",result="ok"}
	_metricLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "loads_total",
		Help:      "The total number of full and targeted reloads",
	}, []string{"kind", "result"})
	_metricLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "load_duration_seconds",
		Help:      "The duration of reloads",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"kind"})
	_metricLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "lookups_total",
		Help:      "The total number of lookups",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(_metricState)
	prometheus.MustRegister(_metricStoreSize)
	prometheus.MustRegister(_metricLoadsTotal)
	prometheus.MustRegister(_metricLoadDuration)
	prometheus.MustRegister(_metricLookupsTotal)

	for _, kind := range []string{"full", "keys"} {
		_metricLoadsTotal.WithLabelValues(kind, "ok")
		_metricLoadsTotal.WithLabelValues(kind, "error")
		_metricLoadsTotal.WithLabelValues(kind, "aborted")
	}
	_metricLookupsTotal.WithLabelValues("hit")
	_metricLookupsTotal.WithLabelValues("miss")
}
