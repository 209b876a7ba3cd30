package recovery

import "github.com/prometheus/client_golang/prometheus"

var _metricPanics = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tr",
	Subsystem: "chunksync",
	Name:      "handler_panics_total",
	Help:      "The total number of recovered handler panics",
})

func init() {
	prometheus.MustRegister(_metricPanics)
}
