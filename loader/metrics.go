package loader

import "github.com/prometheus/client_golang/prometheus"

var (
	// tr_chunksync_pages_total{result="ok"}
	_metricPagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "pages_total",
		Help:      "The total number of fetched pages and key batches",
	}, []string{"kind", "result"})
	_metricPageRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "page_retries_total",
		Help:      "The total number of page fetch retries",
	}, []string{"kind"})
	_metricPutResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tr",
		Subsystem: "chunksync",
		Name:      "put_results_total",
		Help:      "The total number of store writes by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(_metricPagesTotal)
	prometheus.MustRegister(_metricPageRetries)
	prometheus.MustRegister(_metricPutResults)

	for _, kind := range []string{kindPage, kindKeys} {
		_metricPagesTotal.WithLabelValues(kind, "ok")
		_metricPagesTotal.WithLabelValues(kind, "error")
		_metricPageRetries.WithLabelValues(kind)
	}
	_metricPutResults.WithLabelValues("stored")
	_metricPutResults.WithLabelValues("deleted")
	_metricPutResults.WithLabelValues("unchanged")
	_metricPutResults.WithLabelValues("stale")
}
