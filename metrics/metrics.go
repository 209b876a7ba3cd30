package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	RequestsCodeTotalName = "tr_chunksync_requests_code_total"
	LookupsTotal          = "tr_chunksync_lookups_total"
	StoreChunks           = "tr_chunksync_store_chunks"
	ControllerState       = "tr_chunksync_controller_state"
	NotificationsTotal    = "tr_chunksync_notifications_total"
)

// CounterSmoother turns a monotonically increasing counter into an
// exponentially smoothed per-tick rate.
type CounterSmoother struct {
	lastValue float64
	smoothed  float64
	Alpha     float64
	isInit    bool
}

func (s *CounterSmoother) Update(currentTotal float64) float64 {
	if !s.isInit {
		s.lastValue = currentTotal
		s.isInit = true
		return 0
	}

	delta := currentTotal - s.lastValue
	if delta < 0 {
		delta = 0
	}

	s.smoothed = s.Alpha*delta + (1-s.Alpha)*s.smoothed
	s.lastValue = currentTotal

	return s.smoothed
}

type RequestsCodeTotal struct {
	Code  string  `json:"code"`
	Count float64 `json:"count"`
}

func CollectorRequestsCodeTotal() []*RequestsCodeTotal {
	totals := make([]*RequestsCodeTotal, 0)
	for _, mf := range Gather() {
		if mf.GetName() != RequestsCodeTotalName {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.Label {
				if label.GetName() == "code" {
					totals = append(totals, &RequestsCodeTotal{
						Code:  label.GetValue(),
						Count: metric.GetCounter().GetValue(),
					})
				}
			}
		}
	}
	return totals
}

// Values returns the counter or gauge values of the family name, keyed by
// the value of label. An empty label sums every series under "".
func Values(families []*dto.MetricFamily, name, label string) map[string]float64 {
	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			key := ""
			for _, l := range metric.GetLabel() {
				if l.GetName() == label {
					key = l.GetValue()
				}
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] += metric.GetGauge().GetValue()
			}
		}
	}
	return out
}

func Gather() []*dto.MetricFamily {
	familys, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil
	}
	return familys
}
