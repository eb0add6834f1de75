package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dtf"

var (
	RecordsDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Total number of records decoded from chunks.",
		},
	)

	ChunksDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_decoded_total",
			Help:      "Total number of chunks decoded.",
		},
	)

	DefectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "defects_total",
			Help:      "Total number of integrity defects reported by the checker.",
		},
		[]string{"kind"}, // time_gap/time_regression/sequence_gap/...
	)

	CandleLateDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candle_late_drops_total",
			Help:      "Records dropped by the aggregator because their bucket was already closed.",
		},
	)

	RepairDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_dropped_total",
			Help:      "Records dropped by the repairer.",
		},
		[]string{"reason"}, // regression/duplicate
	)
)

func MustRegister() {
	MustRegisterTo(prometheus.DefaultRegisterer)
}

// MustRegisterTo 测试里用独立的 registry，避免重复注册 panic
func MustRegisterTo(r prometheus.Registerer) {
	r.MustRegister(RecordsDecoded, ChunksDecoded, DefectsTotal, CandleLateDrops, RepairDropped)
}
