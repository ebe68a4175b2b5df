package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Clients  prometheus.Gauge
	Watches  prometheus.Gauge
	Ops      *prometheus.CounterVec
	Cleanups prometheus.Counter
	Swept    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle",
			Name:      "connected_clients",
			Help:      "Websocket clients currently connected.",
		}),
		Watches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle",
			Name:      "active_watches",
			Help:      "Prefix watches currently registered by clients.",
		}),
		Ops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "store_operations_total",
			Help:      "Store operations requested by clients.",
		}, []string{"op", "result"}),
		Cleanups: f.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "disconnect_cleanups_total",
			Help:      "Keys deleted because their owner's connection dropped.",
		}),
		Swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "rooms_swept_total",
			Help:      "Abandoned rooms deleted by the janitor.",
		}),
	}
}

func (m *Metrics) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Ops.WithLabelValues(op, result).Inc()
}
