package metrics

import (
	"net/http"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	ordersPlaced    prometheus.Counter
	orderFailures   *prometheus.CounterVec
	orderDuration   prometheus.Histogram
	outboxPublished *prometheus.CounterVec
}

// New builds a registry with the process collectors and the storefront
// counters. The gRPC server metrics are registered when withGRPC is set.
func New(withGRPC bool) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if withGRPC {
		grpc_prometheus.EnableHandlingTimeHistogram()
		reg.MustRegister(grpc_prometheus.DefaultServerMetrics)
	}

	m := &Metrics{
		Registry: reg,
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "orders_placed_total",
			Help:      "Orders committed with status COMPLETED.",
		}),
		orderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "order_failures_total",
			Help:      "Rejected or failed order placements by failure kind.",
		}, []string{"kind"}),
		orderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "place_order_duration_seconds",
			Help:      "Time spent placing an order, successful or not.",
			Buckets:   prometheus.DefBuckets,
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "outbox_published_total",
			Help:      "Outbox publish attempts by topic and result.",
		}, []string{"topic", "result"}),
	}

	reg.MustRegister(m.ordersPlaced, m.orderFailures, m.orderDuration, m.outboxPublished)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
	})
}
