// Package metrics exposes the emulator's Prometheus counters and gauges:
// the global loss/receive accounting the spec requires (§7, §8 property 4)
// plus a few dataplane gauges useful for operating more than a handful of
// routers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	lossPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsim_loss_packets_total",
		Help: "Total packets dropped after being accepted into a router's queue or forwarding path.",
	})
	lossBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsim_loss_bytes_total",
		Help: "Total payload bytes (excluding the 6-byte header) lost across all drop reasons counted in netsim_loss_packets_total.",
	})
	receivePackets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsim_receive_packets_total",
		Help: "Total client frames accepted off the ingress socket, including oversize frames that are immediately dropped.",
	})
	receiveBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsim_receive_bytes_total",
		Help: "Total bytes read off the ingress socket for accepted client frames.",
	})
	dropReasons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsim_drop_reasons_total",
		Help: "Drop counts broken out by reason string, for operators debugging a specific topology.",
	}, []string{"reason"})
	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsim_router_queue_depth",
		Help: "Current number of messages waiting in a router's bounded forwarding queue.",
	}, []string{"router"})
	routeTableSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsim_router_routes",
		Help: "Current number of destinations in a router's routing table.",
	}, []string{"router"})
	routerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netsim_routers",
		Help: "Current number of routers known to the registry.",
	})
)

func init() {
	prometheus.MustRegister(
		lossPackets,
		lossBytes,
		receivePackets,
		receiveBytes,
		dropReasons,
		queueDepth,
		routeTableSize,
		routerCount,
	)
}

// Metrics is a thin, allocation-free facade over the package-level
// collectors above, passed by reference into the dataplane the way the
// Emulator context is (spec §9 design note on avoiding process-wide
// globals reached directly from deep call sites).
type Metrics struct{}

// New returns a Metrics handle over the package's process-wide collectors,
// registered once in init.
func New() *Metrics {
	return &Metrics{}
}

// RecordReceive accounts a client frame accepted off the ingress socket.
func (m *Metrics) RecordReceive(length int) {
	receivePackets.Inc()
	receiveBytes.Add(float64(length))
}

// RecordDrop accounts a dropped packet whose payload (excluding the 6-byte
// header) was payloadLen bytes, under the given drop reason.
func (m *Metrics) RecordDrop(reason string, payloadLen int) {
	lossPackets.Inc()
	lossBytes.Add(float64(payloadLen))
	dropReasons.WithLabelValues(reason).Inc()
}

// SetQueueDepth publishes a router's current queue length.
func (m *Metrics) SetQueueDepth(router string, depth int) {
	queueDepth.WithLabelValues(router).Set(float64(depth))
}

// SetRouteTableSize publishes a router's current routing table size.
func (m *Metrics) SetRouteTableSize(router string, size int) {
	routeTableSize.WithLabelValues(router).Set(float64(size))
}

// SetRouterCount publishes the registry's current router count.
func (m *Metrics) SetRouterCount(n int) {
	routerCount.Set(float64(n))
}
