package mesh

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles every Prometheus collector this package exports. One set
// is created per Net and registered against that Net's own registry, so two
// Nets in the same process (e.g. a parent and a demultiplexed child) never
// collide on metric identity.
type metrics struct {
	peersConnected prometheus.Gauge
	framesSent     *prometheus.CounterVec
	framesRecv     *prometheus.CounterVec
	queueDrops     prometheus.Counter
	queueDedupes   prometheus.Counter
	ackTimeouts    prometheus.Counter
	subnetKills    *prometheus.CounterVec
}

func newMetrics(namespace string, reg prometheus.Registerer) *metrics {
	m := &metrics{
		peersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Peers currently in the Connected state.",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to peer sockets, by wire type.",
		}, []string{"type"}),
		framesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from peer sockets, by wire type.",
		}, []string{"type"}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_full_total",
			Help:      "Enqueues rejected because a peer's send queue was full.",
		}),
		queueDedupes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dedupes_total",
			Help:      "Enqueues dropped by the NODUPE head-type check.",
		}),
		ackTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_timeouts_total",
			Help:      "SendMessagePayloadAck calls that hit their deadline.",
		}),
		subnetKills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subnet_kills_total",
			Help:      "killSubnet invocations, by suffix.",
		}, []string{"suffix"}),
	}
	if reg != nil {
		reg.MustRegister(m.peersConnected, m.framesSent, m.framesRecv,
			m.queueDrops, m.queueDedupes, m.ackTimeouts, m.subnetKills)
	}
	return m
}
