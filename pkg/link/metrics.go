package link

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirror the teacher's package-level Prometheus counters in
// bmc.go (v2ConnectionOpenAttempts/v2ConnectionOpenFailures/
// v2ConnectionsOpen), generalized from one BMC session's lifecycle to
// every link variant's send/drop/decode-error lifecycle.
var (
	packetsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "link",
		Name:      "packets_sent_total",
		Help:      "LinkPackets successfully handed to the transport.",
	}, []string{"kind"})

	packetsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "link",
		Name:      "packets_dropped_total",
		Help:      "LinkPackets dropped before or after transmission.",
	}, []string{"kind", "reason"})

	decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "link",
		Name:      "decode_errors_total",
		Help:      "Inbound byte streams that failed to decode into a LinkPacket.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(packetsSent, packetsDropped, decodeErrors)
}
