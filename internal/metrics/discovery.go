package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BeaconsSent tracks presence beacons broadcast on the LAN
	BeaconsSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "beacons_sent_total",
			Help:      "Total number of presence beacons broadcast",
		},
	)

	// BeaconsReceived tracks valid beacons accepted from peers
	BeaconsReceived = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "beacons_received_total",
			Help:      "Total number of valid beacons received",
		},
	)

	// BeaconsDropped tracks dropped datagrams by reason
	BeaconsDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "beacons_dropped_total",
			Help:      "Total number of dropped beacons by reason",
		},
		[]string{"reason"}, // malformed, invalid_signature, wrong_user, self_echo
	)

	// PeersKnown tracks the current size of the peer directory
	PeersKnown = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "peers",
			Help:      "Number of live peers in the directory",
		},
	)

	// PeersEvicted tracks peers removed after timing out
	PeersEvicted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "peers_evicted_total",
			Help:      "Total number of peers evicted after timeout",
		},
	)
)
