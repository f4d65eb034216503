package telemetry

import "github.com/prometheus/client_golang/prometheus"

const realtimeNamespace string = "realtime"

// Label values for the relayed-signal and dropped-message counters.
const (
	SignalTargeted  = "targeted"
	SignalBroadcast = "broadcast"

	DropMalformed     = "malformed"
	DropRoomMismatch  = "room_mismatch"
	DropUnknownTarget = "unknown_target"
	DropUnparseable   = "unparseable"
)

var (
	promConnectionsTotal  prometheus.Gauge
	promRoomsTotal        prometheus.Gauge
	promParticipantsTotal prometheus.Gauge
	promSignalsRelayed    *prometheus.CounterVec
	promLocationsRelayed  prometheus.Counter
	promMessagesDropped   *prometheus.CounterVec
)

func init() {
	promConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: realtimeNamespace,
		Subsystem: "signaling",
		Name:      "connections",
	})

	promRoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: realtimeNamespace,
		Subsystem: "signaling",
		Name:      "rooms",
	})

	promParticipantsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: realtimeNamespace,
		Subsystem: "signaling",
		Name:      "room_participants",
	})

	promSignalsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: realtimeNamespace,
			Subsystem: "signaling",
			Name:      "signals_relayed_total",
		},
		[]string{"mode"},
	)

	promLocationsRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: realtimeNamespace,
		Subsystem: "signaling",
		Name:      "location_updates_total",
	})

	promMessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: realtimeNamespace,
			Subsystem: "signaling",
			Name:      "messages_dropped_total",
		},
		[]string{"reason"},
	)

	prometheus.MustRegister(promConnectionsTotal)
	prometheus.MustRegister(promRoomsTotal)
	prometheus.MustRegister(promParticipantsTotal)
	prometheus.MustRegister(promSignalsRelayed)
	prometheus.MustRegister(promLocationsRelayed)
	prometheus.MustRegister(promMessagesDropped)
}

func ParticipantConnected() {
	promConnectionsTotal.Inc()
}

func ParticipantDisconnected() {
	promConnectionsTotal.Dec()
}

func RoomCreated() {
	promRoomsTotal.Inc()
}

func RoomDeleted() {
	promRoomsTotal.Dec()
}

func ParticipantJoined() {
	promParticipantsTotal.Inc()
}

func ParticipantLeft() {
	promParticipantsTotal.Dec()
}

func SignalRelayed(mode string) {
	promSignalsRelayed.WithLabelValues(mode).Inc()
}

func LocationRelayed() {
	promLocationsRelayed.Inc()
}

func MessageDropped(reason string) {
	promMessagesDropped.WithLabelValues(reason).Inc()
}
