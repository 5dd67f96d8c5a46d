package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_transport_connections",
		Help: "Current number of open transport connections",
	})
	AuthenticatedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_authenticated_sessions",
		Help: "Current number of authenticated sessions",
	})
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_calls",
		Help: "Current number of calls in ringing or connected state",
	})
	VideoRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_video_rooms",
		Help: "Current number of live video rooms",
	})
	VideoRoomParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_video_room_participants",
		Help: "Current number of video room participants across all rooms",
	})
	MessagesFannedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_messages_fanned_out_total",
		Help: "Total chat message deliveries dispatched to sessions",
	})
	SignalsRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_signals_relayed_total",
		Help: "Total SDP/ICE frames relayed between sessions",
	})
	SessionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_sessions_dropped_total",
		Help: "Total sessions detached due to transport write failure or overrun",
	})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_content_store_errors_total",
		Help: "Total content store call failures by operation",
	}, []string{"op"})
	CallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_calls_total",
		Help: "Total calls by terminal state",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		AuthenticatedSessions,
		ActiveCalls,
		VideoRooms,
		VideoRoomParticipants,
		MessagesFannedOut,
		SignalsRelayed,
		SessionsDropped,
		StoreErrors,
		CallsTotal,
	)
}
