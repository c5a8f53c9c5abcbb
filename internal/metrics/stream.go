package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsLive counts transports that are currently open.
	ConnectionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statuswatch",
		Name:      "stream_connections_live",
		Help:      "Status stream transports currently open",
	})

	// Subscriptions counts attached observers across all jobs.
	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statuswatch",
		Name:      "stream_subscriptions",
		Help:      "Observers currently attached to a job stream",
	})

	TransportOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statuswatch",
		Name:      "stream_transport_open_total",
		Help:      "Transport open attempts by result",
	}, []string{"result"})

	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statuswatch",
		Name:      "stream_frames_total",
		Help:      "Frames received by parse result",
	}, []string{"result"})

	ConnectionsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statuswatch",
		Name:      "stream_connections_lost_total",
		Help:      "Streams abandoned after exhausting reconnect attempts",
	})

	DisconnectNotices = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statuswatch",
		Name:      "disconnect_notices_total",
		Help:      "Disconnect notifications sent to the backend by mode and result",
	}, []string{"mode", "result"})

	RecorderDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statuswatch",
		Name:      "recorder_dropped_total",
		Help:      "Status updates dropped because the persistence queue was full",
	})
)

// IncTransportOpen records the outcome of one transport open.
func IncTransportOpen(ok bool) {
	TransportOpens.WithLabelValues(result(ok)).Inc()
}

// IncFrame records a frame by its parse outcome ("status", "ack", "server_error", "malformed").
func IncFrame(kind string) {
	Frames.WithLabelValues(kind).Inc()
}

// IncDisconnectNotice records one disconnect call ("urgent" or "batch").
func IncDisconnectNotice(mode string, ok bool) {
	DisconnectNotices.WithLabelValues(mode, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
