package monitoring

import (
	"zonecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the process-wide signaling and SFU
// metrics. It satisfies the signal server's Metrics interface.
type PrometheusCollector struct {
	socketsConnected prometheus.Gauge
	roomsActive      prometheus.Gauge
	sessionsActive   prometheus.Gauge
	producersActive  prometheus.Gauge

	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		socketsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zonecast_sockets_connected",
			Help: "Number of attached signaling sockets",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zonecast_sfu_rooms_active",
			Help: "Number of live SFU rooms",
		}),

		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zonecast_sfu_sessions_active",
			Help: "Number of peer sessions across all rooms",
		}),

		producersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zonecast_sfu_producers_active",
			Help: "Number of live producers across all rooms",
		}),

		messagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zonecast_signal_messages_total",
			Help: "Signaling messages handled, by type",
		}, []string{"type"}),

		messageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zonecast_signal_message_duration_seconds",
			Help:    "Signaling message handling latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"type"}),
	}
}

func (p *PrometheusCollector) SocketConnected() {
	p.socketsConnected.Inc()
}

func (p *PrometheusCollector) SocketDisconnected() {
	p.socketsConnected.Dec()
}

func (p *PrometheusCollector) MessageHandled(msgType string, seconds float64) {
	p.messagesTotal.WithLabelValues(msgType).Inc()
	p.messageDuration.WithLabelValues(msgType).Observe(seconds)
}

// UpdateRegistryStats refreshes the SFU gauges from a stats snapshot.
func (p *PrometheusCollector) UpdateRegistryStats(stats domain.RegistryStats) {
	p.roomsActive.Set(float64(stats.ActiveRooms))
	p.sessionsActive.Set(float64(stats.ActiveSessions))
	p.producersActive.Set(float64(stats.ActiveProducers))
}
