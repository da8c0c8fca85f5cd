package diag

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	FailoverCycles      prometheus.Counter
	BackupFetchFailures prometheus.Counter
	SongsEnded          prometheus.Counter
	Reconnects          prometheus.Counter
	Connected           prometheus.Gauge
	BackupAuthoritative prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		FailoverCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "display_failover_cycles_total",
			Help: "Failover cycles started against the backup media source.",
		}),
		BackupFetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "display_backup_fetch_failures_total",
			Help: "Backup url fetch sequences that exhausted their attempts.",
		}),
		SongsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "display_songs_ended_total",
			Help: "End-of-track reports sent to the server.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "display_channel_reconnects_total",
			Help: "Event channel reconnect attempts.",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "display_channel_connected",
			Help: "Whether the event channel is currently connected.",
		}),
		BackupAuthoritative: factory.NewGauge(prometheus.GaugeOpts{
			Name: "display_backup_authoritative",
			Help: "Whether the backup surface currently holds authority.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
