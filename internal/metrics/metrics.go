package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmhub",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "swarmhub",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	RegisteredHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmhub",
		Name:      "registered_handles",
		Help:      "Number of swarm memberships currently registered.",
	})

	DownloadRateBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmhub",
		Name:      "download_rate_bytes",
		Help:      "Current aggregate download rate in bytes per second.",
	})

	UploadRateBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmhub",
		Name:      "upload_rate_bytes",
		Help:      "Current aggregate upload rate in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmhub",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all swarms.",
	})

	DHTNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmhub",
		Name:      "dht_nodes",
		Help:      "Number of nodes in the DHT routing table.",
	})

	CheckpointSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmhub",
		Name:      "checkpoint_saves_total",
		Help:      "Total number of checkpoint blobs written.",
	})

	CheckpointFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmhub",
		Name:      "checkpoint_failures_total",
		Help:      "Total number of failed checkpoint requests.",
	})

	CheckpointTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmhub",
		Name:      "checkpoint_timeouts_total",
		Help:      "Total number of shutdown checkpoint deadlines exceeded.",
	})

	BottleneckSeverity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "swarmhub",
		Name:      "bottleneck_severity",
		Help:      "Severity of the most recent bottleneck per category (0 when clear).",
	}, []string{"category"})

	ProfileSwitchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmhub",
		Name:      "profile_switches_total",
		Help:      "Total number of connection-profile applications by profile name.",
	}, []string{"profile"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RegisteredHandles,
		DownloadRateBytes,
		UploadRateBytes,
		PeersConnected,
		DHTNodes,
		CheckpointSavesTotal,
		CheckpointFailuresTotal,
		CheckpointTimeoutsTotal,
		BottleneckSeverity,
		ProfileSwitchesTotal,
	)
}
