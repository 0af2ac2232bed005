package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"swarmhub/internal/domain"
	"swarmhub/internal/metrics"
	"swarmhub/internal/services/tuning"
)

type TransferEngine interface {
	Running() bool
	DrainAlerts() []domain.Alert
	SnapshotSessionStats() domain.SessionStats
	Statuses() []domain.TransferStatus
	PersistTorrentList(ctx context.Context)
}

type TuningController interface {
	DetectAndApply() string
	ApplyDynamicAdjustments(bottlenecks []domain.Bottleneck)
}

type ResourceProbe interface {
	DiskUsagePercent() float64
	CPUPercent() float64
}

// Monitor is the periodic supervision loop: it drains backend alerts, feeds
// session stats into metrics, re-evaluates the network profile and reacts to
// resource bottlenecks. The last analysis is kept for API consumers.
type Monitor struct {
	Engine    TransferEngine
	Tuner     TuningController
	Probe     ResourceProbe
	Logger    *slog.Logger
	Interval  time.Duration
	Broadcast func(stats domain.SessionStats, statuses []domain.TransferStatus) // optional push hook

	mu     sync.RWMutex
	latest []domain.Bottleneck
}

// Run blocks until ctx is cancelled. The transfer list is flushed once per
// minute so a crash loses at most a minute of list changes.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastFlush := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
			if time.Since(lastFlush) >= time.Minute {
				m.Engine.PersistTorrentList(ctx)
				lastFlush = time.Now()
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if !m.Engine.Running() {
		return
	}

	for _, alert := range m.Engine.DrainAlerts() {
		if alert.Kind == domain.AlertError {
			m.Logger.Warn("backend alert",
				slog.String("fingerprint", alert.Fingerprint.Short()),
				slog.String("message", alert.Message),
			)
		}
	}

	stats := m.Engine.SnapshotSessionStats()
	metrics.DownloadRateBytes.Set(float64(stats.DownloadRate))
	metrics.UploadRateBytes.Set(float64(stats.UploadRate))
	metrics.PeersConnected.Set(float64(stats.PeerCount))
	metrics.DHTNodes.Set(float64(stats.DHTNodeCount))

	m.Tuner.DetectAndApply()

	bottlenecks := tuning.AnalyzeBottlenecks(stats, m.Probe.DiskUsagePercent(), m.Probe.CPUPercent())
	m.publishBottlenecks(bottlenecks)
	m.Tuner.ApplyDynamicAdjustments(bottlenecks)

	if m.Broadcast != nil {
		m.Broadcast(stats, m.Engine.Statuses())
	}
}

func (m *Monitor) publishBottlenecks(bottlenecks []domain.Bottleneck) {
	severity := map[domain.BottleneckCategory]float64{
		domain.BottleneckDisk:    0,
		domain.BottleneckCPU:     0,
		domain.BottleneckPeers:   0,
		domain.BottleneckNetwork: 0,
	}
	for _, b := range bottlenecks {
		severity[b.Category] = b.Severity
	}
	for category, sev := range severity {
		metrics.BottleneckSeverity.WithLabelValues(string(category)).Set(sev)
	}

	m.mu.Lock()
	m.latest = bottlenecks
	m.mu.Unlock()
}

// Bottlenecks returns the result of the most recent analysis pass.
func (m *Monitor) Bottlenecks() []domain.Bottleneck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Bottleneck, len(m.latest))
	copy(out, m.latest)
	return out
}
