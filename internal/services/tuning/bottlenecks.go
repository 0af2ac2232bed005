package tuning

import (
	"fmt"

	"swarmhub/internal/domain"
)

// AnalyzeBottlenecks evaluates independent diagnostic rules against a stats
// snapshot and host load readings. Pure and deterministic: identical inputs
// always yield the same ordered list, and any subset of rules may fire.
func AnalyzeBottlenecks(stats domain.SessionStats, diskPct, cpuPct float64) []domain.Bottleneck {
	var bottlenecks []domain.Bottleneck

	if diskPct > 90 {
		bottlenecks = append(bottlenecks, domain.Bottleneck{
			Category:   domain.BottleneckDisk,
			Severity:   min(1.0, diskPct/100),
			Message:    fmt.Sprintf("Disk loaded at %.0f%%", diskPct),
			Suggestion: "Reducing connections to lower disk pressure",
		})
	} else if diskPct > 70 {
		bottlenecks = append(bottlenecks, domain.Bottleneck{
			Category:   domain.BottleneckDisk,
			Severity:   0.5,
			Message:    fmt.Sprintf("Disk at %.0f%%", diskPct),
			Suggestion: "Disk usage is elevated, monitoring",
		})
	}

	if cpuPct > 85 {
		bottlenecks = append(bottlenecks, domain.Bottleneck{
			Category:   domain.BottleneckCPU,
			Severity:   min(1.0, cpuPct/100),
			Message:    fmt.Sprintf("CPU at %.0f%%", cpuPct),
			Suggestion: "High CPU load may limit throughput",
		})
	}

	// Downloading but very few peers: the swarm itself is the limit.
	if stats.DownloadRate > 0 && stats.PeerCount < 5 {
		bottlenecks = append(bottlenecks, domain.Bottleneck{
			Category:   domain.BottleneckPeers,
			Severity:   0.7,
			Message:    fmt.Sprintf("Only %d peers connected", stats.PeerCount),
			Suggestion: "Few peers available, speed limited by swarm",
		})
	}

	// Plenty of peers but next to no throughput.
	if stats.PeerCount > 10 && stats.DownloadRate < 10<<10 {
		bottlenecks = append(bottlenecks, domain.Bottleneck{
			Category:   domain.BottleneckNetwork,
			Severity:   0.6,
			Message:    fmt.Sprintf("Low speed (%d KB/s) with %d peers", stats.DownloadRate/1024, stats.PeerCount),
			Suggestion: "Network may be throttled or peers are slow",
		})
	}

	return bottlenecks
}
