package ports

import "swarmhub/internal/domain"

// NetworkClassifier reports the active connection environment. The core only
// consumes the classification; how it is detected is the implementation's
// business.
type NetworkClassifier interface {
	ConnectionType() domain.ConnectionType
	VPNActive() bool
}

// ResourceProbe reports host resource load as percentages in [0, 100].
// Implementations return 0 when a reading is unavailable.
type ResourceProbe interface {
	DiskUsagePercent() float64
	CPUPercent() float64
}
