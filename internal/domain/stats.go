package domain

// SessionStats is a best-effort snapshot of session-wide transfer activity.
// A zero value means "unavailable", never an error.
type SessionStats struct {
	DownloadRate int64 `json:"downloadRate"` // bytes/sec
	UploadRate   int64 `json:"uploadRate"`   // bytes/sec
	PeerCount    int   `json:"peerCount"`
	DHTNodeCount int   `json:"dhtNodeCount"`
}

// ConnectionType is the classification result consumed from the network
// classifier. Detection itself lives outside the core.
type ConnectionType string

const (
	ConnectionWiFi    ConnectionType = "wifi"
	ConnectionLAN     ConnectionType = "lan"
	ConnectionUnknown ConnectionType = "unknown"
)

// BottleneckCategory names the resource a bottleneck diagnosis points at.
type BottleneckCategory string

const (
	BottleneckDisk    BottleneckCategory = "disk"
	BottleneckCPU     BottleneckCategory = "cpu"
	BottleneckPeers   BottleneckCategory = "peers"
	BottleneckNetwork BottleneckCategory = "network"
)

// Bottleneck is a transient diagnostic recomputed every tick and never
// persisted. Severity is in [0, 1].
type Bottleneck struct {
	Category   BottleneckCategory `json:"category"`
	Severity   float64            `json:"severity"`
	Message    string             `json:"message"`
	Suggestion string             `json:"suggestion"`
}
