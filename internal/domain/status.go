package domain

// TransferState is the coarse per-torrent state shown to callers.
type TransferState string

const (
	StateQueued           TransferState = "queued"
	StateChecking         TransferState = "checking"
	StateFetchingMetadata TransferState = "fetching_metadata"
	StateDownloading      TransferState = "downloading"
	StateSeeding          TransferState = "seeding"
	StatePaused           TransferState = "paused"
	StateError            TransferState = "error"
)

// TransferStatus is a point-in-time snapshot of a single swarm membership.
type TransferStatus struct {
	Fingerprint  Fingerprint   `json:"fingerprint"`
	Name         string        `json:"name"`
	State        TransferState `json:"state"`
	Progress     float64       `json:"progress"` // 0.0 - 1.0
	DownloadRate int64         `json:"downloadRate"`
	UploadRate   int64         `json:"uploadRate"`
	TotalBytes   int64         `json:"totalBytes"`
	DoneBytes    int64         `json:"doneBytes"`
	Peers        int           `json:"peers"`
	Seeds        int           `json:"seeds"`
	ETASeconds   int64         `json:"etaSeconds"` // -1 if unknown
	SavePath     string        `json:"savePath"`
	Error        string        `json:"error,omitempty"`
}
