package domain

// AlertKind discriminates the tagged-variant backend event type. Backend
// completion callbacks are flattened into these variants and read from a
// bounded pollable queue: the core never registers callbacks with the backend.
type AlertKind int

const (
	// AlertCheckpointSaved carries a freshly serialized checkpoint blob.
	AlertCheckpointSaved AlertKind = iota + 1
	// AlertCheckpointFailed reports that a requested checkpoint could not be built.
	AlertCheckpointFailed
	// AlertError is a generic per-torrent backend error.
	AlertError
)

func (k AlertKind) String() string {
	switch k {
	case AlertCheckpointSaved:
		return "checkpoint_saved"
	case AlertCheckpointFailed:
		return "checkpoint_failed"
	case AlertError:
		return "error"
	default:
		return "unknown"
	}
}

// Alert is a single backend event. Blob is set only for AlertCheckpointSaved,
// Message only for AlertError.
type Alert struct {
	Kind        AlertKind
	Fingerprint Fingerprint
	Blob        []byte
	Message     string
}
