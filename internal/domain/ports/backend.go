package ports

import (
	"time"

	"swarmhub/internal/domain"
)

// AddParams describes one torrent to hand to the backend. Exactly one of
// Magnet or MetainfoPath is set. Checkpoint, when present, is a blob the
// backend previously emitted for the same fingerprint.
type AddParams struct {
	Magnet       string
	MetainfoPath string
	SavePath     string
	Checkpoint   []byte
}

// Backend is the opaque external transfer engine. It runs its own workers and
// communicates completions only through the alert queue; the core calls these
// methods serially from its owning goroutine.
type Backend interface {
	// Resolve computes the canonical fingerprint for the given parameters
	// without adding anything. Malformed magnet URIs yield ErrBadSource,
	// undecodable metainfo files ErrBackendRejected.
	Resolve(params AddParams) (domain.Fingerprint, error)
	Add(params AddParams) (Handle, error)
	Remove(h Handle, deleteFiles bool) error

	// Pause halts all network activity immediately. Used at shutdown.
	Pause()
	// SaveState serializes global routing state (DHT) to an opaque blob.
	SaveState() ([]byte, error)
	LoadState(blob []byte) error
	AddBootstrapNode(host string, port int)

	// Settings returns a copy of the merged live settings.
	Settings() map[string]any
	// ApplySettings merges the given overrides into the live settings.
	ApplySettings(overrides map[string]any)

	Stats() (domain.SessionStats, error)

	// PopAlerts drains all queued events without blocking.
	PopAlerts() []domain.Alert
	// WaitAlert blocks up to timeout for a wake signal; true means at least
	// one alert is likely queued.
	WaitAlert(timeout time.Duration) bool

	Close() error
}

// Handle is one active swarm membership. A handle can become invalid while
// still referenced, e.g. after backend-internal removal; callers must check
// Valid before relying on the other accessors.
type Handle interface {
	Fingerprint() domain.Fingerprint
	Name() string
	SavePath() string
	Valid() bool

	// NeedsCheckpoint reports unsaved progress since the last checkpoint.
	NeedsCheckpoint() bool
	// RequestCheckpoint asks the backend to serialize resume state. The
	// result arrives later as a checkpoint alert; there is no way to cancel
	// an issued request.
	RequestCheckpoint()

	Trackers() []string
	Pause()
	Resume()
	Status() domain.TransferStatus
}
