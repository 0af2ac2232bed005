package ports

import (
	"context"

	"swarmhub/internal/domain"
)

// StateStore is durable storage for checkpoint blobs and the global network
// state blob. Both are opaque to the store.
type StateStore interface {
	WriteCheckpoint(fp domain.Fingerprint, blob []byte) error
	// ReadCheckpoint returns domain.ErrNotFound when no blob exists.
	ReadCheckpoint(fp domain.Fingerprint) ([]byte, error)
	DeleteCheckpoint(fp domain.Fingerprint) error

	WriteNetworkState(blob []byte) error
	ReadNetworkState() ([]byte, error)
}

// SnapshotStore persists the torrent-list snapshot used for restart restore.
type SnapshotStore interface {
	WriteSnapshot(ctx context.Context, entries []domain.TorrentSnapshot) error
	ReadSnapshot(ctx context.Context) ([]domain.TorrentSnapshot, error)
}
