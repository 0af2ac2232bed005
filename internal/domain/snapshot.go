package domain

import "errors"

// TorrentSnapshot is one entry of the persisted torrent list, enough to
// re-add the swarm membership after a restart. Checkpoint blobs are stored
// separately, keyed by the same fingerprint.
type TorrentSnapshot struct {
	Fingerprint Fingerprint `json:"fingerprint" bson:"_id"`
	SavePath    string      `json:"savePath" bson:"savePath"`
	Name        string      `json:"name" bson:"name"`
	Trackers    []string    `json:"trackers,omitempty" bson:"trackers,omitempty"`
}

// Validate checks the snapshot invariants before it is written.
func (s TorrentSnapshot) Validate() error {
	if !s.Fingerprint.Valid() {
		return errors.New("snapshot fingerprint is not a canonical info-hash")
	}
	if s.SavePath == "" {
		return errors.New("snapshot save path is required")
	}
	return nil
}
