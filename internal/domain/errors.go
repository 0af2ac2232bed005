package domain

import "errors"

var (
	// ErrNotRunning is returned by registry mutations while no session is live.
	ErrNotRunning = errors.New("engine not running")
	// ErrNotFound covers missing local torrent descriptors and unknown fingerprints.
	ErrNotFound = errors.New("not found")
	// ErrBadSource marks a source string that could not be parsed at all.
	ErrBadSource = errors.New("malformed torrent source")
	// ErrBackendRejected wraps parse or construction failures inside the transfer backend.
	ErrBackendRejected = errors.New("backend rejected torrent")
)
