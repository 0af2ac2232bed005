package domain

import "strings"

// Fingerprint is the canonical content-hash identifier of a swarm: the torrent
// info-hash as a lowercase hex string. It is the registry key and is never
// reused for a different content.
type Fingerprint string

const fingerprintHexLen = 40 // sha1 info-hash

// CanonicalFingerprint lowercases and trims a raw hex string.
func CanonicalFingerprint(raw string) Fingerprint {
	return Fingerprint(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether the fingerprint is a well-formed hex info-hash.
// Stores use this to refuse keys that could escape their namespace.
func (f Fingerprint) Valid() bool {
	if len(f) != fingerprintHexLen {
		return false
	}
	for _, c := range f {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

func (f Fingerprint) String() string { return string(f) }

// Short returns an abbreviated form for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 8 {
		return string(f)
	}
	return string(f[:8])
}
