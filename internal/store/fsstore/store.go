// Package fsstore persists session state on the local filesystem under a
// single state directory:
//
//	<dir>/resume/<fingerprint>.fastresume   per-transfer checkpoints
//	<dir>/netstate                          backend session state (DHT table etc.)
//	<dir>/torrents.json                     transfer list snapshot
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"swarmhub/internal/domain"
)

const (
	resumeDir     = "resume"
	resumeExt     = ".fastresume"
	netStateFile  = "netstate"
	snapshotFile  = "torrents.json"
	dirPerm       = 0o755
	filePerm      = 0o644
)

type Store struct {
	dir string
}

// New creates the state directory layout if missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, resumeDir), dirPerm); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) checkpointPath(fp domain.Fingerprint) (string, error) {
	// Valid fingerprints are lowercase hex, which also rules out path
	// traversal in the filename.
	if !fp.Valid() {
		return "", fmt.Errorf("checkpoint path: bad fingerprint %q: %w", fp, domain.ErrBadSource)
	}
	return filepath.Join(s.dir, resumeDir, string(fp)+resumeExt), nil
}

func (s *Store) WriteCheckpoint(fp domain.Fingerprint, blob []byte) error {
	path, err := s.checkpointPath(fp)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, blob)
}

// ReadCheckpoint returns domain.ErrNotFound when no checkpoint exists for fp.
func (s *Store) ReadCheckpoint(fp domain.Fingerprint) ([]byte, error) {
	path, err := s.checkpointPath(fp)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return blob, nil
}

// DeleteCheckpoint is a no-op when the checkpoint does not exist.
func (s *Store) DeleteCheckpoint(fp domain.Fingerprint) error {
	path, err := s.checkpointPath(fp)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *Store) WriteNetworkState(blob []byte) error {
	return writeFileAtomic(filepath.Join(s.dir, netStateFile), blob)
}

func (s *Store) ReadNetworkState() ([]byte, error) {
	blob, err := os.ReadFile(filepath.Join(s.dir, netStateFile))
	if os.IsNotExist(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read network state: %w", err)
	}
	return blob, nil
}

func (s *Store) WriteSnapshot(_ context.Context, entries []domain.TorrentSnapshot) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, snapshotFile), data)
}

// ReadSnapshot returns an empty list when no snapshot file exists.
func (s *Store) ReadSnapshot(_ context.Context) ([]domain.TorrentSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var entries []domain.TorrentSnapshot
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return entries, nil
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
