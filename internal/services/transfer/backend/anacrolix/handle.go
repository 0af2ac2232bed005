package anacrolix

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent"

	"swarmhub/internal/domain"
)

type handle struct {
	backend  *Backend
	torrent  *torrent.Torrent
	fp       domain.Fingerprint
	savePath string
	trackers []string

	invalid atomic.Bool
	paused  atomic.Bool

	// lastCheckpointed is the completed byte count at the last emitted
	// checkpoint alert.
	lastCheckpointed atomic.Int64

	speedMu sync.Mutex
	speed   speedSample
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

func newHandle(b *Backend, t *torrent.Torrent, fp domain.Fingerprint, savePath string, trackerTiers [][]string) *handle {
	h := &handle{backend: b, torrent: t, fp: fp, savePath: savePath}
	h.lastCheckpointed.Store(-1)
	for _, tier := range trackerTiers {
		h.trackers = append(h.trackers, tier...)
	}
	return h
}

func (h *handle) Fingerprint() domain.Fingerprint { return h.fp }

func (h *handle) Name() string {
	if !h.Valid() {
		return ""
	}
	return h.torrent.Name()
}

func (h *handle) SavePath() string { return h.savePath }

func (h *handle) Valid() bool { return !h.invalid.Load() }

func (h *handle) invalidate() { h.invalid.Store(true) }

func (h *handle) infoReady() bool {
	if !h.Valid() {
		return false
	}
	select {
	case <-h.torrent.GotInfo():
		return true
	default:
		return false
	}
}

func (h *handle) Trackers() []string {
	return append([]string(nil), h.trackers...)
}

// NeedsCheckpoint reports progress made since the last checkpoint alert.
func (h *handle) NeedsCheckpoint() bool {
	if !h.Valid() || !h.infoReady() {
		return false
	}
	return h.torrent.BytesCompleted() != h.lastCheckpointed.Load()
}

// RequestCheckpoint serializes resume state off the caller's goroutine. The
// result arrives as a checkpoint alert on the backend queue.
func (h *handle) RequestCheckpoint() {
	go func() {
		alert := h.buildCheckpointAlert()
		if alert.Kind == domain.AlertCheckpointSaved {
			h.lastCheckpointed.Store(h.torrent.BytesCompleted())
		}
		h.backend.pushAlert(alert)
	}()
}

func (h *handle) buildCheckpointAlert() domain.Alert {
	if !h.Valid() {
		return domain.Alert{
			Kind:        domain.AlertCheckpointFailed,
			Fingerprint: h.fp,
			Message:     "handle no longer valid",
		}
	}
	if !h.infoReady() {
		return domain.Alert{
			Kind:        domain.AlertCheckpointFailed,
			Fingerprint: h.fp,
			Message:     "metadata not available",
		}
	}
	blob, err := encodeCheckpoint(h)
	if err != nil {
		return domain.Alert{
			Kind:        domain.AlertCheckpointFailed,
			Fingerprint: h.fp,
			Message:     err.Error(),
		}
	}
	return domain.Alert{
		Kind:        domain.AlertCheckpointSaved,
		Fingerprint: h.fp,
		Blob:        blob,
	}
}

// hard pause: zero connections disconnects every peer.
func (h *handle) Pause() {
	if !h.Valid() {
		return
	}
	h.paused.Store(true)
	h.torrent.DisallowDataDownload()
	h.torrent.DisallowDataUpload()
	h.torrent.SetMaxEstablishedConns(0)
}

func (h *handle) Resume() {
	if !h.Valid() {
		return
	}
	h.paused.Store(false)
	limit := defaultMaxConns
	h.backend.mu.Lock()
	limit = settingInt(h.backend.settings, "connections_limit", limit)
	h.backend.mu.Unlock()
	h.torrent.SetMaxEstablishedConns(limit)
	h.torrent.AllowDataUpload()
	h.torrent.AllowDataDownload()
	if h.infoReady() {
		h.torrent.DownloadAll()
	}
}

func (h *handle) Status() domain.TransferStatus {
	status := domain.TransferStatus{
		Fingerprint: h.fp,
		SavePath:    h.savePath,
		ETASeconds:  -1,
	}
	if !h.Valid() {
		status.State = domain.StateError
		status.Error = "handle no longer valid"
		return status
	}

	status.Name = h.torrent.Name()
	stats := h.torrent.Stats()
	status.Peers = stats.ActivePeers
	status.Seeds = stats.ConnectedSeeders

	if !h.infoReady() {
		status.State = domain.StateFetchingMetadata
		return status
	}

	status.TotalBytes = h.torrent.Length()
	status.DoneBytes = h.torrent.BytesCompleted()
	if status.TotalBytes > 0 {
		status.Progress = float64(status.DoneBytes) / float64(status.TotalBytes)
	}
	status.DownloadRate, status.UploadRate = h.sampleSpeed(time.Now())

	switch {
	case h.paused.Load():
		status.State = domain.StatePaused
	case status.TotalBytes > 0 && status.DoneBytes >= status.TotalBytes:
		status.State = domain.StateSeeding
	default:
		status.State = domain.StateDownloading
		if status.DownloadRate > 0 {
			status.ETASeconds = (status.TotalBytes - status.DoneBytes) / status.DownloadRate
		}
	}
	return status
}

// sampleSpeed derives byte rates from the delta between consecutive calls.
// The first call after construction returns 0.
func (h *handle) sampleSpeed(now time.Time) (download, upload int64) {
	stats := h.torrent.Stats()
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	h.speedMu.Lock()
	defer h.speedMu.Unlock()

	prev := h.speed
	h.speed = speedSample{at: now, bytesRead: currentRead, bytesWritten: currentWritten}

	if prev.at.IsZero() {
		return 0, 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaRead := currentRead - prev.bytesRead
	deltaWritten := currentWritten - prev.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}
