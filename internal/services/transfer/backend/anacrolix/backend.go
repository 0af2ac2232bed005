// Package anacrolix adapts github.com/anacrolix/torrent to the backend port.
// Completion events are surfaced through a bounded alert queue so the caller
// can poll without blocking the client's internal locks.
package anacrolix

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"swarmhub/internal/domain"
	"swarmhub/internal/domain/ports"
)

// defaultMaxConns bounds established connections per torrent until a tuning
// profile overrides it.
const defaultMaxConns = 55

// alertQueueSize bounds the alert queue. Checkpoint alerts are never dropped
// silently; an overflow is logged and surfaced as a failed checkpoint.
const alertQueueSize = 1024

const minRateBurst = 1 << 17

type Config struct {
	DataDir    string
	ListenPort int
	Logger     *slog.Logger
}

type Backend struct {
	client  *torrent.Client
	logger  *slog.Logger
	dataDir string

	// limiters stay attached to the client for its lifetime; finite limits
	// are applied via SetLimit/SetBurst.
	downloadLimiter *rate.Limiter
	uploadLimiter   *rate.Limiter

	mu       sync.Mutex
	handles  map[domain.Fingerprint]*handle
	settings map[string]any

	alerts chan domain.Alert
	wake   chan struct{}
}

var _ ports.Backend = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	downloadLimiter := rate.NewLimiter(rate.Inf, 1<<20)
	uploadLimiter := rate.NewLimiter(rate.Inf, 1<<20)

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.ListenPort = cfg.ListenPort
	clientConfig.Seed = true
	clientConfig.DownloadRateLimiter = downloadLimiter
	clientConfig.UploadRateLimiter = uploadLimiter
	clientConfig.EstablishedConnsPerTorrent = defaultMaxConns

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("start torrent client: %w", err)
	}

	return &Backend{
		client:          client,
		logger:          cfg.Logger,
		dataDir:         cfg.DataDir,
		downloadLimiter: downloadLimiter,
		uploadLimiter:   uploadLimiter,
		handles:         make(map[domain.Fingerprint]*handle),
		settings: map[string]any{
			"connections_limit": defaultMaxConns,
		},
		alerts: make(chan domain.Alert, alertQueueSize),
		wake:   make(chan struct{}, 1),
	}, nil
}

// ---------------------------------------------------------------------------
// Adding and removing transfers
// ---------------------------------------------------------------------------

func (b *Backend) Resolve(params ports.AddParams) (domain.Fingerprint, error) {
	if params.Magnet != "" {
		spec, err := torrent.TorrentSpecFromMagnetUri(params.Magnet)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrBadSource, err)
		}
		return domain.CanonicalFingerprint(spec.InfoHash.HexString()), nil
	}
	mi, err := metainfo.LoadFromFile(params.MetainfoPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackendRejected, err)
	}
	return domain.CanonicalFingerprint(mi.HashInfoBytes().HexString()), nil
}

func (b *Backend) Add(params ports.AddParams) (ports.Handle, error) {
	spec, err := b.buildSpec(params)
	if err != nil {
		return nil, err
	}
	if params.SavePath != "" {
		spec.Storage = storage.NewFile(params.SavePath)
	}

	t, _, err := b.client.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendRejected, err)
	}

	fp := domain.CanonicalFingerprint(t.InfoHash().HexString())
	savePath := params.SavePath
	if savePath == "" {
		savePath = b.dataDir
	}

	b.mu.Lock()
	h, exists := b.handles[fp]
	if !exists {
		h = newHandle(b, t, fp, savePath, spec.Trackers)
		b.handles[fp] = h
	}
	limit := settingInt(b.settings, "connections_limit", defaultMaxConns)
	b.mu.Unlock()

	t.SetMaxEstablishedConns(limit)
	go func() {
		<-t.GotInfo()
		t.DownloadAll()
	}()
	return h, nil
}

// buildSpec prefers metainfo embedded in a checkpoint blob so a restored
// transfer does not have to re-fetch metadata from the swarm.
func (b *Backend) buildSpec(params ports.AddParams) (*torrent.TorrentSpec, error) {
	if len(params.Checkpoint) > 0 {
		if spec, err := specFromCheckpoint(params.Checkpoint); err == nil {
			return spec, nil
		} else {
			b.logger.Warn("ignoring unreadable checkpoint", slog.String("error", err.Error()))
		}
	}
	if params.Magnet != "" {
		spec, err := torrent.TorrentSpecFromMagnetUri(params.Magnet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadSource, err)
		}
		return spec, nil
	}
	mi, err := metainfo.LoadFromFile(params.MetainfoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendRejected, err)
	}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendRejected, err)
	}
	return spec, nil
}

func (b *Backend) Remove(h ports.Handle, deleteFiles bool) error {
	hh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("foreign handle type %T", h)
	}

	b.mu.Lock()
	delete(b.handles, hh.fp)
	b.mu.Unlock()

	var paths []string
	if deleteFiles && hh.infoReady() {
		for _, f := range hh.torrent.Files() {
			paths = append(paths, filepath.Join(hh.savePath, f.Path()))
		}
	}

	hh.invalidate()
	hh.torrent.Drop()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("delete transfer file",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Session-wide control
// ---------------------------------------------------------------------------

// Pause stops all network activity. Connections per torrent drop to zero,
// which disconnects every peer.
func (b *Backend) Pause() {
	for _, t := range b.client.Torrents() {
		t.DisallowDataDownload()
		t.DisallowDataUpload()
		t.SetMaxEstablishedConns(0)
	}
}

type sessionState struct {
	DHTNodes []string `bencode:"dht_nodes"`
}

// SaveState serializes the DHT routing table so a restarted session rejoins
// the network without hitting the public bootstrap nodes.
func (b *Backend) SaveState() ([]byte, error) {
	var state sessionState
	for _, srv := range b.client.DhtServers() {
		wrapped, ok := srv.(torrent.AnacrolixDhtServerWrapper)
		if !ok {
			continue
		}
		for _, node := range wrapped.Server.Nodes() {
			state.DHTNodes = append(state.DHTNodes, node.Addr.String())
		}
	}
	blob, err := bencode.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}
	return blob, nil
}

func (b *Backend) LoadState(blob []byte) error {
	var state sessionState
	if err := bencode.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}
	if len(state.DHTNodes) > 0 {
		b.client.AddDhtNodes(state.DHTNodes)
	}
	return nil
}

func (b *Backend) AddBootstrapNode(host string, port int) {
	b.client.AddDhtNodes([]string{fmt.Sprintf("%s:%d", host, port)})
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// ApplySettings merges overrides into the live settings and pushes the knobs
// the client supports; unrecognized keys are kept for callers to read back.
func (b *Backend) ApplySettings(overrides map[string]any) {
	b.mu.Lock()
	for k, v := range overrides {
		b.settings[k] = v
	}
	limit := settingInt(b.settings, "connections_limit", defaultMaxConns)
	download := settingInt64(b.settings, "download_rate_limit", 0)
	upload := settingInt64(b.settings, "upload_rate_limit", 0)
	b.mu.Unlock()

	for _, t := range b.client.Torrents() {
		t.SetMaxEstablishedConns(limit)
	}
	applyRateLimit(b.downloadLimiter, download)
	applyRateLimit(b.uploadLimiter, upload)
}

func (b *Backend) Settings() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.settings))
	for k, v := range b.settings {
		out[k] = v
	}
	return out
}

// applyRateLimit maps 0 to unlimited. Burst must stay well above the piece
// read size or transfers stall.
func applyRateLimit(l *rate.Limiter, bytesPerSec int64) {
	if bytesPerSec <= 0 {
		l.SetLimit(rate.Inf)
		l.SetBurst(1 << 20)
		return
	}
	l.SetLimit(rate.Limit(bytesPerSec))
	burst := bytesPerSec
	if burst < minRateBurst {
		burst = minRateBurst
	}
	l.SetBurst(int(burst))
}

func settingInt(settings map[string]any, key string, fallback int) int {
	return int(settingInt64(settings, key, int64(fallback)))
}

func settingInt64(settings map[string]any, key string, fallback int64) int64 {
	switch v := settings[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return fallback
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func (b *Backend) Stats() (domain.SessionStats, error) {
	var stats domain.SessionStats

	b.mu.Lock()
	handles := make([]*handle, 0, len(b.handles))
	for _, h := range b.handles {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	for _, h := range handles {
		if !h.Valid() {
			continue
		}
		download, upload := h.sampleSpeed(time.Now())
		stats.DownloadRate += download
		stats.UploadRate += upload
		stats.PeerCount += h.torrent.Stats().ActivePeers
	}

	for _, srv := range b.client.DhtServers() {
		if s, ok := srv.Stats().(dht.ServerStats); ok {
			stats.DHTNodeCount += s.Nodes
		}
	}
	return stats, nil
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

func (b *Backend) pushAlert(alert domain.Alert) {
	select {
	case b.alerts <- alert:
	default:
		b.logger.Warn("alert queue full, dropping alert",
			slog.String("kind", alert.Kind.String()),
			slog.String("fingerprint", alert.Fingerprint.Short()),
		)
		return
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Backend) PopAlerts() []domain.Alert {
	var out []domain.Alert
	for {
		select {
		case alert := <-b.alerts:
			out = append(out, alert)
		default:
			return out
		}
	}
}

func (b *Backend) WaitAlert(timeout time.Duration) bool {
	if len(b.alerts) > 0 {
		return true
	}
	select {
	case <-b.wake:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (b *Backend) Close() error {
	errs := b.client.Close()
	return errors.Join(errs...)
}
