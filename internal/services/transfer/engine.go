package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"swarmhub/internal/domain"
	"swarmhub/internal/domain/ports"
	"swarmhub/internal/metrics"
)

// DefaultBootstrapNodes are the rendezvous nodes seeded into the backend's
// DHT on every start. Required for magnet-link metadata resolution.
var DefaultBootstrapNodes = []string{
	"router.bittorrent.com:6881",
	"router.utorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"dht.libtorrent.org:25401",
	"dht.aelitis.com:6881",
}

// DefaultCheckpointTimeout caps how long Stop waits for outstanding
// checkpoint completions before abandoning them.
const DefaultCheckpointTimeout = 8 * time.Second

// alertWaitSlice bounds a single wait on the backend wake signal so shutdown
// stays responsive to external termination.
const alertWaitSlice = time.Second

// BackendConfig carries the parameters the engine passes to the backend
// factory on Start.
type BackendConfig struct {
	DataDir    string
	ListenPort int
}

// BackendFactory constructs a live backend session. Engine.Start calls it
// exactly once per start.
type BackendFactory func(cfg BackendConfig) (ports.Backend, error)

type Config struct {
	DataDir           string
	CheckpointTimeout time.Duration // 0 = DefaultCheckpointTimeout
	BootstrapNodes    []string      // nil = DefaultBootstrapNodes
}

// Engine owns the backend session, the fingerprint-keyed handle registry,
// alert draining, and the bounded resume-checkpoint shutdown protocol.
// Public methods are safe for concurrent use, but the expected usage is a
// single owning goroutine plus the monitor tick loop.
type Engine struct {
	newBackend  BackendFactory
	state       ports.StateStore
	snapshots   ports.SnapshotStore
	logger      *slog.Logger
	dataDir     string
	timeout     time.Duration
	bootstrap   []string

	mu      sync.RWMutex
	backend ports.Backend
	handles map[domain.Fingerprint]ports.Handle
	running bool

	stopped atomic.Bool // one-shot shutdown guard
}

func New(factory BackendFactory, state ports.StateStore, snapshots ports.SnapshotStore, logger *slog.Logger, cfg Config) *Engine {
	timeout := cfg.CheckpointTimeout
	if timeout <= 0 {
		timeout = DefaultCheckpointTimeout
	}
	bootstrap := cfg.BootstrapNodes
	if bootstrap == nil {
		bootstrap = DefaultBootstrapNodes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		newBackend: factory,
		state:      state,
		snapshots:  snapshots,
		logger:     logger,
		dataDir:    cfg.DataDir,
		timeout:    timeout,
		bootstrap:  bootstrap,
		handles:    make(map[domain.Fingerprint]ports.Handle),
	}
}

// Running reports whether a live session exists. Callers must check this
// after Start since backend construction can fail.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Handles returns a copy of the registry.
func (e *Engine) Handles() map[domain.Fingerprint]ports.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.Fingerprint]ports.Handle, len(e.handles))
	for fp, h := range e.handles {
		out[fp] = h
	}
	return out
}

// Start constructs the backend session, best-effort restores prior network
// state, and seeds the DHT bootstrap list. On failure the engine remains
// not-running.
func (e *Engine) Start(listenPort int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	backend, err := e.newBackend(BackendConfig{DataDir: e.dataDir, ListenPort: listenPort})
	if err != nil {
		return fmt.Errorf("backend construction: %w", err)
	}
	e.backend = backend
	e.running = true
	e.stopped.Store(false)

	// Prior routing state is an optimization, not a requirement.
	if blob, err := e.state.ReadNetworkState(); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("failed to load network state", slog.String("error", err.Error()))
		}
	} else if len(blob) > 0 {
		if err := backend.LoadState(blob); err != nil {
			e.logger.Warn("failed to restore network state", slog.String("error", err.Error()))
		} else {
			e.logger.Info("restored network state", slog.Int("bytes", len(blob)))
		}
	}

	seeded := 0
	for _, node := range e.bootstrap {
		host, port, err := splitBootstrapNode(node)
		if err != nil {
			e.logger.Warn("skipping bootstrap node", slog.String("node", node), slog.String("error", err.Error()))
			continue
		}
		backend.AddBootstrapNode(host, port)
		seeded++
	}
	e.logger.Info("engine started",
		slog.Int("listenPort", listenPort),
		slog.Int("bootstrapNodes", seeded),
	)
	return nil
}

// Stop shuts the session down. Safe to call multiple times: only the first
// call performs any side effects. Every step is independently fault-tolerant
// so termination stays deterministic.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	backend := e.backend
	running := e.running
	e.mu.Unlock()
	if !running || backend == nil {
		return
	}

	// Halt new network activity before anything else.
	backend.Pause()

	if blob, err := backend.SaveState(); err != nil {
		e.logger.Warn("failed to serialize network state", slog.String("error", err.Error()))
	} else if err := e.state.WriteNetworkState(blob); err != nil {
		e.logger.Warn("failed to save network state", slog.String("error", err.Error()))
	}

	e.saveAllCheckpoints(backend)

	if err := backend.Close(); err != nil {
		e.logger.Warn("backend close error", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	e.backend = nil
	e.handles = make(map[domain.Fingerprint]ports.Handle)
	e.running = false
	e.mu.Unlock()
	metrics.RegisteredHandles.Set(0)

	e.logger.Info("engine stopped")
}

// saveAllCheckpoints runs the bounded resume-checkpoint protocol: issue an
// asynchronous checkpoint request per dirty valid handle, then collect
// completions until none remain or the deadline passes. Completions arrive
// unordered relative to issuance and to unrelated alerts; the outstanding
// counter only decreases, by exactly one per recognized completion. At the
// deadline the remainder is abandoned: shutdown liveness wins over the
// durability of the stragglers.
func (e *Engine) saveAllCheckpoints(backend ports.Backend) {
	e.mu.RLock()
	handles := make(map[domain.Fingerprint]ports.Handle, len(e.handles))
	for fp, h := range e.handles {
		handles[fp] = h
	}
	e.mu.RUnlock()

	outstanding := 0
	for _, h := range handles {
		if h.Valid() && h.NeedsCheckpoint() {
			h.RequestCheckpoint()
			outstanding++
		}
	}
	if outstanding == 0 {
		return
	}

	e.logger.Info("waiting for checkpoint saves", slog.Int("outstanding", outstanding))
	deadline := time.Now().Add(e.timeout)

	for outstanding > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.logger.Warn("checkpoint save timeout", slog.Int("outstanding", outstanding))
			metrics.CheckpointTimeoutsTotal.Inc()
			break
		}

		wait := alertWaitSlice
		if remaining < wait {
			wait = remaining
		}
		if !backend.WaitAlert(wait) {
			continue
		}

		for _, alert := range backend.PopAlerts() {
			switch alert.Kind {
			case domain.AlertCheckpointSaved:
				e.persistCheckpoint(handles[alert.Fingerprint], alert)
				outstanding--
			case domain.AlertCheckpointFailed:
				metrics.CheckpointFailuresTotal.Inc()
				outstanding--
			default:
				// Unrelated alerts never touch the counter.
			}
		}
	}

	e.logger.Info("checkpoint save complete", slog.Int("remaining", outstanding))
}

// persistCheckpoint writes a saved checkpoint blob, skipping handles that
// went invalid after the request was issued.
func (e *Engine) persistCheckpoint(h ports.Handle, alert domain.Alert) {
	if h != nil && !h.Valid() {
		return
	}
	if err := e.state.WriteCheckpoint(alert.Fingerprint, alert.Blob); err != nil {
		e.logger.Warn("failed to write checkpoint",
			slog.String("fingerprint", alert.Fingerprint.Short()),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.CheckpointSavesTotal.Inc()
}

// Add registers a torrent from a magnet URI or a .torrent file path. A
// pre-existing checkpoint blob for the computed fingerprint is attached
// before construction so progress survives restarts.
func (e *Engine) Add(source, savePath string) (ports.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, domain.ErrNotRunning
	}

	params := ports.AddParams{SavePath: savePath}
	if strings.HasPrefix(source, "magnet:") {
		params.Magnet = source
	} else {
		if _, err := os.Stat(source); err != nil {
			return nil, fmt.Errorf("%w: torrent file %q", domain.ErrNotFound, source)
		}
		params.MetainfoPath = source
	}

	fp, err := e.backend.Resolve(params)
	if err != nil {
		return nil, err
	}

	if existing, ok := e.handles[fp]; ok {
		return existing, nil
	}

	if blob, err := e.state.ReadCheckpoint(fp); err == nil && len(blob) > 0 {
		params.Checkpoint = blob
		e.logger.Info("attached checkpoint", slog.String("fingerprint", fp.Short()))
	}

	h, err := e.backend.Add(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendRejected, err)
	}

	e.handles[h.Fingerprint()] = h
	metrics.RegisteredHandles.Set(float64(len(e.handles)))
	e.logger.Info("added torrent",
		slog.String("fingerprint", h.Fingerprint().Short()),
		slog.String("name", h.Name()),
	)
	return h, nil
}

// Remove deregisters a torrent. The intent to stop tracking is honored
// unconditionally: the registry entry goes away even when backend-side
// cleanup fails, which is only logged.
func (e *Engine) Remove(fp domain.Fingerprint, deleteFiles bool) {
	e.mu.Lock()
	h, ok := e.handles[fp]
	if ok {
		delete(e.handles, fp)
	}
	backend := e.backend
	metrics.RegisteredHandles.Set(float64(len(e.handles)))
	e.mu.Unlock()

	if !ok {
		return
	}
	if backend != nil {
		if err := backend.Remove(h, deleteFiles); err != nil {
			e.logger.Warn("backend remove failed",
				slog.String("fingerprint", fp.Short()),
				slog.String("error", err.Error()),
			)
		}
	}
	if deleteFiles {
		if err := e.state.DeleteCheckpoint(fp); err != nil && !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("checkpoint delete failed",
				slog.String("fingerprint", fp.Short()),
				slog.String("error", err.Error()),
			)
		}
	}
	e.logger.Info("removed torrent", slog.String("fingerprint", fp.Short()))
}

// ApplySettings merges overrides into the live backend configuration.
// No-op when not running.
func (e *Engine) ApplySettings(overrides map[string]any) {
	e.mu.RLock()
	backend := e.backend
	running := e.running
	e.mu.RUnlock()
	if !running || backend == nil {
		return
	}
	backend.ApplySettings(overrides)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	e.logger.Debug("applied settings", slog.Any("keys", keys))
}

// Settings returns a copy of the merged live settings, or nil when not running.
func (e *Engine) Settings() map[string]any {
	e.mu.RLock()
	backend := e.backend
	running := e.running
	e.mu.RUnlock()
	if !running || backend == nil {
		return nil
	}
	return backend.Settings()
}

// SnapshotSessionStats returns session-wide counters, or the zero value on
// any failure. Stats never propagate errors upward.
func (e *Engine) SnapshotSessionStats() domain.SessionStats {
	e.mu.RLock()
	backend := e.backend
	running := e.running
	e.mu.RUnlock()
	if !running || backend == nil {
		return domain.SessionStats{}
	}
	stats, err := backend.Stats()
	if err != nil {
		return domain.SessionStats{}
	}
	return stats
}

// DrainAlerts pops all queued backend events without blocking. Checkpoint
// blobs carried by saved events are persisted here so resume data accrues
// during normal operation, not only at shutdown. Empty when not running.
func (e *Engine) DrainAlerts() []domain.Alert {
	e.mu.RLock()
	backend := e.backend
	running := e.running
	e.mu.RUnlock()
	if !running || backend == nil {
		return nil
	}

	alerts := backend.PopAlerts()
	for _, alert := range alerts {
		switch alert.Kind {
		case domain.AlertCheckpointSaved:
			e.mu.RLock()
			h := e.handles[alert.Fingerprint]
			e.mu.RUnlock()
			e.persistCheckpoint(h, alert)
		case domain.AlertError:
			e.logger.Warn("backend error",
				slog.String("fingerprint", alert.Fingerprint.Short()),
				slog.String("message", alert.Message),
			)
		}
	}
	return alerts
}

// PersistTorrentList snapshots {fingerprint, savePath, name, trackers} for
// every valid handle. Best effort: failures are logged.
func (e *Engine) PersistTorrentList(ctx context.Context) {
	e.mu.RLock()
	entries := make([]domain.TorrentSnapshot, 0, len(e.handles))
	for fp, h := range e.handles {
		if !h.Valid() {
			continue
		}
		entries = append(entries, domain.TorrentSnapshot{
			Fingerprint: fp,
			SavePath:    h.SavePath(),
			Name:        h.Name(),
			Trackers:    h.Trackers(),
		})
	}
	e.mu.RUnlock()

	if err := e.snapshots.WriteSnapshot(ctx, entries); err != nil {
		e.logger.Warn("failed to save torrent list", slog.String("error", err.Error()))
		return
	}
	e.logger.Info("saved torrent list", slog.Int("count", len(entries)))
}

// LoadTorrentList reads the persisted snapshot. Load failures yield an empty
// list, never an error.
func (e *Engine) LoadTorrentList(ctx context.Context) []domain.TorrentSnapshot {
	entries, err := e.snapshots.ReadSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("failed to load torrent list", slog.String("error", err.Error()))
		}
		return nil
	}
	return entries
}

// Statuses returns per-torrent snapshots for every valid handle.
func (e *Engine) Statuses() []domain.TransferStatus {
	e.mu.RLock()
	handles := make([]ports.Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.RUnlock()

	out := make([]domain.TransferStatus, 0, len(handles))
	for _, h := range handles {
		if !h.Valid() {
			continue
		}
		out = append(out, h.Status())
	}
	return out
}

func splitBootstrapNode(node string) (string, int, error) {
	host, portRaw, err := net.SplitHostPort(node)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portRaw)
	}
	return host, port, nil
}
