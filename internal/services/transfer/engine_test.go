package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"swarmhub/internal/domain"
	"swarmhub/internal/domain/ports"
	"swarmhub/internal/store/fsstore"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeHandle struct {
	fp       domain.Fingerprint
	name     string
	savePath string
	trackers []string

	mu        sync.Mutex
	valid     bool
	dirty     bool
	requests  int
	onRequest func()
}

func (h *fakeHandle) Fingerprint() domain.Fingerprint { return h.fp }
func (h *fakeHandle) Name() string                    { return h.name }
func (h *fakeHandle) SavePath() string                { return h.savePath }
func (h *fakeHandle) Trackers() []string              { return h.trackers }
func (h *fakeHandle) Pause()                          {}
func (h *fakeHandle) Resume()                         {}

func (h *fakeHandle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

func (h *fakeHandle) NeedsCheckpoint() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}

func (h *fakeHandle) RequestCheckpoint() {
	h.mu.Lock()
	h.requests++
	fn := h.onRequest
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *fakeHandle) Status() domain.TransferStatus {
	return domain.TransferStatus{Fingerprint: h.fp, Name: h.name, State: domain.StateDownloading}
}

type fakeBackend struct {
	mu          sync.Mutex
	handles     map[domain.Fingerprint]*fakeHandle
	addCalls    int
	lastAdd     ports.AddParams
	removeCalls int
	closeCalls  int
	pauseCalls  int
	removeErr   error
	resolveErr  error
	addErr      error
	loadedState []byte
	bootstrap   []string
	settings    map[string]any

	alerts chan domain.Alert
	wake   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		handles:  make(map[domain.Fingerprint]*fakeHandle),
		settings: map[string]any{"connections_limit": 55},
		alerts:   make(chan domain.Alert, 64),
		wake:     make(chan struct{}, 1),
	}
}

func (b *fakeBackend) push(alert domain.Alert) {
	b.alerts <- alert
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// fingerprint is derived from the btih field so tests can pick their own.
func (b *fakeBackend) Resolve(params ports.AddParams) (domain.Fingerprint, error) {
	if b.resolveErr != nil {
		return "", b.resolveErr
	}
	if params.Magnet != "" {
		idx := strings.Index(params.Magnet, "btih:")
		if idx < 0 || len(params.Magnet) < idx+5+40 {
			return "", domain.ErrBadSource
		}
		return domain.CanonicalFingerprint(params.Magnet[idx+5 : idx+5+40]), nil
	}
	return "cafebabecafebabecafebabecafebabecafebabe", nil
}

func (b *fakeBackend) Add(params ports.AddParams) (ports.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addCalls++
	b.lastAdd = params
	if b.addErr != nil {
		return nil, b.addErr
	}
	fp, _ := b.Resolve(params)
	h := &fakeHandle{fp: fp, name: "transfer-" + fp.Short(), savePath: params.SavePath, valid: true}
	b.handles[fp] = h
	return h, nil
}

func (b *fakeBackend) Remove(h ports.Handle, deleteFiles bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeCalls++
	delete(b.handles, h.Fingerprint())
	return b.removeErr
}

func (b *fakeBackend) Pause() {
	b.mu.Lock()
	b.pauseCalls++
	b.mu.Unlock()
}

func (b *fakeBackend) SaveState() ([]byte, error) { return []byte("dht-nodes"), nil }

func (b *fakeBackend) LoadState(blob []byte) error {
	b.mu.Lock()
	b.loadedState = blob
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) AddBootstrapNode(host string, port int) {
	b.mu.Lock()
	b.bootstrap = append(b.bootstrap, fmt.Sprintf("%s:%d", host, port))
	b.mu.Unlock()
}

func (b *fakeBackend) Settings() map[string]any            { return b.settings }
func (b *fakeBackend) ApplySettings(overrides map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range overrides {
		b.settings[k] = v
	}
}

func (b *fakeBackend) Stats() (domain.SessionStats, error) {
	return domain.SessionStats{DownloadRate: 100, PeerCount: 4}, nil
}

func (b *fakeBackend) PopAlerts() []domain.Alert {
	var out []domain.Alert
	for {
		select {
		case a := <-b.alerts:
			out = append(out, a)
		default:
			return out
		}
	}
}

func (b *fakeBackend) WaitAlert(timeout time.Duration) bool {
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

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	b.closeCalls++
	b.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

const (
	fpA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fpB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	fpC = "cccccccccccccccccccccccccccccccccccccccc"
)

func magnetFor(fp string) string { return "magnet:?xt=urn:btih:" + fp }

func newTestEngine(t *testing.T, backend *fakeBackend, cfg Config) (*Engine, *fsstore.Store) {
	t.Helper()
	store, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("fsstore.New: %v", err)
	}
	factory := func(BackendConfig) (ports.Backend, error) { return backend, nil }
	return New(factory, store, store, slog.Default(), cfg), store
}

func startedEngine(t *testing.T, backend *fakeBackend, cfg Config) (*Engine, *fsstore.Store) {
	t.Helper()
	e, store := newTestEngine(t, backend, cfg)
	if err := e.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, store
}

func addTransfer(t *testing.T, e *Engine, fp string) *fakeHandle {
	t.Helper()
	h, err := e.Add(magnetFor(fp), "/downloads")
	if err != nil {
		t.Fatalf("Add(%s): %v", fp, err)
	}
	fh := h.(*fakeHandle)
	fh.mu.Lock()
	fh.dirty = true
	fh.mu.Unlock()
	return fh
}

// ---------------------------------------------------------------------------
// lifecycle
// ---------------------------------------------------------------------------

func TestStartSeedsBootstrapNodes(t *testing.T) {
	backend := newFakeBackend()
	e, _ := newTestEngine(t, backend, Config{BootstrapNodes: []string{
		"router.example.com:6881",
		"bad-node-no-port",
		"dht.example.org:25401",
	}})
	if err := e.Start(6881); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(backend.bootstrap) != 2 {
		t.Fatalf("bootstrap = %v, want 2 valid nodes", backend.bootstrap)
	}
	if backend.bootstrap[0] != "router.example.com:6881" {
		t.Fatalf("bootstrap[0] = %q", backend.bootstrap[0])
	}
}

func TestStartRestoresNetworkState(t *testing.T) {
	backend := newFakeBackend()
	e, store := newTestEngine(t, backend, Config{})
	if err := store.WriteNetworkState([]byte("routing-table")); err != nil {
		t.Fatalf("WriteNetworkState: %v", err)
	}
	if err := e.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if string(backend.loadedState) != "routing-table" {
		t.Fatalf("loadedState = %q, want routing-table", backend.loadedState)
	}
}

func TestStartFactoryFailureLeavesEngineStopped(t *testing.T) {
	store, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("fsstore.New: %v", err)
	}
	factory := func(BackendConfig) (ports.Backend, error) {
		return nil, errors.New("no ports available")
	}
	e := New(factory, store, store, slog.Default(), Config{})
	if err := e.Start(0); err == nil {
		t.Fatal("Start succeeded with failing factory")
	}
	if e.Running() {
		t.Fatal("engine reports running after failed start")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{CheckpointTimeout: 50 * time.Millisecond})

	e.Stop()
	e.Stop()
	e.Stop()

	if backend.closeCalls != 1 {
		t.Fatalf("closeCalls = %d, want 1", backend.closeCalls)
	}
	if backend.pauseCalls != 1 {
		t.Fatalf("pauseCalls = %d, want 1", backend.pauseCalls)
	}
	if e.Running() {
		t.Fatal("engine reports running after Stop")
	}
	if len(e.Handles()) != 0 {
		t.Fatal("registry not cleared by Stop")
	}
}

func TestStopPersistsNetworkState(t *testing.T) {
	backend := newFakeBackend()
	e, store := startedEngine(t, backend, Config{CheckpointTimeout: 50 * time.Millisecond})

	e.Stop()

	blob, err := store.ReadNetworkState()
	if err != nil {
		t.Fatalf("ReadNetworkState: %v", err)
	}
	if string(blob) != "dht-nodes" {
		t.Fatalf("network state = %q, want dht-nodes", blob)
	}
}

// ---------------------------------------------------------------------------
// checkpoint protocol
// ---------------------------------------------------------------------------

func TestStopSavesAllCheckpointsBeforeDeadline(t *testing.T) {
	backend := newFakeBackend()
	e, store := startedEngine(t, backend, Config{CheckpointTimeout: 5 * time.Second})

	for i, fp := range []string{fpA, fpB, fpC} {
		h := addTransfer(t, e, fp)
		blob := []byte(fmt.Sprintf("resume-%d", i))
		h.onRequest = func() {
			backend.push(domain.Alert{
				Kind:        domain.AlertCheckpointSaved,
				Fingerprint: h.fp,
				Blob:        blob,
			})
		}
	}

	start := time.Now()
	e.Stop()
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v with all completions arriving promptly", elapsed)
	}

	for i, fp := range []string{fpA, fpB, fpC} {
		blob, err := store.ReadCheckpoint(domain.Fingerprint(fp))
		if err != nil {
			t.Fatalf("ReadCheckpoint(%s): %v", fp, err)
		}
		want := fmt.Sprintf("resume-%d", i)
		if string(blob) != want {
			t.Fatalf("checkpoint %s = %q, want %q", fp, blob, want)
		}
	}
}

func TestStopAbandonsStragglersAtDeadline(t *testing.T) {
	backend := newFakeBackend()
	e, store := startedEngine(t, backend, Config{CheckpointTimeout: 100 * time.Millisecond})

	fast := addTransfer(t, e, fpA)
	fast.onRequest = func() {
		backend.push(domain.Alert{
			Kind:        domain.AlertCheckpointSaved,
			Fingerprint: fast.fp,
			Blob:        []byte("fast"),
		})
	}
	// Never responds.
	addTransfer(t, e, fpB)

	start := time.Now()
	e.Stop()
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond {
		t.Fatalf("Stop returned in %v, before the deadline", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Stop took %v, deadline not honored", elapsed)
	}

	if _, err := store.ReadCheckpoint(fpA); err != nil {
		t.Fatalf("fast checkpoint missing: %v", err)
	}
	if _, err := store.ReadCheckpoint(fpB); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("straggler checkpoint = %v, want ErrNotFound", err)
	}
}

func TestStopCountsFailedCheckpoints(t *testing.T) {
	backend := newFakeBackend()
	e, store := startedEngine(t, backend, Config{CheckpointTimeout: 5 * time.Second})

	for _, fp := range []string{fpA, fpB} {
		h := addTransfer(t, e, fp)
		h.onRequest = func() {
			backend.push(domain.Alert{
				Kind:        domain.AlertCheckpointSaved,
				Fingerprint: h.fp,
				Blob:        []byte("ok"),
			})
		}
	}
	failing := addTransfer(t, e, fpC)
	failing.onRequest = func() {
		backend.push(domain.Alert{
			Kind:        domain.AlertCheckpointFailed,
			Fingerprint: failing.fp,
			Message:     "disk error",
		})
	}

	start := time.Now()
	e.Stop()
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v: failed alert did not decrement outstanding", elapsed)
	}

	if _, err := store.ReadCheckpoint(fpA); err != nil {
		t.Fatalf("checkpoint A missing: %v", err)
	}
	if _, err := store.ReadCheckpoint(fpB); err != nil {
		t.Fatalf("checkpoint B missing: %v", err)
	}
	if _, err := store.ReadCheckpoint(fpC); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed checkpoint persisted: %v", err)
	}
}

func TestStopIgnoresUnrelatedAlerts(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{CheckpointTimeout: 5 * time.Second})

	h := addTransfer(t, e, fpA)
	h.onRequest = func() {
		// Noise first; unrelated kinds must not decrement the counter.
		backend.push(domain.Alert{Kind: domain.AlertError, Message: "tracker timeout"})
		backend.push(domain.Alert{
			Kind:        domain.AlertCheckpointSaved,
			Fingerprint: h.fp,
			Blob:        []byte("resume"),
		})
	}

	start := time.Now()
	e.Stop()
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v", elapsed)
	}
}

func TestStopSkipsCleanHandles(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{CheckpointTimeout: 5 * time.Second})

	clean := addTransfer(t, e, fpA)
	clean.mu.Lock()
	clean.dirty = false
	clean.mu.Unlock()

	start := time.Now()
	e.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Stop waited %v with nothing outstanding", elapsed)
	}
	if clean.requests != 0 {
		t.Fatalf("requests = %d for a clean handle, want 0", clean.requests)
	}
}

// ---------------------------------------------------------------------------
// registry
// ---------------------------------------------------------------------------

func TestAddIsIdempotentPerFingerprint(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{})

	first, err := e.Add(magnetFor(fpA), "/downloads")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := e.Add(magnetFor(fpA), "/elsewhere")
	if err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if first != second {
		t.Fatal("second Add returned a different handle")
	}
	if backend.addCalls != 1 {
		t.Fatalf("backend.Add calls = %d, want 1", backend.addCalls)
	}
	if len(e.Handles()) != 1 {
		t.Fatalf("registry size = %d, want 1", len(e.Handles()))
	}
}

func TestAddErrorTaxonomy(t *testing.T) {
	backend := newFakeBackend()
	e, _ := newTestEngine(t, backend, Config{})

	// Not running.
	if _, err := e.Add(magnetFor(fpA), ""); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("Add while stopped = %v, want ErrNotRunning", err)
	}

	if err := e.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Missing .torrent file.
	missing := filepath.Join(t.TempDir(), "gone.torrent")
	if _, err := e.Add(missing, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Add missing file = %v, want ErrNotFound", err)
	}

	// Malformed magnet.
	if _, err := e.Add("magnet:?xt=urn:btih:short", ""); !errors.Is(err, domain.ErrBadSource) {
		t.Fatalf("Add bad magnet = %v, want ErrBadSource", err)
	}

	// Backend rejection.
	backend.addErr = errors.New("metadata invalid")
	if _, err := e.Add(magnetFor(fpA), ""); !errors.Is(err, domain.ErrBackendRejected) {
		t.Fatalf("Add rejected = %v, want ErrBackendRejected", err)
	}
}

func TestAddAttachesExistingCheckpoint(t *testing.T) {
	backend := newFakeBackend()
	e, store := startedEngine(t, backend, Config{})

	if err := store.WriteCheckpoint(fpA, []byte("prior-progress")); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	if _, err := e.Add(magnetFor(fpA), "/downloads"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if string(backend.lastAdd.Checkpoint) != "prior-progress" {
		t.Fatalf("Checkpoint attached = %q, want prior-progress", backend.lastAdd.Checkpoint)
	}

	// A fresh fingerprint gets no checkpoint.
	if _, err := e.Add(magnetFor(fpB), "/downloads"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if backend.lastAdd.Checkpoint != nil {
		t.Fatalf("unexpected checkpoint for fresh transfer: %q", backend.lastAdd.Checkpoint)
	}
}

func TestRemoveDeregistersUnconditionally(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{})
	addTransfer(t, e, fpA)

	backend.removeErr = errors.New("backend busy")
	e.Remove(fpA, false)

	if len(e.Handles()) != 0 {
		t.Fatal("handle still registered after Remove with backend error")
	}
	if backend.removeCalls != 1 {
		t.Fatalf("removeCalls = %d, want 1", backend.removeCalls)
	}

	// Removing an unknown fingerprint is a silent no-op.
	e.Remove(fpB, false)
	if backend.removeCalls != 1 {
		t.Fatalf("removeCalls = %d after unknown fp, want 1", backend.removeCalls)
	}
}

func TestRemoveWithDeleteFilesDropsCheckpoint(t *testing.T) {
	backend := newFakeBackend()
	e, store := startedEngine(t, backend, Config{})
	addTransfer(t, e, fpA)

	if err := store.WriteCheckpoint(fpA, []byte("resume")); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	e.Remove(fpA, true)

	if _, err := store.ReadCheckpoint(fpA); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("checkpoint after Remove = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// alerts and stats outside shutdown
// ---------------------------------------------------------------------------

func TestDrainAlertsPersistsSavedCheckpoints(t *testing.T) {
	backend := newFakeBackend()
	e, store := startedEngine(t, backend, Config{})
	addTransfer(t, e, fpA)

	backend.push(domain.Alert{
		Kind:        domain.AlertCheckpointSaved,
		Fingerprint: fpA,
		Blob:        []byte("mid-session"),
	})

	alerts := e.DrainAlerts()
	if len(alerts) != 1 {
		t.Fatalf("DrainAlerts = %d alerts, want 1", len(alerts))
	}
	blob, err := store.ReadCheckpoint(fpA)
	if err != nil {
		t.Fatalf("ReadCheckpoint: %v", err)
	}
	if string(blob) != "mid-session" {
		t.Fatalf("checkpoint = %q", blob)
	}
}

func TestStoppedEngineDegradesGracefully(t *testing.T) {
	backend := newFakeBackend()
	e, _ := newTestEngine(t, backend, Config{})

	if alerts := e.DrainAlerts(); alerts != nil {
		t.Fatalf("DrainAlerts while stopped = %v, want nil", alerts)
	}
	if stats := e.SnapshotSessionStats(); stats != (domain.SessionStats{}) {
		t.Fatalf("SnapshotSessionStats while stopped = %+v, want zero", stats)
	}
	if settings := e.Settings(); settings != nil {
		t.Fatalf("Settings while stopped = %v, want nil", settings)
	}
	// ApplySettings must be a silent no-op.
	e.ApplySettings(map[string]any{"connections_limit": 10})
}

func TestApplySettingsForwardsToBackend(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{})

	e.ApplySettings(map[string]any{"connections_limit": 150})
	if got := e.Settings()["connections_limit"]; got != 150 {
		t.Fatalf("connections_limit = %v, want 150", got)
	}
}

// ---------------------------------------------------------------------------
// transfer list persistence
// ---------------------------------------------------------------------------

func TestPersistAndLoadTorrentList(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{})
	ctx := context.Background()

	hA := addTransfer(t, e, fpA)
	hA.trackers = []string{"udp://tracker.example:6969/announce"}
	invalid := addTransfer(t, e, fpB)
	invalid.mu.Lock()
	invalid.valid = false
	invalid.mu.Unlock()

	e.PersistTorrentList(ctx)

	entries := e.LoadTorrentList(ctx)
	if len(entries) != 1 {
		t.Fatalf("LoadTorrentList = %d entries, want 1 (invalid handle skipped)", len(entries))
	}
	if entries[0].Fingerprint != domain.Fingerprint(fpA) {
		t.Fatalf("entry fingerprint = %s", entries[0].Fingerprint)
	}
	if entries[0].SavePath != "/downloads" {
		t.Fatalf("entry savePath = %q", entries[0].SavePath)
	}
	if len(entries[0].Trackers) != 1 {
		t.Fatalf("entry trackers = %v", entries[0].Trackers)
	}
}

func TestLoadTorrentListEmptyOnFreshStore(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{})
	if entries := e.LoadTorrentList(context.Background()); len(entries) != 0 {
		t.Fatalf("LoadTorrentList fresh = %d entries, want 0", len(entries))
	}
}

func TestStatusesSkipsInvalidHandles(t *testing.T) {
	backend := newFakeBackend()
	e, _ := startedEngine(t, backend, Config{})
	addTransfer(t, e, fpA)
	broken := addTransfer(t, e, fpB)
	broken.mu.Lock()
	broken.valid = false
	broken.mu.Unlock()

	statuses := e.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("Statuses = %d, want 1", len(statuses))
	}
	if statuses[0].Fingerprint != domain.Fingerprint(fpA) {
		t.Fatalf("status fingerprint = %s", statuses[0].Fingerprint)
	}
}
