package usecase

import (
	"context"
	"log/slog"
	"testing"

	"swarmhub/internal/domain"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeMonitorEngine struct {
	running  bool
	alerts   []domain.Alert
	stats    domain.SessionStats
	statuses []domain.TransferStatus

	drainCalls   int
	persistCalls int
}

func (f *fakeMonitorEngine) Running() bool { return f.running }

func (f *fakeMonitorEngine) DrainAlerts() []domain.Alert {
	f.drainCalls++
	out := f.alerts
	f.alerts = nil
	return out
}

func (f *fakeMonitorEngine) SnapshotSessionStats() domain.SessionStats { return f.stats }

func (f *fakeMonitorEngine) Statuses() []domain.TransferStatus { return f.statuses }

func (f *fakeMonitorEngine) PersistTorrentList(context.Context) { f.persistCalls++ }

type fakeTuner struct {
	detectCalls int
	adjusted    [][]domain.Bottleneck
}

func (f *fakeTuner) DetectAndApply() string { f.detectCalls++; return "wifi" }

func (f *fakeTuner) ApplyDynamicAdjustments(b []domain.Bottleneck) {
	f.adjusted = append(f.adjusted, b)
}

type fakeProbe struct {
	disk float64
	cpu  float64
}

func (f fakeProbe) DiskUsagePercent() float64 { return f.disk }
func (f fakeProbe) CPUPercent() float64       { return f.cpu }

// ---------------------------------------------------------------------------
// tick behaviour
// ---------------------------------------------------------------------------

func TestTickSkipsWhenNotRunning(t *testing.T) {
	engine := &fakeMonitorEngine{running: false}
	tuner := &fakeTuner{}
	m := &Monitor{Engine: engine, Tuner: tuner, Probe: fakeProbe{}, Logger: slog.Default()}

	m.tick(context.Background())

	if engine.drainCalls != 0 {
		t.Fatalf("drainCalls = %d, want 0 when engine is stopped", engine.drainCalls)
	}
	if tuner.detectCalls != 0 {
		t.Fatalf("detectCalls = %d, want 0 when engine is stopped", tuner.detectCalls)
	}
}

func TestTickFeedsBottlenecksToTuner(t *testing.T) {
	engine := &fakeMonitorEngine{running: true}
	tuner := &fakeTuner{}
	m := &Monitor{
		Engine: engine,
		Tuner:  tuner,
		Probe:  fakeProbe{disk: 95, cpu: 10},
		Logger: slog.Default(),
	}

	m.tick(context.Background())

	if engine.drainCalls != 1 {
		t.Fatalf("drainCalls = %d, want 1", engine.drainCalls)
	}
	if tuner.detectCalls != 1 {
		t.Fatalf("detectCalls = %d, want 1", tuner.detectCalls)
	}
	if len(tuner.adjusted) != 1 {
		t.Fatalf("ApplyDynamicAdjustments calls = %d, want 1", len(tuner.adjusted))
	}
	found := false
	for _, b := range tuner.adjusted[0] {
		if b.Category == domain.BottleneckDisk {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected disk bottleneck in %+v", tuner.adjusted[0])
	}
}

func TestBottlenecksAccessorReturnsCopy(t *testing.T) {
	engine := &fakeMonitorEngine{running: true}
	m := &Monitor{
		Engine: engine,
		Tuner:  &fakeTuner{},
		Probe:  fakeProbe{disk: 95},
		Logger: slog.Default(),
	}
	m.tick(context.Background())

	got := m.Bottlenecks()
	if len(got) == 0 {
		t.Fatal("expected at least one bottleneck")
	}
	got[0].Severity = -1
	if again := m.Bottlenecks(); again[0].Severity == -1 {
		t.Fatal("Bottlenecks() returned shared slice")
	}
}

func TestTickBroadcastHook(t *testing.T) {
	engine := &fakeMonitorEngine{
		running:  true,
		stats:    domain.SessionStats{DownloadRate: 1024, PeerCount: 3},
		statuses: []domain.TransferStatus{{Name: "a"}, {Name: "b"}},
	}
	var gotStats domain.SessionStats
	var gotStatuses []domain.TransferStatus
	m := &Monitor{
		Engine: engine,
		Tuner:  &fakeTuner{},
		Probe:  fakeProbe{},
		Logger: slog.Default(),
		Broadcast: func(stats domain.SessionStats, statuses []domain.TransferStatus) {
			gotStats = stats
			gotStatuses = statuses
		},
	}

	m.tick(context.Background())

	if gotStats.DownloadRate != 1024 || gotStats.PeerCount != 3 {
		t.Fatalf("broadcast stats = %+v", gotStats)
	}
	if len(gotStatuses) != 2 {
		t.Fatalf("broadcast statuses = %d, want 2", len(gotStatuses))
	}
}
