package app

import (
	"fmt"
	"sync"
)

// SettingsApplier is the slice of the transfer engine the manager pushes
// rate limits into.
type SettingsApplier interface {
	ApplySettings(overrides map[string]any)
}

// ProfileOverrider is the tuning controller surface for manual profile
// selection.
type ProfileOverrider interface {
	SetManualProfile(name string)
}

// SettingsManager serializes reads and writes of the persisted AppSettings
// and propagates changes into the running system.
type SettingsManager struct {
	stateDir string
	engine   SettingsApplier
	tuner    ProfileOverrider

	mu      sync.Mutex
	current AppSettings
}

func NewSettingsManager(stateDir string, engine SettingsApplier, tuner ProfileOverrider) (*SettingsManager, error) {
	current, err := LoadSettings(stateDir)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &SettingsManager{
		stateDir: stateDir,
		engine:   engine,
		tuner:    tuner,
		current:  current,
	}, nil
}

func (m *SettingsManager) Get() AppSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Update persists the new settings and applies the live-tunable subset.
// Download directory and listen port changes take effect on restart.
func (m *SettingsManager) Update(settings AppSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := SaveSettings(m.stateDir, settings); err != nil {
		return err
	}
	previous := m.current
	m.current = settings

	if m.engine != nil {
		m.engine.ApplySettings(map[string]any{
			"download_rate_limit": settings.DownloadRateLimit,
			"upload_rate_limit":   settings.UploadRateLimit,
		})
	}
	if m.tuner != nil && settings.NetworkProfile != previous.NetworkProfile {
		m.tuner.SetManualProfile(settings.NetworkProfile)
	}
	return nil
}
