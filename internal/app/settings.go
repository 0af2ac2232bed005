package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AppSettings are the user-adjustable knobs persisted across restarts,
// separate from env-derived Config. Zero values mean "use defaults".
type AppSettings struct {
	DownloadDir       string `json:"download_dir,omitempty"`
	NetworkProfile    string `json:"network_profile,omitempty"`
	DownloadRateLimit int64  `json:"download_rate_limit,omitempty"` // bytes/s, 0 = unlimited
	UploadRateLimit   int64  `json:"upload_rate_limit,omitempty"`   // bytes/s, 0 = unlimited
	ListenPort        int    `json:"listen_port,omitempty"`
}

const settingsFile = "settings.json"

// LoadSettings returns zero settings when the file does not exist yet.
func LoadSettings(stateDir string) (AppSettings, error) {
	var s AppSettings
	data, err := os.ReadFile(filepath.Join(stateDir, settingsFile))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func SaveSettings(stateDir string, s AppSettings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, settingsFile), data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Apply overlays the persisted settings onto an env-derived config.
func (s AppSettings) Apply(cfg Config) Config {
	if s.DownloadDir != "" {
		cfg.DownloadDir = s.DownloadDir
	}
	if s.NetworkProfile != "" {
		cfg.Profile = s.NetworkProfile
	}
	if s.ListenPort > 0 {
		cfg.ListenPort = s.ListenPort
	}
	return cfg
}
