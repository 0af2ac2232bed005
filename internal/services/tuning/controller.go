package tuning

import (
	"log/slog"
	"sync"

	"swarmhub/internal/domain"
	"swarmhub/internal/domain/ports"
	"swarmhub/internal/metrics"
)

// SettingsApplier is the slice of the transfer engine the controller needs.
type SettingsApplier interface {
	ApplySettings(overrides map[string]any)
}

// Controller selects a configuration profile from environment signals and
// pushes it into the transfer engine. A manual override, once set, supersedes
// auto-detection until cleared.
type Controller struct {
	engine     SettingsApplier
	classifier ports.NetworkClassifier
	logger     *slog.Logger

	mu       sync.Mutex
	current  string
	override string // "" = auto
}

func New(engine SettingsApplier, classifier ports.NetworkClassifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		engine:     engine,
		classifier: classifier,
		logger:     logger,
		current:    ProfileUnknown,
	}
}

func (c *Controller) CurrentProfile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) ManualProfile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.override
}

// SetManualProfile sets or clears the override. Setting a name applies it
// immediately; clearing returns control to auto-detection on the next tick.
func (c *Controller) SetManualProfile(name string) {
	c.mu.Lock()
	c.override = name
	c.mu.Unlock()
	if name != "" {
		c.ApplyProfile(name)
	}
}

// DetectAndApply picks the best profile for the current environment and
// applies it when it differs from the active one. Priority: manual override,
// then VPN, then wifi, then wired/LAN. Re-applying an unchanged profile is a
// no-op.
func (c *Controller) DetectAndApply() string {
	c.mu.Lock()
	override := c.override
	current := c.current
	c.mu.Unlock()

	if override != "" {
		return override
	}

	var name string
	switch {
	case c.classifier.VPNActive():
		name = ProfileVPN
	case c.classifier.ConnectionType() == domain.ConnectionWiFi:
		name = ProfileWiFi
	default:
		name = ProfileLAN
	}

	if name != current {
		c.ApplyProfile(name)
	}
	return name
}

// ApplyProfile pushes the named settings bundle verbatim and records it as
// the active profile. Unknown names are logged and ignored.
func (c *Controller) ApplyProfile(name string) {
	settings := cloneProfile(name)
	if settings == nil {
		c.logger.Warn("unknown profile", slog.String("profile", name))
		return
	}
	c.engine.ApplySettings(settings)
	c.mu.Lock()
	c.current = name
	c.mu.Unlock()
	metrics.ProfileSwitchesTotal.WithLabelValues(name).Inc()
	c.logger.Info("applied profile", slog.String("profile", name))
}

// ApplyDynamicAdjustments reacts to severe disk bottlenecks by halving the
// active profile's baseline connection limit (floor 30). The reduction always
// derives from the static profile table, so repeated passes never compound.
// All other bottlenecks are advisory only.
func (c *Controller) ApplyDynamicAdjustments(bottlenecks []domain.Bottleneck) {
	for _, bn := range bottlenecks {
		if bn.Category != domain.BottleneckDisk || bn.Severity <= 0.8 {
			continue
		}
		c.mu.Lock()
		current := c.current
		c.mu.Unlock()

		reduced := profileInt(current, "connections_limit", 100) / 2
		if reduced < 30 {
			reduced = 30
		}
		c.engine.ApplySettings(map[string]any{"connections_limit": reduced})
		c.logger.Info("reduced connections due to disk load", slog.Int("connectionsLimit", reduced))
	}
}
