// Package netclass classifies the active network environment from interface
// names. The transfer core consumes only the classification result.
package netclass

import (
	"log/slog"
	"net"
	"strings"

	"swarmhub/internal/domain"
)

var wifiKeywords = []string{"wi-fi", "wlan", "wlp", "wireless", "ath"}

var lanKeywords = []string{"ethernet", "eth", "enp", "eno", "ens", "em"}

// vpnKeywords match tunnel adapters of common VPN products.
var vpnKeywords = []string{
	"tap", "tun", "vpn", "nordlynx", "wireguard", "wg",
	"proton", "mullvad", "openvpn", "amnezia", "awg",
	"cloudflare", "warp", "zerotier", "tailscale",
}

// Classifier inspects up interfaces. The interface lister is injectable for
// tests; production code uses net.Interfaces.
type Classifier struct {
	interfaces func() ([]net.Interface, error)
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{interfaces: net.Interfaces, logger: logger}
}

// ConnectionType returns wifi, lan or unknown for the first matching up
// interface.
func (c *Classifier) ConnectionType() domain.ConnectionType {
	ifaces, err := c.interfaces()
	if err != nil {
		c.logger.Warn("network detection failed", slog.String("error", err.Error()))
		return domain.ConnectionUnknown
	}
	for _, iface := range ifaces {
		if !usable(iface) {
			continue
		}
		switch classifyName(iface.Name) {
		case domain.ConnectionWiFi:
			return domain.ConnectionWiFi
		case domain.ConnectionLAN:
			return domain.ConnectionLAN
		}
	}
	return domain.ConnectionUnknown
}

// VPNActive reports whether any up interface looks like a VPN tunnel.
func (c *Classifier) VPNActive() bool {
	ifaces, err := c.interfaces()
	if err != nil {
		c.logger.Warn("vpn detection failed", slog.String("error", err.Error()))
		return false
	}
	for _, iface := range ifaces {
		if !usable(iface) {
			continue
		}
		if matchesAny(iface.Name, vpnKeywords) {
			return true
		}
	}
	return false
}

// VPNInterface returns the name of the active VPN tunnel, or "".
func (c *Classifier) VPNInterface() string {
	ifaces, err := c.interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if usable(iface) && matchesAny(iface.Name, vpnKeywords) {
			return iface.Name
		}
	}
	return ""
}

func usable(iface net.Interface) bool {
	return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0
}

// classifyName maps an interface name to a connection type. VPN adapters
// match the wifi/lan keyword sets too rarely to matter: the controller
// checks VPNActive first.
func classifyName(name string) domain.ConnectionType {
	if matchesAny(name, wifiKeywords) {
		return domain.ConnectionWiFi
	}
	if matchesAny(name, lanKeywords) {
		return domain.ConnectionLAN
	}
	return domain.ConnectionUnknown
}

func matchesAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
