package tuning

import "swarmhub/internal/domain"

// Profile names. ProfileUnknown is the controller's initial state, before any
// detection has run; it has no settings bundle.
const (
	ProfileUnknown = "unknown"
	ProfileWiFi    = string(domain.ConnectionWiFi)
	ProfileLAN     = string(domain.ConnectionLAN)
	ProfileVPN     = "vpn"
)

// Profiles maps a connection environment to the backend settings bundle
// applied for it. Exactly one profile is active at a time. Dynamic
// adjustments read the baseline values from this table, not from the live
// settings, so repeated adjustment ticks halve the same baseline rather than
// compounding.
var Profiles = map[string]map[string]any{
	ProfileWiFi: {
		"connections_limit":         100,
		"max_out_request_queue":     500,
		"send_buffer_watermark":     3 << 20,
		"send_buffer_low_watermark": 512 << 10,
		"recv_socket_buffer_size":   1 << 20,
		"send_socket_buffer_size":   1 << 20,
		"request_queue_time":        3,
		"whole_pieces_threshold":    20,
		"cache_size":                1024, // 16 MB in 16 KiB blocks
		"active_downloads":          3,
		"active_seeds":              3,
	},
	ProfileLAN: {
		"connections_limit":         300,
		"max_out_request_queue":     1500,
		"send_buffer_watermark":     16 << 20,
		"send_buffer_low_watermark": 4 << 20,
		"recv_socket_buffer_size":   4 << 20,
		"send_socket_buffer_size":   4 << 20,
		"request_queue_time":        3,
		"whole_pieces_threshold":    5,
		"cache_size":                4096, // 64 MB
		"active_downloads":          5,
		"active_seeds":              5,
	},
	ProfileVPN: {
		"connections_limit":         150,
		"max_out_request_queue":     1000,
		"send_buffer_watermark":     8 << 20,
		"send_buffer_low_watermark": 2 << 20,
		"recv_socket_buffer_size":   2 << 20,
		"send_socket_buffer_size":   2 << 20,
		"request_queue_time":        4,
		"whole_pieces_threshold":    10,
		"cache_size":                2048, // 32 MB
		"active_downloads":          3,
		"active_seeds":              3,
	},
}

// cloneProfile returns a copy so callers can never mutate the baseline table.
func cloneProfile(name string) map[string]any {
	base, ok := Profiles[name]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	return out
}

// profileInt reads an integer parameter from the baseline table.
func profileInt(name, key string, fallback int) int {
	base, ok := Profiles[name]
	if !ok {
		return fallback
	}
	switch v := base[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
