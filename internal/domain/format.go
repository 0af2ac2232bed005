package domain

import "fmt"

// FormatSize renders a byte count as a human-readable string.
func FormatSize(sizeBytes int64) string {
	if sizeBytes < 0 {
		return "?"
	}
	value := float64(sizeBytes)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%d B", int64(value))
			}
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f PB", value)
}

// FormatSpeed renders a transfer rate as a human-readable string.
func FormatSpeed(bytesPerSec int64) string {
	return FormatSize(bytesPerSec) + "/s"
}

// FormatETA renders a remaining-time estimate. Negative means unknown.
func FormatETA(seconds int64) string {
	if seconds < 0 {
		return "--"
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}
