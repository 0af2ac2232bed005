//go:build !linux && !darwin

package sysprobe

import "errors"

// diskUsage is a stub for unsupported platforms. The production image runs on
// Linux where statfs_unix.go is used.
func diskUsage(path string) (used, total int64, err error) {
	return 0, 0, errors.New("disk usage check not supported on this platform")
}
