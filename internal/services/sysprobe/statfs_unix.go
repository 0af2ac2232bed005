//go:build linux || darwin

package sysprobe

import "syscall"

// diskUsage returns used and total bytes on the filesystem containing path.
// Uses syscall.Statfs on Linux and macOS.
func diskUsage(path string) (used, total int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total = int64(stat.Blocks) * int64(stat.Bsize)
	// Bavail counts blocks available to unprivileged users.
	free := int64(stat.Bavail) * int64(stat.Bsize)
	return total - free, total, nil
}
