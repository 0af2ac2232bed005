// Package sysprobe reports host resource pressure for bottleneck analysis.
package sysprobe

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Probe samples disk and CPU utilisation. CPU measurement is a delta between
// consecutive calls, so the first CPUPercent after construction returns 0.
type Probe struct {
	dataDir string
	logger  *slog.Logger

	mu       sync.Mutex
	lastIdle uint64
	lastBusy uint64
}

func New(dataDir string, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{dataDir: dataDir, logger: logger}
}

// DiskUsagePercent returns the filled percentage of the filesystem holding
// the download directory, or 0 when the probe fails.
func (p *Probe) DiskUsagePercent() float64 {
	used, total, err := diskUsage(p.dataDir)
	if err != nil || total == 0 {
		if err != nil {
			p.logger.Warn("disk probe failed",
				slog.String("path", p.dataDir),
				slog.String("error", err.Error()),
			)
		}
		return 0
	}
	return float64(used) / float64(total) * 100
}

// CPUPercent returns overall CPU busy percentage since the previous call.
func (p *Probe) CPUPercent() float64 {
	idle, busy, err := readCPUStat("/proc/stat")
	if err != nil {
		p.logger.Warn("cpu probe failed", slog.String("error", err.Error()))
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pct := cpuPercent(p.lastIdle, p.lastBusy, idle, busy)
	p.lastIdle, p.lastBusy = idle, busy
	return pct
}

// cpuPercent computes busy share between two counter samples. Returns 0 when
// counters did not advance or went backwards (e.g. first sample).
func cpuPercent(prevIdle, prevBusy, idle, busy uint64) float64 {
	if prevIdle == 0 && prevBusy == 0 {
		return 0
	}
	if idle < prevIdle || busy < prevBusy {
		return 0
	}
	dIdle := idle - prevIdle
	dBusy := busy - prevBusy
	if dIdle+dBusy == 0 {
		return 0
	}
	return float64(dBusy) / float64(dIdle+dBusy) * 100
}

func readCPUStat(path string) (idle, busy uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "cpu ") {
			return parseCPULine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, errors.New("no aggregate cpu line in stat file")
}

// parseCPULine parses the aggregate "cpu" line of /proc/stat. Fields are
// user nice system idle iowait irq softirq steal [guest guest_nice]; idle and
// iowait count as idle time, everything else as busy.
func parseCPULine(line string) (idle, busy uint64, err error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return 0, 0, fmt.Errorf("malformed cpu line: %q", line)
	}
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("cpu field %d: %w", i, err)
		}
		// fields[4] and fields[5] are idle and iowait.
		if i == 3 || i == 4 {
			idle += v
		} else {
			busy += v
		}
	}
	return idle, busy, nil
}
