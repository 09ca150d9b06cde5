// Package capacity reports disk usage for the volumes that hold indexed files
// and refuses rewrites that would not fit.
package capacity

import (
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"musicmaid/internal/metrics"
)

// ErrInsufficientSpace is returned when a volume cannot hold a rewrite
var ErrInsufficientSpace = errors.New("insufficient disk space")

// UsageInfo holds information about disk usage
type UsageInfo struct {
	Path        string
	Total       uint64 // Total bytes
	Used        uint64 // Used bytes
	Free        uint64 // Free bytes
	UsedPercent float64
	Thresholds  Thresholds
	Status      string // "ok", "warning", "alert"
	Timestamp   time.Time
}

// Thresholds defines warning and alert thresholds
type Thresholds struct {
	WarnPercent  float64
	AlertPercent float64
}

// DefaultThresholds returns 80% warning and 90% alert
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnPercent:  80.0,
		AlertPercent: 90.0,
	}
}

// Probe reads volume usage through gopsutil
type Probe struct {
	thresholds Thresholds
	// reserve is kept free on top of any requested size
	reserve uint64
	metrics *metrics.Metrics
	usage   func(path string) (*disk.UsageStat, error)
}

// NewProbe creates a probe that keeps reserve bytes free
func NewProbe(reserve uint64, m *metrics.Metrics) *Probe {
	if m == nil {
		m = metrics.Discard()
	}
	return &Probe{
		thresholds: DefaultThresholds(),
		reserve:    reserve,
		metrics:    m,
		usage:      disk.Usage,
	}
}

// GetUsage retrieves usage information for the volume holding path
func (p *Probe) GetUsage(path string) (UsageInfo, error) {
	usageStat, err := p.usage(path)
	if err != nil {
		return UsageInfo{}, fmt.Errorf("failed to get disk usage for path %s: %w", path, err)
	}

	p.metrics.DiskUsedPercent.WithLabelValues(path).Set(usageStat.UsedPercent)

	return UsageInfo{
		Path:        path,
		Total:       usageStat.Total,
		Used:        usageStat.Used,
		Free:        usageStat.Free,
		UsedPercent: usageStat.UsedPercent,
		Thresholds:  p.thresholds,
		Status:      p.evaluateStatus(usageStat.UsedPercent),
		Timestamp:   time.Now(),
	}, nil
}

// EnsureFree checks that the volume holding dir has need bytes free beyond
// the reserve
func (p *Probe) EnsureFree(dir string, need uint64) error {
	usage, err := p.GetUsage(dir)
	if err != nil {
		return err
	}
	if usage.Free < need+p.reserve {
		return fmt.Errorf("%w: %s has %d bytes free, %d needed plus %d reserved",
			ErrInsufficientSpace, dir, usage.Free, need, p.reserve)
	}
	return nil
}

func (p *Probe) evaluateStatus(usedPercent float64) string {
	if usedPercent >= p.thresholds.AlertPercent {
		return "alert"
	} else if usedPercent >= p.thresholds.WarnPercent {
		return "warning"
	}
	return "ok"
}
