// Package health reports whether the index store and the blob spill area
// are usable.
package health

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"musicmaid/internal/capacity"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Report represents the health check response structure
type Report struct {
	Status   string              `json:"status"`
	DB       DependencyStatus    `json:"db"`
	SpillDir DependencyStatus    `json:"spill_dir"`
	Disk     DependencyStatus    `json:"disk"`
	Capacity *capacity.UsageInfo `json:"capacity,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Pinger verifies database connectivity
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// UsageProber reports volume usage
type UsageProber interface {
	GetUsage(path string) (capacity.UsageInfo, error)
}

// Checker runs the health checks
type Checker struct {
	db       Pinger
	spillDir string
	disk     UsageProber
	// DBDegradedAfter marks the database degraded when a ping is slower
	DBDegradedAfter time.Duration
}

// NewChecker creates a checker. An empty spillDir skips the spill check.
func NewChecker(db Pinger, spillDir string, disk UsageProber) *Checker {
	return &Checker{
		db:              db,
		spillDir:        spillDir,
		disk:            disk,
		DBDegradedAfter: 200 * time.Millisecond,
	}
}

// Check runs every check. The overall status is the worst of the parts.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		DB:       c.checkDB(ctx),
		SpillDir: c.checkSpillDir(),
	}
	report.Disk, report.Capacity = c.checkDisk()

	report.Status = StatusOK
	for _, s := range []string{report.DB.Status, report.SpillDir.Status, report.Disk.Status} {
		if s == StatusDown {
			report.Status = StatusDown
			break
		}
		if s == StatusDegraded {
			report.Status = StatusDegraded
		}
	}
	return report
}

// checkDB checks database health
func (c *Checker) checkDB(ctx context.Context) DependencyStatus {
	start := time.Now()
	err := c.db.HealthCheck(ctx)
	latency := time.Since(start)

	if err != nil {
		return DependencyStatus{Status: StatusDown, LatencyMs: latency.Milliseconds(), Error: err.Error()}
	}
	if latency > c.DBDegradedAfter {
		return DependencyStatus{Status: StatusDegraded, LatencyMs: latency.Milliseconds()}
	}
	return DependencyStatus{Status: StatusOK, LatencyMs: latency.Milliseconds()}
}

// checkSpillDir verifies that spill files can be created
func (c *Checker) checkSpillDir() DependencyStatus {
	if c.spillDir == "" {
		return DependencyStatus{Status: StatusOK}
	}

	start := time.Now()
	down := func(err error) DependencyStatus {
		return DependencyStatus{Status: StatusDown, LatencyMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}

	if err := os.MkdirAll(c.spillDir, 0755); err != nil {
		return down(err)
	}
	probe := filepath.Join(c.spillDir, ".health-"+uuid.NewString())
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return down(err)
	}
	if err := os.Remove(probe); err != nil {
		return down(err)
	}
	return DependencyStatus{Status: StatusOK, LatencyMs: time.Since(start).Milliseconds()}
}

// checkDisk maps volume usage thresholds onto health statuses
func (c *Checker) checkDisk() (DependencyStatus, *capacity.UsageInfo) {
	if c.disk == nil || c.spillDir == "" {
		return DependencyStatus{Status: StatusOK}, nil
	}

	start := time.Now()
	usage, err := c.disk.GetUsage(c.spillDir)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return DependencyStatus{Status: StatusDown, LatencyMs: latency, Error: err.Error()}, nil
	}

	status := StatusOK
	switch usage.Status {
	case "warning":
		status = StatusDegraded
	case "alert":
		status = StatusDown
	}
	return DependencyStatus{Status: status, LatencyMs: latency}, &usage
}
