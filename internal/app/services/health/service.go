// Package health reports process liveness plus host and dependency
// status for the health endpoint.
package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/madfam-io/madlab/pkg/logger"
)

// Pinger is a named dependency that can be probed. Database and cache
// connections attach themselves here.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (p PingerFunc) Name() string                   { return p.Label }
func (p PingerFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }

// Check is the probe result for one dependency.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

// SystemInfo is a host resource snapshot.
type SystemInfo struct {
	Goroutines  int     `json:"goroutines"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryUsed  uint64  `json:"memory_used_bytes"`
	MemoryTotal uint64  `json:"memory_total_bytes"`
	DiskPercent float64 `json:"disk_percent"`
}

// Report is the full health payload.
type Report struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	UptimeSec int64            `json:"uptime_seconds"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

const probeTimeout = 2 * time.Second

// Service assembles health reports.
type Service struct {
	version string
	started time.Time
	log     *logger.Logger

	mu      sync.Mutex
	pingers []Pinger
}

// New creates a health service for the given build version.
func New(version string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("health")
	}
	return &Service{version: version, started: time.Now(), log: log}
}

// AttachPinger registers a dependency probe.
func (s *Service) AttachPinger(p Pinger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingers = append(s.pingers, p)
}

// Report probes every attached dependency and samples host resources.
// Overall status degrades to "degraded" when any probe fails; the
// process itself is still serving.
func (s *Service) Report(ctx context.Context, includeSystem bool) Report {
	r := Report{
		Status:    "ok",
		Version:   s.version,
		UptimeSec: int64(time.Since(s.started).Seconds()),
	}

	s.mu.Lock()
	pingers := make([]Pinger, len(s.pingers))
	copy(pingers, s.pingers)
	s.mu.Unlock()

	if len(pingers) > 0 {
		r.Checks = make(map[string]Check, len(pingers))
		for _, p := range pingers {
			r.Checks[p.Name()] = s.probe(ctx, p)
		}
		for _, c := range r.Checks {
			if c.Status != "ok" {
				r.Status = "degraded"
				break
			}
		}
	}

	if includeSystem {
		r.System = s.system(ctx)
	}
	return r
}

func (s *Service) probe(ctx context.Context, p Pinger) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	c := Check{Status: "ok", Latency: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		c.Status = "error"
		c.Error = err.Error()
		s.log.WithError(err).WithField("dependency", p.Name()).Warn("health probe failed")
	}
	return c
}

// system gathers best-effort host metrics. Sampling errors leave the
// corresponding fields at zero rather than failing the report.
func (s *Service) system(ctx context.Context) *SystemInfo {
	info := &SystemInfo{Goroutines: runtime.NumGoroutine()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryUsed = vm.Used
		info.MemoryTotal = vm.Total
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		info.DiskPercent = du.UsedPercent
	}
	return info
}
