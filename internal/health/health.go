// Package health implements the /api/health resource (SPEC_FULL §7,
// not in the distilled spec's representative endpoint list but implied
// by "storage unavailable surfaces as a distinct kind" in spec.md §7):
// repository connectivity plus process resource usage. Grounded on
// aristath-sentinel's getSystemStats (gopsutil CPU%/mem sampling) and
// the teacher's LedgerHealthSummary field shape in cmd/trading-system,
// generalized from a ledger-specific summary to the repository's
// dual-endpoint Health struct.
package health

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"exchange-sim/internal/repository"
)

// Process is the resource-usage portion of a health snapshot.
type Process struct {
	CPUPercent   float64 `json:"cpuPercent"`
	MemPercent   float64 `json:"memPercent"`
	RSSBytes     uint64  `json:"rssBytes"`
	NumGoroutine int     `json:"numGoroutine"`
}

// Snapshot is the full /api/health response body.
type Snapshot struct {
	Repository repository.Health `json:"repository"`
	Process    Process           `json:"process"`
	UptimeSecs float64           `json:"uptimeSeconds"`
}

// Checker samples repository health and process stats on demand.
type Checker struct {
	repo      repository.Repository
	startedAt time.Time
}

// NewChecker builds a Checker. startedAt is the process's boot time, used
// to derive UptimeSecs.
func NewChecker(repo repository.Repository, startedAt time.Time) *Checker {
	return &Checker{repo: repo, startedAt: startedAt}
}

// Snapshot samples current health. CPU sampling blocks for 100ms (same
// short interval aristath-sentinel uses) so the call stays cheap enough
// to serve on every health-check poll.
func (c *Checker) Snapshot() Snapshot {
	var mstat runtime.MemStats
	runtime.ReadMemStats(&mstat)

	cpuPct := 0.0
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	memPct := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}

	return Snapshot{
		Repository: c.repo.HealthSnapshot(),
		Process: Process{
			CPUPercent:   cpuPct,
			MemPercent:   memPct,
			RSSBytes:     mstat.Sys,
			NumGoroutine: runtime.NumGoroutine(),
		},
		UptimeSecs: time.Since(c.startedAt).Seconds(),
	}
}
