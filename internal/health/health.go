// Package health reports controller-process health for /healthz: host and
// process CPU/memory, goroutine count, and process uptime.
package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Report is the JSON body served at /healthz.
type Report struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
	HostCPUPct    float64 `json:"hostCpuPercent,omitempty"`
	HostMemUsed   uint64  `json:"hostMemUsed,omitempty"`
	HostMemTotal  uint64  `json:"hostMemTotal,omitempty"`
	ProcessCPUPct float64 `json:"processCpuPercent,omitempty"`
	ProcessMemRSS uint64  `json:"processMemRss,omitempty"`
	ProcessFDs    int     `json:"processFds,omitempty"`
}

// Reporter produces Report snapshots for the lifetime of the process.
type Reporter struct {
	started time.Time
	proc    *process.Process
}

// New opens a process handle for the current PID and records the start
// time used for uptime reporting.
func New() *Reporter {
	r := &Reporter{started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}
	return r
}

// Collect gathers a fresh health snapshot. Individual metric failures never
// fail the overall report; the field is simply omitted.
func (r *Reporter) Collect() Report {
	rep := Report{
		Status:        "ok",
		UptimeSeconds: time.Since(r.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		rep.HostCPUPct = pct[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		rep.HostMemUsed = memInfo.Used
		rep.HostMemTotal = memInfo.Total
	}

	if r.proc != nil {
		if cpuPct, err := r.proc.CPUPercent(); err == nil {
			rep.ProcessCPUPct = cpuPct
		}
		if memInfo, err := r.proc.MemoryInfo(); err == nil && memInfo != nil {
			rep.ProcessMemRSS = memInfo.RSS
		}
		if numFDs, err := r.proc.NumFDs(); err == nil {
			rep.ProcessFDs = int(numFDs)
		}
	}

	return rep
}
