package worker

import (
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/c9s/goprocinfo/linux"

	"sunny/node"
)

func GetStats() *Stats {
	return &Stats{
		MemStats:  getMemoryInfo(),
		CpuStats:  getCpuStats(),
		LoadStats: getLoadAverage(),
	}
}

type Stats struct {
	MemStats  *linux.MemInfo `json:"memStats"`
	CpuStats  *linux.CPUStat `json:"cpuStats"`
	LoadStats *linux.LoadAvg `json:"loadStats"`
	TaskCount int            `json:"taskCount"`
}

func (s *Stats) MemTotalKb() uint64 {
	return s.MemStats.MemTotal
}

func (s *Stats) MemAvailableKb() uint64 {
	return s.MemStats.MemAvailable
}

func (s *Stats) MemUsedKb() uint64 {
	if s.MemStats.MemAvailable > s.MemStats.MemTotal {
		return 0
	}
	return s.MemStats.MemTotal - s.MemStats.MemAvailable
}

// MemUsedFraction is the share of memory in use, in [0, 1].
func (s *Stats) MemUsedFraction() float64 {
	if s.MemStats.MemTotal == 0 {
		return 0
	}
	return float64(s.MemUsedKb()) / float64(s.MemStats.MemTotal)
}

func (s *Stats) CpuUsage() float64 {
	idle := s.CpuStats.Idle + s.CpuStats.IOWait
	nonIdle := s.CpuStats.User + s.CpuStats.Nice + s.CpuStats.System + s.CpuStats.IRQ + s.CpuStats.SoftIRQ + s.CpuStats.Steal
	total := idle + nonIdle

	if total == 0 {
		return 0.00
	}

	return (float64(total) - float64(idle)) / float64(total)
}

func getMemoryInfo() *linux.MemInfo {
	memstats, err := linux.ReadMemInfo(filepath.Join(node.ProcRoot, "meminfo"))
	if err != nil {
		slog.Warn("Error reading meminfo.", "component", "worker", "err", err)
		return &linux.MemInfo{}
	}
	return memstats
}

func getCpuStats() *linux.CPUStat {
	cpustats, err := linux.ReadStat(filepath.Join(node.ProcRoot, "stat"))
	if err != nil {
		slog.Warn("Error reading stat.", "component", "worker", "err", err)
		return &linux.CPUStat{}
	}
	return &cpustats.CPUStatAll
}

func getLoadAverage() *linux.LoadAvg {
	loadavg, err := linux.ReadLoadAvg(filepath.Join(node.ProcRoot, "loadavg"))
	if err != nil {
		slog.Warn("Error reading loadavg.", "component", "worker", "err", err)
		return &linux.LoadAvg{}
	}
	return loadavg
}

// residentKb is the resident set size of pid in kB, or 0 when unknown.
func residentKb(pid int) uint64 {
	if pid <= 0 {
		return 0
	}
	status, err := linux.ReadProcessStatus(filepath.Join(node.ProcRoot, strconv.Itoa(pid), "status"))
	if err != nil {
		return 0
	}
	return status.VmRSS
}
