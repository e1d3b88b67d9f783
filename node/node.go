package node

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/c9s/goprocinfo/linux"
)

// ProcRoot is where host information is read from.
var ProcRoot = "/proc"

// Node describes the machine solvers are launched on.
type Node struct {
	Name          string `json:"name"`
	Cores         int    `json:"cores"`
	PhysicalCores int    `json:"physicalCores"`
	Memory        uint64 `json:"memoryKb"`
}

func New(name string, cores int, memoryKb uint64) *Node {
	return &Node{
		Name:          name,
		Cores:         cores,
		PhysicalCores: cores,
		Memory:        memoryKb,
	}
}

// Local inspects the current host.
func Local() (*Node, error) {
	name, err := os.Hostname()
	if err != nil {
		name = "localhost"
	}

	cpuinfo, err := linux.ReadCPUInfo(filepath.Join(ProcRoot, "cpuinfo"))
	if err != nil {
		return nil, fmt.Errorf("reading cpuinfo: %w", err)
	}
	meminfo, err := linux.ReadMemInfo(filepath.Join(ProcRoot, "meminfo"))
	if err != nil {
		return nil, fmt.Errorf("reading meminfo: %w", err)
	}

	n := New(name, cpuinfo.NumCPU(), meminfo.MemTotal)
	if physical := cpuinfo.NumCore(); physical > 0 {
		n.PhysicalCores = physical
	}
	return n, nil
}

// Budget returns requested when positive, otherwise every core of the node.
func (n *Node) Budget(requested int) int {
	if requested > 0 {
		return requested
	}
	if n.Cores > 0 {
		return n.Cores
	}
	return 1
}
