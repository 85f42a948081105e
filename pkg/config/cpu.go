package config

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// PhysicalCores returns the number of physical CPU cores, or the logical CPU
// count when the CPU does not report its topology.
func PhysicalCores() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}
