// Package scheduler turns the inventory of the control plane into reconfiguration
// instances and places new VMs by solving them.
package scheduler

// Config holds the scheduler configuration.
type Config struct {
	// OvercommitCPU is the CPU overcommit ratio (e.g., 2.0 = 2x overcommit)
	OvercommitCPU float64 `mapstructure:"overcommit_cpu"`

	// OvercommitMemory is the memory overcommit ratio (e.g., 1.5 = 1.5x overcommit)
	OvercommitMemory float64 `mapstructure:"overcommit_memory"`

	// ReservedCPUCores is the number of CPU threads reserved for the hypervisor
	ReservedCPUCores int `mapstructure:"reserved_cpu_cores"`

	// ReservedMemoryMiB is the amount of memory in MiB reserved for the hypervisor
	ReservedMemoryMiB int `mapstructure:"reserved_memory_mib"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		OvercommitCPU:     1.0, // No overcommit by default
		OvercommitMemory:  1.0, // No overcommit by default
		ReservedCPUCores:  1,
		ReservedMemoryMiB: 1024, // 1 GiB reserved for hypervisor
	}
}
