package domain

// Resource names derived from the node and VM specifications.
const (
	ResourceCPU    = "cpu"
	ResourceMemory = "memory"
)

// ShareableResource is a resource dimension: a capacity per node and a consumption per VM.
// Unset values fall back to the defaults.
type ShareableResource struct {
	name               string
	defaultCapacity    int
	defaultConsumption int

	capacity    map[string]int
	consumption map[string]int
	future      map[string]int
}

// NewShareableResource creates a resource dimension.
func NewShareableResource(name string, defaultCapacity, defaultConsumption int) *ShareableResource {
	return &ShareableResource{
		name:               name,
		defaultCapacity:    defaultCapacity,
		defaultConsumption: defaultConsumption,
		capacity:           make(map[string]int),
		consumption:        make(map[string]int),
		future:             make(map[string]int),
	}
}

// Name returns the dimension identifier.
func (r *ShareableResource) Name() string {
	return r.name
}

// SetCapacity sets the capacity of node.
func (r *ShareableResource) SetCapacity(node string, v int) *ShareableResource {
	r.capacity[node] = v
	return r
}

// Capacity returns the capacity of node.
func (r *ShareableResource) Capacity(node string) int {
	if v, ok := r.capacity[node]; ok {
		return v
	}
	return r.defaultCapacity
}

// SetConsumption sets the current consumption of vm.
func (r *ShareableResource) SetConsumption(vm string, v int) *ShareableResource {
	r.consumption[vm] = v
	return r
}

// Consumption returns the current consumption of vm.
func (r *ShareableResource) Consumption(vm string) int {
	if v, ok := r.consumption[vm]; ok {
		return v
	}
	return r.defaultConsumption
}

// SetFutureConsumption sets the consumption vm will have once reconfigured.
func (r *ShareableResource) SetFutureConsumption(vm string, v int) *ShareableResource {
	r.future[vm] = v
	return r
}

// FutureConsumption returns the consumption of vm once reconfigured, the current one
// when no change is planned.
func (r *ShareableResource) FutureConsumption(vm string) int {
	if v, ok := r.future[vm]; ok {
		return v
	}
	return r.Consumption(vm)
}

// Clone returns an independent copy.
func (r *ShareableResource) Clone() *ShareableResource {
	c := NewShareableResource(r.name, r.defaultCapacity, r.defaultConsumption)
	for k, v := range r.capacity {
		c.capacity[k] = v
	}
	for k, v := range r.consumption {
		c.consumption[k] = v
	}
	for k, v := range r.future {
		c.future[k] = v
	}
	return c
}

// CPUResource builds the cpu dimension from the node threads and the VM vCPUs.
func CPUResource(m *Model) *ShareableResource {
	r := NewShareableResource(ResourceCPU, 0, 0)
	for _, n := range m.Nodes() {
		r.SetCapacity(n.ID, int(n.Spec.CPU.TotalThreads()))
	}
	for _, vm := range m.VMs() {
		r.SetConsumption(vm.ID, int(vm.Spec.CPU.TotalCores()))
	}
	return r
}

// MemoryResource builds the memory dimension, in MiB, from the node and VM specs.
func MemoryResource(m *Model) *ShareableResource {
	r := NewShareableResource(ResourceMemory, 0, 0)
	for _, n := range m.Nodes() {
		r.SetCapacity(n.ID, int(n.Spec.Memory.Allocatable()))
	}
	for _, vm := range m.VMs() {
		r.SetConsumption(vm.ID, int(vm.Spec.Memory.SizeMiB))
	}
	return r
}
