package domain

import (
	"time"
)

// VMState represents the lifecycle state of a virtual machine.
type VMState string

const (
	// VMStateInit is a VM that is declared but not created on any node yet.
	VMStateInit VMState = "INIT"
	// VMStateReady is a VM that exists but is neither running nor sleeping.
	VMStateReady VMState = "READY"
	// VMStateRunning is a VM running on a node.
	VMStateRunning VMState = "RUNNING"
	// VMStateSleeping is a suspended VM whose image stays on a node.
	VMStateSleeping VMState = "SLEEPING"
	// VMStateKilled is a terminated VM.
	VMStateKilled VMState = "KILLED"
)

// Valid reports whether s is a known state.
func (s VMState) Valid() bool {
	switch s {
	case VMStateInit, VMStateReady, VMStateRunning, VMStateSleeping, VMStateKilled:
		return true
	}
	return false
}

// Well-known VM attributes.
const (
	// AttrTemplate names the image a VM can be forged from.
	AttrTemplate = "template"
	// AttrClone allows a VM to be relocated by re-instantiation.
	AttrClone = "clone"
)

// VirtualMachine represents a virtual machine in the system.
type VirtualMachine struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Attributes  Attributes        `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	Spec   VMSpec   `json:"spec" yaml:"spec"`
	Status VMStatus `json:"status" yaml:"status"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// VMSpec represents the desired configuration of a virtual machine.
type VMSpec struct {
	CPU    CPUConfig    `json:"cpu" yaml:"cpu"`
	Memory MemoryConfig `json:"memory" yaml:"memory"`

	// DesiredState is the state the planner should bring the VM to. Empty keeps the
	// current state.
	DesiredState VMState `json:"desired_state,omitempty" yaml:"desiredState,omitempty"`

	Placement *PlacementPolicy `json:"placement,omitempty" yaml:"placement,omitempty"`
}

// CPUConfig represents CPU configuration for a VM.
type CPUConfig struct {
	Cores   int32 `json:"cores" yaml:"cores"`
	Sockets int32 `json:"sockets,omitempty" yaml:"sockets,omitempty"`
	Threads int32 `json:"threads,omitempty" yaml:"threads,omitempty"`
}

// TotalCores returns the total number of vCPUs.
func (c CPUConfig) TotalCores() int32 {
	sockets := c.Sockets
	if sockets == 0 {
		sockets = 1
	}
	threads := c.Threads
	if threads == 0 {
		threads = 1
	}
	return c.Cores * sockets * threads
}

// MemoryConfig represents memory configuration for a VM.
type MemoryConfig struct {
	SizeMiB int64 `json:"size_mib" yaml:"sizeMiB"`
}

// PlacementPolicy represents VM placement preferences.
type PlacementPolicy struct {
	NodeID         string   `json:"node_id,omitempty" yaml:"nodeID,omitempty"`
	AllowedNodeIDs []string `json:"allowed_node_ids,omitempty" yaml:"allowedNodeIDs,omitempty"`
	BannedNodeIDs  []string `json:"banned_node_ids,omitempty" yaml:"bannedNodeIDs,omitempty"`
	AntiAffinity   string   `json:"anti_affinity,omitempty" yaml:"antiAffinity,omitempty"`
}

// VMStatus represents the current runtime status of a virtual machine.
type VMStatus struct {
	State  VMState `json:"state" yaml:"state"`
	NodeID string  `json:"node_id,omitempty" yaml:"nodeID,omitempty"`
}

// IsRunning returns true if the VM is in a running state.
func (vm *VirtualMachine) IsRunning() bool {
	return vm.Status.State == VMStateRunning
}

// IsSleeping returns true if the VM is suspended.
func (vm *VirtualMachine) IsSleeping() bool {
	return vm.Status.State == VMStateSleeping
}

// Clone creates a deep copy of the VM.
func (vm *VirtualMachine) Clone() *VirtualMachine {
	if vm == nil {
		return nil
	}
	c := *vm
	if vm.Labels != nil {
		c.Labels = make(map[string]string, len(vm.Labels))
		for k, v := range vm.Labels {
			c.Labels[k] = v
		}
	}
	c.Attributes = vm.Attributes.Clone()
	if vm.Spec.Placement != nil {
		p := *vm.Spec.Placement
		p.AllowedNodeIDs = append([]string(nil), vm.Spec.Placement.AllowedNodeIDs...)
		p.BannedNodeIDs = append([]string(nil), vm.Spec.Placement.BannedNodeIDs...)
		c.Spec.Placement = &p
	}
	return &c
}
