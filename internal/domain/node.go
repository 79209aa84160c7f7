package domain

import (
	"time"
)

// NodeState represents the power state of a node.
type NodeState string

const (
	NodeStateOnline  NodeState = "ONLINE"
	NodeStateOffline NodeState = "OFFLINE"
)

// Node represents a physical hypervisor host.
type Node struct {
	ID           string            `json:"id" yaml:"id"`
	Hostname     string            `json:"hostname" yaml:"hostname"`
	ManagementIP string            `json:"management_ip,omitempty" yaml:"managementIP,omitempty"`
	Labels       map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Attributes   Attributes        `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	Spec   NodeSpec   `json:"spec" yaml:"spec"`
	Status NodeStatus `json:"status" yaml:"status"`

	CreatedAt     time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"-"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty" yaml:"-"`
}

// NodeSpec represents the hardware capabilities of a node.
type NodeSpec struct {
	CPU    NodeCPUInfo    `json:"cpu" yaml:"cpu"`
	Memory NodeMemoryInfo `json:"memory" yaml:"memory"`
}

// NodeCPUInfo represents CPU information for a node.
type NodeCPUInfo struct {
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	Sockets        int32  `json:"sockets" yaml:"sockets"`
	CoresPerSocket int32  `json:"cores_per_socket" yaml:"coresPerSocket"`
	ThreadsPerCore int32  `json:"threads_per_core" yaml:"threadsPerCore"`
}

// TotalCores returns the total number of CPU cores.
func (c NodeCPUInfo) TotalCores() int32 {
	return c.Sockets * c.CoresPerSocket
}

// TotalThreads returns the total number of CPU threads.
func (c NodeCPUInfo) TotalThreads() int32 {
	threads := c.ThreadsPerCore
	if threads == 0 {
		threads = 1
	}
	return c.Sockets * c.CoresPerSocket * threads
}

// NodeMemoryInfo represents memory information for a node.
type NodeMemoryInfo struct {
	TotalMiB       int64 `json:"total_mib" yaml:"totalMiB"`
	AllocatableMiB int64 `json:"allocatable_mib,omitempty" yaml:"allocatableMiB,omitempty"`
}

// Allocatable returns the memory VMs may use, the total when unset.
func (m NodeMemoryInfo) Allocatable() int64 {
	if m.AllocatableMiB > 0 {
		return m.AllocatableMiB
	}
	return m.TotalMiB
}

// NodeStatus represents the current status of a node.
type NodeStatus struct {
	State NodeState `json:"state" yaml:"state"`
	VMIDs []string  `json:"vm_ids,omitempty" yaml:"-"`
}

// IsOnline returns true if the node can host VMs.
func (n *Node) IsOnline() bool {
	return n.Status.State == NodeStateOnline
}

// VMCount returns the number of VMs reported on this node.
func (n *Node) VMCount() int {
	return len(n.Status.VMIDs)
}

// Clone creates a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Labels != nil {
		c.Labels = make(map[string]string, len(n.Labels))
		for k, v := range n.Labels {
			c.Labels[k] = v
		}
	}
	c.Attributes = n.Attributes.Clone()
	c.Status.VMIDs = append([]string(nil), n.Status.VMIDs...)
	if n.LastHeartbeat != nil {
		t := *n.LastHeartbeat
		c.LastHeartbeat = &t
	}
	return &c
}
