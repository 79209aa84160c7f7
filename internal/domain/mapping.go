package domain

import (
	"fmt"
)

// Mapping records the state of every node and the state and location of every VM.
// Iteration follows insertion order so that planning is deterministic.
type Mapping struct {
	nodeOrder []string
	nodeState map[string]NodeState

	vmOrder []string
	vmState map[string]VMState
	vmHost  map[string]string
}

// NewMapping creates an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		nodeState: make(map[string]NodeState),
		vmState:   make(map[string]VMState),
		vmHost:    make(map[string]string),
	}
}

func (m *Mapping) touchNode(id string) {
	if _, ok := m.nodeState[id]; !ok {
		m.nodeOrder = append(m.nodeOrder, id)
	}
}

func (m *Mapping) touchVM(id string) {
	if _, ok := m.vmState[id]; !ok {
		m.vmOrder = append(m.vmOrder, id)
	}
}

// AddOnlineNode declares node as online.
func (m *Mapping) AddOnlineNode(node string) {
	m.touchNode(node)
	m.nodeState[node] = NodeStateOnline
}

// AddOfflineNode declares node as offline. An offline node cannot host VMs.
func (m *Mapping) AddOfflineNode(node string) error {
	if vms := m.HostedVMs(node); len(vms) > 0 {
		return fmt.Errorf("node %s hosts %d VMs: %w", node, len(vms), ErrConflict)
	}
	m.touchNode(node)
	m.nodeState[node] = NodeStateOffline
	return nil
}

func (m *Mapping) place(vm, node string, state VMState) error {
	st, ok := m.nodeState[node]
	if !ok {
		return fmt.Errorf("node %s: %w", node, ErrUnknownNode)
	}
	if st != NodeStateOnline {
		return fmt.Errorf("node %s is offline: %w", node, ErrConflict)
	}
	m.touchVM(vm)
	m.vmState[vm] = state
	m.vmHost[vm] = node
	return nil
}

// AddRunningVM sets vm running on node.
func (m *Mapping) AddRunningVM(vm, node string) error {
	return m.place(vm, node, VMStateRunning)
}

// AddSleepingVM sets vm sleeping on node.
func (m *Mapping) AddSleepingVM(vm, node string) error {
	return m.place(vm, node, VMStateSleeping)
}

// AddReadyVM sets vm ready, outside any node.
func (m *Mapping) AddReadyVM(vm string) {
	m.setUnplaced(vm, VMStateReady)
}

// AddInitVM declares a VM that still has to be created.
func (m *Mapping) AddInitVM(vm string) {
	m.setUnplaced(vm, VMStateInit)
}

// Kill marks vm as terminated.
func (m *Mapping) Kill(vm string) {
	m.setUnplaced(vm, VMStateKilled)
}

func (m *Mapping) setUnplaced(vm string, state VMState) {
	m.touchVM(vm)
	m.vmState[vm] = state
	delete(m.vmHost, vm)
}

// Nodes returns every node.
func (m *Mapping) Nodes() []string {
	return append([]string(nil), m.nodeOrder...)
}

// OnlineNodes returns the online nodes.
func (m *Mapping) OnlineNodes() []string {
	return m.nodesIn(NodeStateOnline)
}

// OfflineNodes returns the offline nodes.
func (m *Mapping) OfflineNodes() []string {
	return m.nodesIn(NodeStateOffline)
}

func (m *Mapping) nodesIn(state NodeState) []string {
	var out []string
	for _, n := range m.nodeOrder {
		if m.nodeState[n] == state {
			out = append(out, n)
		}
	}
	return out
}

// NodeState returns the state of node.
func (m *Mapping) NodeState(node string) (NodeState, bool) {
	st, ok := m.nodeState[node]
	return st, ok
}

// IsOnline reports whether node is online.
func (m *Mapping) IsOnline(node string) bool {
	return m.nodeState[node] == NodeStateOnline
}

// VMs returns every VM.
func (m *Mapping) VMs() []string {
	return append([]string(nil), m.vmOrder...)
}

// VMState returns the state of vm.
func (m *Mapping) VMState(vm string) (VMState, bool) {
	st, ok := m.vmState[vm]
	return st, ok
}

// Location returns the node hosting vm, empty when it is not placed.
func (m *Mapping) Location(vm string) string {
	return m.vmHost[vm]
}

// VMsInState returns the VMs in the given state.
func (m *Mapping) VMsInState(state VMState) []string {
	var out []string
	for _, vm := range m.vmOrder {
		if m.vmState[vm] == state {
			out = append(out, vm)
		}
	}
	return out
}

// RunningVMs returns the VMs running on node.
func (m *Mapping) RunningVMs(node string) []string {
	return m.onNode(node, VMStateRunning)
}

// SleepingVMs returns the VMs sleeping on node.
func (m *Mapping) SleepingVMs(node string) []string {
	return m.onNode(node, VMStateSleeping)
}

// HostedVMs returns the running and sleeping VMs of node.
func (m *Mapping) HostedVMs(node string) []string {
	var out []string
	for _, vm := range m.vmOrder {
		if m.vmHost[vm] == node {
			out = append(out, vm)
		}
	}
	return out
}

func (m *Mapping) onNode(node string, state VMState) []string {
	var out []string
	for _, vm := range m.vmOrder {
		if m.vmState[vm] == state && m.vmHost[vm] == node {
			out = append(out, vm)
		}
	}
	return out
}

// Clone returns an independent copy.
func (m *Mapping) Clone() *Mapping {
	c := NewMapping()
	c.nodeOrder = append(c.nodeOrder, m.nodeOrder...)
	for k, v := range m.nodeState {
		c.nodeState[k] = v
	}
	c.vmOrder = append(c.vmOrder, m.vmOrder...)
	for k, v := range m.vmState {
		c.vmState[k] = v
	}
	for k, v := range m.vmHost {
		c.vmHost[k] = v
	}
	return c
}

// Equal reports whether both mappings hold the same states and locations.
func (m *Mapping) Equal(o *Mapping) bool {
	if len(m.nodeState) != len(o.nodeState) || len(m.vmState) != len(o.vmState) || len(m.vmHost) != len(o.vmHost) {
		return false
	}
	for k, v := range m.nodeState {
		if o.nodeState[k] != v {
			return false
		}
	}
	for k, v := range m.vmState {
		if o.vmState[k] != v {
			return false
		}
	}
	for k, v := range m.vmHost {
		if o.vmHost[k] != v {
			return false
		}
	}
	return true
}
