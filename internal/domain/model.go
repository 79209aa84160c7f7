package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Model is the state of the datacenter a plan is computed from: the VM and node
// entities, the mapping between them and the resource dimensions.
//
// Once an entity is added, the mapping is authoritative for its state and location.
// SetVMState and SetNodeState keep the entity status in sync.
type Model struct {
	mapping   *Mapping
	vms       map[string]*VirtualMachine
	nodes     map[string]*Node
	resources []*ShareableResource
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		mapping: NewMapping(),
		vms:     make(map[string]*VirtualMachine),
		nodes:   make(map[string]*Node),
	}
}

// AddNode registers a node in its current state.
func (m *Model) AddNode(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("node without ID: %w", ErrInvalidArgument)
	}
	if _, ok := m.nodes[n.ID]; ok {
		return fmt.Errorf("node %s: %w", n.ID, ErrAlreadyExists)
	}
	switch n.Status.State {
	case NodeStateOnline, "":
		n.Status.State = NodeStateOnline
		m.mapping.AddOnlineNode(n.ID)
	case NodeStateOffline:
		if err := m.mapping.AddOfflineNode(n.ID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("node %s: unknown state %q: %w", n.ID, n.Status.State, ErrInvalidArgument)
	}
	m.nodes[n.ID] = n
	return nil
}

// AddVM registers a VM in its current state. Running and sleeping VMs must reference an
// online node that is already registered.
func (m *Model) AddVM(vm *VirtualMachine) error {
	if vm.ID == "" {
		return fmt.Errorf("vm without ID: %w", ErrInvalidArgument)
	}
	if _, ok := m.vms[vm.ID]; ok {
		return fmt.Errorf("vm %s: %w", vm.ID, ErrAlreadyExists)
	}
	if vm.Status.State == "" {
		vm.Status.State = VMStateReady
	}
	if err := m.place(vm.ID, vm.Status.State, vm.Status.NodeID); err != nil {
		return err
	}
	m.vms[vm.ID] = vm
	return nil
}

func (m *Model) place(id string, state VMState, node string) error {
	switch state {
	case VMStateRunning:
		return m.mapping.AddRunningVM(id, node)
	case VMStateSleeping:
		return m.mapping.AddSleepingVM(id, node)
	case VMStateReady:
		m.mapping.AddReadyVM(id)
	case VMStateInit:
		m.mapping.AddInitVM(id)
	case VMStateKilled:
		m.mapping.Kill(id)
	default:
		return fmt.Errorf("vm %s: unknown state %q: %w", id, state, ErrInvalidArgument)
	}
	return nil
}

// SetVMState moves a registered VM to state, on node when the state requires one.
func (m *Model) SetVMState(id string, state VMState, node string) error {
	vm, err := m.VM(id)
	if err != nil {
		return err
	}
	if err := m.place(id, state, node); err != nil {
		return err
	}
	vm.Status.State = state
	vm.Status.NodeID = m.mapping.Location(id)
	return nil
}

// SetNodeState changes the power state of a registered node.
func (m *Model) SetNodeState(id string, state NodeState) error {
	n, err := m.Node(id)
	if err != nil {
		return err
	}
	switch state {
	case NodeStateOnline:
		m.mapping.AddOnlineNode(id)
	case NodeStateOffline:
		if err := m.mapping.AddOfflineNode(id); err != nil {
			return err
		}
	default:
		return fmt.Errorf("node %s: unknown state %q: %w", id, state, ErrInvalidArgument)
	}
	n.Status.State = state
	return nil
}

// VM returns a registered VM.
func (m *Model) VM(id string) (*VirtualMachine, error) {
	vm, ok := m.vms[id]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", id, ErrUnknownVM)
	}
	return vm, nil
}

// Node returns a registered node.
func (m *Model) Node(id string) (*Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrUnknownNode)
	}
	return n, nil
}

// HasVM reports whether id is a registered VM.
func (m *Model) HasVM(id string) bool {
	_, ok := m.vms[id]
	return ok
}

// HasNode reports whether id is a registered node.
func (m *Model) HasNode(id string) bool {
	_, ok := m.nodes[id]
	return ok
}

// VMs returns the VMs in registration order.
func (m *Model) VMs() []*VirtualMachine {
	ids := m.mapping.VMs()
	out := make([]*VirtualMachine, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.vms[id])
	}
	return out
}

// Nodes returns the nodes in registration order.
func (m *Model) Nodes() []*Node {
	ids := m.mapping.Nodes()
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.nodes[id])
	}
	return out
}

// Mapping returns the live mapping. Use SetVMState and SetNodeState to change it.
func (m *Model) Mapping() *Mapping {
	return m.mapping
}

// AddResource registers a resource dimension, replacing one with the same name.
func (m *Model) AddResource(r *ShareableResource) {
	for i, existing := range m.resources {
		if existing.Name() == r.Name() {
			m.resources[i] = r
			return
		}
	}
	m.resources = append(m.resources, r)
}

// AddDefaultResources registers the cpu and memory dimensions derived from the specs.
func (m *Model) AddDefaultResources() {
	m.AddResource(CPUResource(m))
	m.AddResource(MemoryResource(m))
}

// Resources returns the resource dimensions in registration order.
func (m *Model) Resources() []*ShareableResource {
	return append([]*ShareableResource(nil), m.resources...)
}

// Resource returns a dimension by name.
func (m *Model) Resource(name string) (*ShareableResource, bool) {
	for _, r := range m.resources {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// NewVMID returns an identifier unused by the model.
func (m *Model) NewVMID() string {
	for {
		id := uuid.New().String()
		if _, ok := m.vms[id]; !ok {
			return id
		}
	}
}

// AddClone registers a copy of the VM src under id, in the INIT state. The clone inherits
// the attributes and resource consumptions of src.
func (m *Model) AddClone(src, id string) (*VirtualMachine, error) {
	orig, err := m.VM(src)
	if err != nil {
		return nil, err
	}
	c := orig.Clone()
	c.ID = id
	c.Name = orig.Name + "-" + id[:min(8, len(id))]
	c.Status = VMStatus{State: VMStateInit}
	if err := m.AddVM(c); err != nil {
		return nil, err
	}
	for _, r := range m.resources {
		r.SetConsumption(id, r.Consumption(src))
		r.SetFutureConsumption(id, r.FutureConsumption(src))
	}
	return c, nil
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	c := &Model{
		mapping: m.mapping.Clone(),
		vms:     make(map[string]*VirtualMachine, len(m.vms)),
		nodes:   make(map[string]*Node, len(m.nodes)),
	}
	for id, vm := range m.vms {
		c.vms[id] = vm.Clone()
	}
	for id, n := range m.nodes {
		c.nodes[id] = n.Clone()
	}
	for _, r := range m.resources {
		c.resources = append(c.resources, r.Clone())
	}
	return c
}
