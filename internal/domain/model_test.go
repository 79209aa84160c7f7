package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(id string, state NodeState, threads int32) *Node {
	return &Node{
		ID:       id,
		Hostname: id,
		Spec: NodeSpec{
			CPU:    NodeCPUInfo{Sockets: 1, CoresPerSocket: threads, ThreadsPerCore: 1},
			Memory: NodeMemoryInfo{TotalMiB: 8192, AllocatableMiB: 7168},
		},
		Status: NodeStatus{State: state},
	}
}

func newTestVM(id string, state VMState, node string, cores int32) *VirtualMachine {
	return &VirtualMachine{
		ID:     id,
		Name:   id,
		Spec:   VMSpec{CPU: CPUConfig{Cores: cores}, Memory: MemoryConfig{SizeMiB: 1024}},
		Status: VMStatus{State: state, NodeID: node},
	}
}

func TestModelRegistersEntities(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.AddNode(newTestNode("n1", NodeStateOnline, 4)))
	require.NoError(t, m.AddNode(newTestNode("n2", NodeStateOffline, 8)))
	require.NoError(t, m.AddVM(newTestVM("vm1", VMStateRunning, "n1", 2)))
	require.NoError(t, m.AddVM(newTestVM("vm2", VMStateSleeping, "n1", 1)))
	require.NoError(t, m.AddVM(newTestVM("vm3", VMStateReady, "", 1)))

	mp := m.Mapping()
	assert.Equal(t, []string{"n1"}, mp.OnlineNodes())
	assert.Equal(t, []string{"n2"}, mp.OfflineNodes())
	assert.Equal(t, []string{"vm1"}, mp.RunningVMs("n1"))
	assert.Equal(t, []string{"vm2"}, mp.SleepingVMs("n1"))
	assert.Equal(t, []string{"vm1", "vm2"}, mp.HostedVMs("n1"))
	assert.Equal(t, []string{"vm3"}, mp.VMsInState(VMStateReady))
	assert.Equal(t, "", mp.Location("vm3"))

	tests := []struct {
		name string
		vm   *VirtualMachine
		want error
	}{
		{"duplicate", newTestVM("vm1", VMStateReady, "", 1), ErrAlreadyExists},
		{"unknown node", newTestVM("vm4", VMStateRunning, "n9", 1), ErrUnknownNode},
		{"offline node", newTestVM("vm5", VMStateRunning, "n2", 1), ErrConflict},
		{"bad state", newTestVM("vm6", "PAUSED", "", 1), ErrInvalidArgument},
		{"no id", newTestVM("", VMStateReady, "", 1), ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.AddVM(tt.vm)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestModelStateChanges(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.AddNode(newTestNode("n1", NodeStateOnline, 4)))
	require.NoError(t, m.AddNode(newTestNode("n2", NodeStateOnline, 4)))
	require.NoError(t, m.AddVM(newTestVM("vm1", VMStateRunning, "n1", 2)))

	assert.ErrorIs(t, m.SetNodeState("n1", NodeStateOffline), ErrConflict)

	require.NoError(t, m.SetVMState("vm1", VMStateRunning, "n2"))
	vm, err := m.VM("vm1")
	require.NoError(t, err)
	assert.Equal(t, "n2", vm.Status.NodeID)

	require.NoError(t, m.SetNodeState("n1", NodeStateOffline))
	st, ok := m.Mapping().NodeState("n1")
	assert.True(t, ok)
	assert.Equal(t, NodeStateOffline, st)

	require.NoError(t, m.SetVMState("vm1", VMStateKilled, ""))
	assert.Empty(t, m.Mapping().HostedVMs("n2"))
	_, err = m.VM("ghost")
	assert.ErrorIs(t, err, ErrUnknownVM)
}

func TestModelCloneIsIndependent(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.AddNode(newTestNode("n1", NodeStateOnline, 4)))
	require.NoError(t, m.AddNode(newTestNode("n2", NodeStateOnline, 4)))
	require.NoError(t, m.AddVM(newTestVM("vm1", VMStateRunning, "n1", 2)))
	m.AddDefaultResources()

	c := m.Clone()
	require.True(t, c.Mapping().Equal(m.Mapping()))

	require.NoError(t, c.SetVMState("vm1", VMStateRunning, "n2"))
	cpu, _ := c.Resource(ResourceCPU)
	cpu.SetConsumption("vm1", 3)

	assert.Equal(t, "n1", m.Mapping().Location("vm1"))
	assert.False(t, c.Mapping().Equal(m.Mapping()))
	orig, _ := m.Resource(ResourceCPU)
	assert.Equal(t, 2, orig.Consumption("vm1"))
}

func TestModelAddClone(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.AddNode(newTestNode("n1", NodeStateOnline, 4)))
	vm := newTestVM("vm1", VMStateRunning, "n1", 2)
	vm.Attributes = Attributes{AttrTemplate: "debian", AttrClone: "true"}
	require.NoError(t, m.AddVM(vm))
	m.AddDefaultResources()

	id := m.NewVMID()
	c, err := m.AddClone("vm1", id)
	require.NoError(t, err)
	assert.Equal(t, "debian", c.Attributes[AttrTemplate])
	st, _ := m.Mapping().VMState(id)
	assert.Equal(t, VMStateInit, st)
	cpu, _ := m.Resource(ResourceCPU)
	assert.Equal(t, 2, cpu.Consumption(id))
}

func TestResources(t *testing.T) {
	m := NewModel()
	require.NoError(t, m.AddNode(newTestNode("n1", NodeStateOnline, 4)))
	require.NoError(t, m.AddVM(newTestVM("vm1", VMStateRunning, "n1", 2)))
	m.AddDefaultResources()

	cpu, ok := m.Resource(ResourceCPU)
	require.True(t, ok)
	assert.Equal(t, 4, cpu.Capacity("n1"))
	assert.Equal(t, 2, cpu.Consumption("vm1"))
	assert.Equal(t, 2, cpu.FutureConsumption("vm1"))
	cpu.SetFutureConsumption("vm1", 3)
	assert.Equal(t, 3, cpu.FutureConsumption("vm1"))

	mem, ok := m.Resource(ResourceMemory)
	require.True(t, ok)
	assert.Equal(t, 7168, mem.Capacity("n1"))

	r := NewShareableResource("gpu", 1, 0)
	assert.Equal(t, 1, r.Capacity("anything"))
	assert.Equal(t, 0, r.Consumption("anything"))
}

func TestPlanRecordTransitions(t *testing.T) {
	now := time.Now()
	r := &PlanRecord{ID: "p1", Status: PlanStatusPending}

	assert.ErrorIs(t, r.Transition(PlanStatusApplied, "ops", now), ErrConflict)
	require.NoError(t, r.Transition(PlanStatusApproved, "", now))
	require.NotNil(t, r.ApprovedAt)
	require.NoError(t, r.Transition(PlanStatusApplied, "ops", now))
	assert.Equal(t, "ops", r.AppliedBy)
	assert.ErrorIs(t, r.Transition(PlanStatusRejected, "", now), ErrConflict)
}

func TestAttributes(t *testing.T) {
	a := Attributes{"duration.migrate": "7", "clone": "true", "bad": "x"}
	v, ok := a.Int("duration.migrate")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	_, ok = a.Int("bad")
	assert.False(t, ok)
	assert.True(t, a.Bool("clone"))
	assert.False(t, a.Bool("missing"))
}
