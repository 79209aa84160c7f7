package plan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/planner/internal/domain"
)

func testModel(t *testing.T) *domain.Model {
	t.Helper()
	m := domain.NewModel()
	require.NoError(t, m.AddNode(&domain.Node{ID: "n1", Status: domain.NodeStatus{State: domain.NodeStateOnline}}))
	require.NoError(t, m.AddNode(&domain.Node{ID: "n2", Status: domain.NodeStatus{State: domain.NodeStateOnline}}))
	require.NoError(t, m.AddNode(&domain.Node{ID: "n3", Status: domain.NodeStatus{State: domain.NodeStateOffline}}))
	for _, vm := range []*domain.VirtualMachine{
		{ID: "vm1", Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n1"}},
		{ID: "vm2", Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n2"}},
		{ID: "vm3", Status: domain.VMStatus{State: domain.VMStateReady}},
		{ID: "vm4", Status: domain.VMStatus{State: domain.VMStateSleeping, NodeID: "n2"}},
		{ID: "vm5", Status: domain.VMStatus{State: domain.VMStateInit}},
		{ID: "vm6", Attributes: domain.Attributes{domain.AttrTemplate: "debian", domain.AttrClone: "true"},
			Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n2"}},
	} {
		require.NoError(t, m.AddVM(vm))
	}
	return m
}

func TestPlanApply(t *testing.T) {
	m := testModel(t)
	p := New(m, []Action{
		NewShutdownNode("n1", 5, 8),
		NewMigrateVM("vm1", "n1", "n3", 3, 5),
		NewBootNode("n3", 0, 3),
		NewBootVM("vm3", "n2", 0, 2),
		NewResumeVM("vm4", "n2", "n2", 0, 1),
		NewForgeVM("vm5", "debian", 0, 4),
		NewKillVM("vm2", "n2", 1, 2),
		NewForgeVM("vm6-clone", "debian", 0, 4),
		NewBootVM("vm6-clone", "n3", 4, 6),
		NewShutdownVM("vm6", "n2", 6, 7),
	}, map[string]string{"vm6": "vm6-clone"}, 30)

	assert.Equal(t, 10, p.Size())
	assert.Equal(t, 8, p.Duration())
	assert.Equal(t, 30, p.Objective())
	assert.Equal(t, KindBootNode, p.Actions()[0].Kind())

	res, err := p.Apply()
	require.NoError(t, err)
	mp := res.Mapping()
	assert.Equal(t, []string{"n2", "n3"}, mp.OnlineNodes())
	assert.Equal(t, []string{"vm1", "vm6-clone"}, mp.RunningVMs("n3"))
	assert.Equal(t, []string{"vm3", "vm4"}, mp.RunningVMs("n2"))
	st, _ := mp.VMState("vm5")
	assert.Equal(t, domain.VMStateReady, st)
	st, _ = mp.VMState("vm6")
	assert.Equal(t, domain.VMStateReady, st)
	st, _ = mp.VMState("vm2")
	assert.Equal(t, domain.VMStateKilled, st)

	// the origin is untouched
	assert.Equal(t, "n1", m.Mapping().Location("vm1"))
	assert.False(t, m.HasVM("vm6-clone"))
}

func TestPlanApplyRejectsInconsistentActions(t *testing.T) {
	tests := []struct {
		name   string
		action Action
	}{
		{"boot running vm", NewBootVM("vm1", "n2", 0, 1)},
		{"migrate from wrong node", NewMigrateVM("vm1", "n2", "n1", 0, 1)},
		{"shutdown busy node", NewShutdownNode("n1", 0, 1)},
		{"boot online node", NewBootNode("n1", 0, 1)},
		{"forge existing vm", NewForgeVM("vm3", "x", 0, 1)},
		{"resume running vm", NewResumeVM("vm1", "n1", "n1", 0, 1)},
		{"unknown vm", NewKillVM("ghost", "", 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(testModel(t), []Action{tt.action}, nil, 0)
			_, err := p.Apply()
			assert.Error(t, err)
		})
	}
}

func TestPlanJSON(t *testing.T) {
	p := New(testModel(t), []Action{NewMigrateVM("vm1", "n1", "n2", 0, 3)}, nil, 3)
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out struct {
		Duration int                 `json:"duration"`
		Actions  []domain.PlanAction `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 3, out.Duration)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, domain.PlanAction{Kind: "migrate", Subject: "vm1", Source: "n1", Destination: "n2", End: 3}, out.Actions[0])
	assert.Equal(t, "0:3 migrate(vm=vm1, from=n1, to=n2)\n", p.String())
}
