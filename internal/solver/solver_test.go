package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/placement"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/reconfig"
)

type cluster struct {
	t   *testing.T
	m   *domain.Model
	cpu *domain.ShareableResource
}

func newCluster(t *testing.T) *cluster {
	m := domain.NewModel()
	cpu := domain.NewShareableResource(domain.ResourceCPU, 0, 0)
	m.AddResource(cpu)
	return &cluster{t: t, m: m, cpu: cpu}
}

func (c *cluster) node(id string, state domain.NodeState, capacity int) *cluster {
	require.NoError(c.t, c.m.AddNode(&domain.Node{ID: id, Status: domain.NodeStatus{State: state}}))
	c.cpu.SetCapacity(id, capacity)
	return c
}

func (c *cluster) vm(id string, state domain.VMState, node string, usage int) *cluster {
	require.NoError(c.t, c.m.AddVM(&domain.VirtualMachine{ID: id, Status: domain.VMStatus{State: state, NodeID: node}}))
	c.cpu.SetConsumption(id, usage)
	return c
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeLimit = 10 * time.Second
	return cfg
}

func mustBuild(t *testing.T, spec placement.Spec) placement.Constraint {
	c, err := placement.Build(spec)
	require.NoError(t, err)
	return c
}

// checkTimeline verifies every action of the plan of res: its timing, the hosting window
// of the nodes it uses and, at every instant, the usage of every node in every dimension.
// Departing VMs use their current consumption until their action ends, arriving VMs use
// their future consumption from the start of their action.
func checkTimeline(t *testing.T, inst *Instance, res *Result) {
	t.Helper()
	require.NotNil(t, res.Plan)
	m := inst.Model
	mapping := m.Mapping()
	durations := inst.Durations
	if durations == nil {
		durations = reconfig.NewDurationEvaluators()
	}

	departures := make(map[string]domain.PlanAction)
	var arrivals []domain.PlanAction
	boots := make(map[string]int)
	shutdowns := make(map[string]int)
	instants := []int{0}
	for _, a := range res.Plan.Actions() {
		rec := a.Record()
		assert.GreaterOrEqual(t, rec.Start, 0, "%s", a)
		assert.LessOrEqual(t, rec.Start, rec.End, "%s", a)
		assert.LessOrEqual(t, rec.End, res.Horizon, "%s", a)
		d, err := durations.Evaluate(m, a.Kind(), a.Subject())
		require.NoError(t, err)
		assert.Equal(t, rec.Start+d, rec.End, "duration of %s", a)
		instants = append(instants, rec.Start, rec.End)

		switch a.Kind() {
		case plan.KindMigrateVM, plan.KindBootVM, plan.KindResumeVM:
			arrivals = append(arrivals, rec)
		}
		switch a.Kind() {
		case plan.KindMigrateVM, plan.KindShutdownVM, plan.KindSuspendVM, plan.KindKillVM:
			departures[rec.Subject] = rec
		case plan.KindBootNode:
			boots[rec.Subject] = rec.End
		case plan.KindShutdownNode:
			shutdowns[rec.Subject] = rec.Start
		}
	}

	for _, rec := range arrivals {
		if end, ok := boots[rec.Destination]; ok {
			assert.GreaterOrEqual(t, rec.Start, end, "%s %s arrives on a booting node", rec.Kind, rec.Subject)
		} else {
			assert.True(t, mapping.IsOnline(rec.Destination), "%s %s arrives on an offline node", rec.Kind, rec.Subject)
		}
	}
	for node, start := range shutdowns {
		for _, vm := range mapping.RunningVMs(node) {
			dep, ok := departures[vm]
			if assert.True(t, ok, "%s stays on %s, shut down", vm, node) {
				assert.LessOrEqual(t, dep.End, start, "%s leaves %s after its shutdown", vm, node)
			}
		}
	}

	for _, r := range m.Resources() {
		for _, node := range mapping.Nodes() {
			for _, at := range instants {
				used := 0
				for _, vm := range mapping.RunningVMs(node) {
					if dep, ok := departures[vm]; !ok || dep.End > at {
						used += r.Consumption(vm)
					}
				}
				for _, rec := range arrivals {
					if rec.Destination == node && rec.Start <= at {
						used += r.FutureConsumption(rec.Subject)
					}
				}
				assert.LessOrEqual(t, used, r.Capacity(node), "%s of %s at %d", r.Name(), node, at)
			}
		}
	}
}

func TestSolveNothingToDo(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2)

	inst := &Instance{Model: c.m}
	res, err := New(testConfig(), zap.NewNop()).Solve(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, cp.OutcomeOptimal, res.Outcome)
	checkTimeline(t, inst, res)
	assert.Equal(t, 0, res.Plan.Size())
	assert.Equal(t, 0, res.Plan.Objective())
	assert.Empty(t, res.Manageable)
}

func TestSolveBootsAndStops(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2).
		vm("vm2", domain.VMStateReady, "", 2).
		vm("vm3", domain.VMStateSleeping, "n1", 1)

	inst := &Instance{
		Model:   c.m,
		Running: []string{"vm2"},
		Ready:   []string{"vm1"},
	}
	res, err := New(testConfig(), nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, cp.OutcomeOptimal, res.Outcome)
	checkTimeline(t, inst, res)
	assert.Equal(t, []string{"vm1", "vm2"}, res.Manageable)

	out, err := res.Plan.Apply()
	require.NoError(t, err)
	assert.Equal(t, []string{"vm2"}, out.Mapping().RunningVMs("n1"))
	st, _ := out.Mapping().VMState("vm3")
	assert.Equal(t, domain.VMStateSleeping, st, "vm3 keeps its state")
}

func TestSolveRepairOnlyMovesMisplacedVMs(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 8).
		node("n2", domain.NodeStateOnline, 8).
		vm("vm1", domain.VMStateRunning, "n1", 1).
		vm("vm2", domain.VMStateRunning, "n1", 1).
		vm("vm3", domain.VMStateRunning, "n1", 1)
	spread := mustBuild(t, placement.Spec{Kind: "spread", VMs: []string{"vm1", "vm2"}})

	inst := &Instance{
		Model:       c.m,
		Constraints: []placement.Constraint{spread},
	}
	res, err := New(testConfig(), nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, cp.OutcomeOptimal, res.Outcome)
	checkTimeline(t, inst, res)
	assert.Equal(t, []string{"vm1", "vm2"}, res.Manageable)
	require.Equal(t, 1, res.Plan.Size())
	assert.Equal(t, plan.KindMigrateVM, res.Plan.Actions()[0].Kind())
	assert.NotEqual(t, "vm3", res.Plan.Actions()[0].Subject())

	out, err := res.Plan.Apply()
	require.NoError(t, err)
	assert.True(t, spread.IsSatisfied(out))
}

func TestSolveEvacuatesOfflineNode(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		node("n3", domain.NodeStateOffline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2).
		vm("vm2", domain.VMStateRunning, "n1", 2).
		vm("vm3", domain.VMStateRunning, "n2", 3)
	off := mustBuild(t, placement.Spec{Kind: "offline", Nodes: []string{"n1"}})
	durations := reconfig.NewDurationEvaluators().
		Register(plan.KindMigrateVM, reconfig.ConstantDuration(2)).
		Register(plan.KindBootNode, reconfig.ConstantDuration(3))

	inst := &Instance{
		Model:       c.m,
		Constraints: []placement.Constraint{off},
		Durations:   durations,
	}
	res, err := New(testConfig(), nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, cp.OutcomeOptimal, res.Outcome)
	checkTimeline(t, inst, res)

	out, err := res.Plan.Apply()
	require.NoError(t, err)
	assert.True(t, off.IsSatisfied(out))
	assert.True(t, out.Mapping().IsOnline("n3"), "n2 cannot take both VMs")
	assert.Len(t, out.Mapping().RunningVMs("n3"), 2)

	var shutdown, lastMove int
	for _, a := range res.Plan.Actions() {
		switch a.Kind() {
		case plan.KindShutdownNode:
			shutdown = a.Start()
		case plan.KindMigrateVM:
			lastMove = max(lastMove, a.End())
		}
	}
	assert.GreaterOrEqual(t, shutdown, lastMove)
}

func TestSolveWithoutOptimization(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 1)
	cfg := testConfig()
	cfg.Optimize = false
	ban := mustBuild(t, placement.Spec{Kind: "ban", VMs: []string{"vm1"}, Nodes: []string{"n1"}})

	inst := &Instance{
		Model:       c.m,
		Constraints: []placement.Constraint{ban},
	}
	res, err := New(cfg, nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, cp.OutcomeImprovable, res.Outcome)
	assert.False(t, res.Statistics.LimitHit)
	checkTimeline(t, inst, res)
	assert.Equal(t, 1, res.Plan.Size())
}

func TestSolveInfeasible(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 1).
		vm("vm2", domain.VMStateRunning, "n2", 4)

	tests := []struct {
		name        string
		constraints []placement.Spec
	}{
		{"empty domain", []placement.Spec{
			{Kind: "fence", VMs: []string{"vm1"}, Nodes: []string{"n2"}},
			{Kind: "ban", VMs: []string{"vm1"}, Nodes: []string{"n2"}},
		}},
		{"no room", []placement.Spec{
			{Kind: "gather", VMs: []string{"vm1", "vm2"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := placement.BuildAll(tt.constraints)
			require.NoError(t, err)
			res, err := New(testConfig(), nil).Solve(context.Background(), &Instance{Model: c.m, Constraints: cs})
			require.NoError(t, err)
			assert.Equal(t, cp.OutcomeInfeasible, res.Outcome)
			assert.Nil(t, res.Plan)
		})
	}
}

func TestSolveRejectsMalformedInstances(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 1)

	_, err := New(testConfig(), nil).Solve(context.Background(), &Instance{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = New(testConfig(), nil).Solve(context.Background(), &Instance{Model: c.m, Running: []string{"ghost"}})
	assert.ErrorIs(t, err, domain.ErrUnknownVM)

	cfg := testConfig()
	cfg.PlacementStrategy = "first-fit"
	_, err = New(cfg, nil).Solve(context.Background(), &Instance{Model: c.m})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	ban := mustBuild(t, placement.Spec{Kind: "ban", VMs: []string{"ghost"}, Nodes: []string{"n1"}})
	_, err = New(testConfig(), nil).Solve(context.Background(), &Instance{Model: c.m, Constraints: []placement.Constraint{ban}})
	assert.ErrorIs(t, err, domain.ErrUnknownVM)
}

func TestSolveHonorsCancellation(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(testConfig(), nil).Solve(ctx, &Instance{Model: c.m})
	require.NoError(t, err)
	assert.Equal(t, cp.OutcomeUnknown, res.Outcome)
	assert.True(t, res.Statistics.LimitHit)
}

func TestSolveChainedMigrations(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		node("n3", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 3).
		vm("vm2", domain.VMStateRunning, "n2", 3)
	cs, err := placement.BuildAll([]placement.Spec{
		{Kind: "fence", VMs: []string{"vm1"}, Nodes: []string{"n2"}},
		{Kind: "fence", VMs: []string{"vm2"}, Nodes: []string{"n3"}},
	})
	require.NoError(t, err)
	durations := reconfig.NewDurationEvaluators().
		Register(plan.KindMigrateVM, reconfig.ConstantDuration(4))

	inst := &Instance{Model: c.m, Constraints: cs, Durations: durations}
	res, err := New(testConfig(), nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, cp.OutcomeOptimal, res.Outcome)
	checkTimeline(t, inst, res)

	moves := make(map[string]plan.Action)
	for _, a := range res.Plan.Actions() {
		moves[a.Subject()] = a
	}
	require.Len(t, moves, 2)
	assert.Equal(t, 0, moves["vm2"].Start())
	assert.Equal(t, moves["vm2"].End(), moves["vm1"].Start(), "vm1 waits for vm2 to leave n2")
	assert.Equal(t, 12, res.Plan.Objective())
}

func TestSolveMakesRoomForGrowingVM(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2).
		vm("vm2", domain.VMStateRunning, "n1", 2)
	c.cpu.SetFutureConsumption("vm1", 4)

	inst := &Instance{Model: c.m}
	res, err := New(testConfig(), nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, cp.OutcomeOptimal, res.Outcome)
	assert.Equal(t, []string{"vm1", "vm2"}, res.Manageable)
	checkTimeline(t, inst, res)

	require.Equal(t, 1, res.Plan.Size())
	move, ok := res.Plan.Actions()[0].(*plan.MigrateVM)
	require.True(t, ok)
	assert.Equal(t, "vm1", move.Subject())
	assert.Equal(t, "n2", move.Destination())
}

func TestSolveStayingVMWaitsForRoom(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2).
		vm("vm2", domain.VMStateRunning, "n1", 2)
	c.cpu.SetFutureConsumption("vm1", 3)
	cs, err := placement.BuildAll([]placement.Spec{
		{Kind: "fence", VMs: []string{"vm1"}, Nodes: []string{"n1"}},
		{Kind: "ban", VMs: []string{"vm2"}, Nodes: []string{"n1"}},
	})
	require.NoError(t, err)

	inst := &Instance{Model: c.m, Constraints: cs}
	res, err := New(testConfig(), nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, cp.OutcomeOptimal, res.Outcome)
	checkTimeline(t, inst, res)

	require.Equal(t, 1, res.Plan.Size())
	assert.Equal(t, "vm2", res.Plan.Actions()[0].Subject())
	out, err := res.Plan.Apply()
	require.NoError(t, err)
	assert.Equal(t, []string{"vm1"}, out.Mapping().RunningVMs("n1"))
	assert.Equal(t, []string{"vm2"}, out.Mapping().RunningVMs("n2"))
}

func TestSolveRetriesOutsideRepairMode(t *testing.T) {
	c := newCluster(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2).
		vm("vm2", domain.VMStateReady, "", 3).
		vm("vm3", domain.VMStateRunning, "n2", 2)

	// vm2 only fits once vm1 or vm3 joins the other one
	inst := &Instance{Model: c.m, Running: []string{"vm2"}}
	res, err := New(testConfig(), nil).Solve(context.Background(), inst)
	require.NoError(t, err)
	require.Equal(t, cp.OutcomeOptimal, res.Outcome)
	assert.Empty(t, res.Manageable)
	checkTimeline(t, inst, res)

	kinds := make(map[plan.Kind]int)
	for _, a := range res.Plan.Actions() {
		kinds[a.Kind()]++
	}
	assert.Equal(t, map[plan.Kind]int{plan.KindMigrateVM: 1, plan.KindBootVM: 1}, kinds)
	out, err := res.Plan.Apply()
	require.NoError(t, err)
	st, _ := out.Mapping().VMState("vm2")
	assert.Equal(t, domain.VMStateRunning, st)
}

func TestSolveDeferredObjectiveReachesOptimum(t *testing.T) {
	build := func() *Instance {
		c := newCluster(t)
		for _, n := range []string{"n1", "n2", "n3", "n4"} {
			c.node(n, domain.NodeStateOnline, 10)
		}
		c.vm("vma", domain.VMStateRunning, "n1", 3).
			vm("vmb", domain.VMStateRunning, "n1", 3).
			vm("vmc", domain.VMStateRunning, "n1", 3).
			vm("vmd", domain.VMStateRunning, "n2", 3).
			vm("vme", domain.VMStateRunning, "n2", 3).
			vm("vmf", domain.VMStateRunning, "n3", 3)
		cs, err := placement.BuildAll([]placement.Spec{
			{Kind: "offline", Nodes: []string{"n1"}},
			{Kind: "ban", VMs: []string{"vmd", "vme"}, Nodes: []string{"n2"}},
		})
		require.NoError(t, err)
		durations := reconfig.NewDurationEvaluators().
			Register(plan.KindMigrateVM, reconfig.ConstantDuration(3)).
			Register(plan.KindShutdownNode, reconfig.ConstantDuration(2))
		return &Instance{Model: c.m, Constraints: cs, Durations: durations}
	}

	objectives := make(map[bool]int)
	for _, deferred := range []bool{false, true} {
		cfg := testConfig()
		cfg.DeferObjective = deferred
		inst := build()
		res, err := New(cfg, nil).Solve(context.Background(), inst)
		require.NoError(t, err)
		require.Equal(t, cp.OutcomeOptimal, res.Outcome, "deferred=%v", deferred)
		checkTimeline(t, inst, res)
		objectives[deferred] = res.Plan.Objective()
	}
	assert.Equal(t, objectives[false], objectives[true])
}
