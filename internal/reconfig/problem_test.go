package reconfig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
)

// ============================================================================
// Fixtures
// ============================================================================

type modelBuilder struct {
	t   *testing.T
	m   *domain.Model
	cpu *domain.ShareableResource
}

func newModelBuilder(t *testing.T) *modelBuilder {
	m := domain.NewModel()
	cpu := domain.NewShareableResource(domain.ResourceCPU, 0, 0)
	m.AddResource(cpu)
	return &modelBuilder{t: t, m: m, cpu: cpu}
}

func (b *modelBuilder) node(id string, state domain.NodeState, capacity int) *modelBuilder {
	require.NoError(b.t, b.m.AddNode(&domain.Node{ID: id, Status: domain.NodeStatus{State: state}}))
	b.cpu.SetCapacity(id, capacity)
	return b
}

func (b *modelBuilder) vm(id string, state domain.VMState, node string, usage int, attrs ...string) *modelBuilder {
	vm := &domain.VirtualMachine{ID: id, Status: domain.VMStatus{State: state, NodeID: node}}
	if len(attrs) > 0 {
		vm.Attributes = domain.Attributes{}
		for i := 0; i+1 < len(attrs); i += 2 {
			vm.Attributes[attrs[i]] = attrs[i+1]
		}
	}
	require.NoError(b.t, b.m.AddVM(vm))
	b.cpu.SetConsumption(id, usage)
	return b
}

// fence restricts the final host of a VM.
type fence struct {
	vm    string
	nodes []string
}

func (f fence) InvolvedVMs() []string   { return []string{f.vm} }
func (f fence) InvolvedNodes() []string { return f.nodes }
func (f fence) IsContinuous() bool      { return false }

func (f fence) Inject(p *Problem) error {
	a, err := p.VMAction(f.vm)
	if err != nil {
		return err
	}
	allowed := make(map[int]bool)
	for _, n := range f.nodes {
		i, err := p.NodeIndex(n)
		if err != nil {
			return err
		}
		allowed[i] = true
	}
	for i := range p.Nodes() {
		if !allowed[i] {
			if _, err := a.DSlice().Host.RemoveValue(i); err != nil {
				return err
			}
		}
	}
	return nil
}

type solved struct {
	outcome cp.Outcome
	plan    *plan.Plan
}

// solve runs a plain branch and bound over the problem and checks the slice
// invariants on every solution.
func solve(t *testing.T, p *Problem, constraints ...Constraint) solved {
	t.Helper()
	for _, c := range constraints {
		require.NoError(t, p.Inject(c))
	}
	require.NoError(t, p.Seal(false))
	strategy := cp.Sequence(
		cp.NewIntStrategy(p.DSliceHosts(), cp.FirstFail, cp.MinValue),
		cp.NewIntStrategy(p.NodeStates(), nil, cp.MaxValue),
		cp.NewIntStrategy(p.DecisionVars(), nil, cp.MinValue),
	)
	var res solved
	sr := cp.NewSearch(p.Store(), strategy).
		Minimize(p.Objective()).
		WithLimits(cp.Limits{TimeLimit: 10 * time.Second}).
		OnSolution(func() error {
			checkSlices(t, p)
			pl, err := p.BuildPlan()
			if err != nil {
				return err
			}
			res.plan = pl
			return nil
		})
	out, err := sr.Run(context.Background())
	require.NoError(t, err)
	res.outcome = out
	return res
}

func checkSlices(t *testing.T, p *Problem) {
	for _, a := range p.VMActions() {
		for _, s := range []*Slice{a.CSlice(), a.DSlice()} {
			if s == nil {
				continue
			}
			assert.Equal(t, s.Start.Value()+s.Duration.Value(), s.End.Value(), s.Subject)
			assert.GreaterOrEqual(t, s.Start.Value(), 0)
			assert.LessOrEqual(t, s.End.Value(), p.End().Value())
		}
	}
}

// ============================================================================
// Assembly
// ============================================================================

func TestNewProblemRejectsBadTargets(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 1).
		vm("vm2", domain.VMStateReady, "", 1).
		vm("vm3", domain.VMStateInit, "", 1)

	tests := []struct {
		name   string
		params Parameters
		want   error
	}{
		{"missing state", Parameters{Running: []string{"vm1"}}, domain.ErrAmbiguousState},
		{"two states", Parameters{Running: []string{"vm1", "vm2"}, Ready: []string{"vm2"}}, domain.ErrAmbiguousState},
		{"unknown vm", Parameters{Running: []string{"vm1", "ghost"}, Ready: []string{"vm2"}}, domain.ErrUnknownVM},
		{"no transition", Parameters{Running: []string{"vm1"}, Sleeping: []string{"vm2"}}, domain.ErrNoTransition},
		{"forge without template", Parameters{Running: []string{"vm1"}, Ready: []string{"vm2", "vm3"}}, domain.ErrMissingAttribute},
		{"unknown manageable", Parameters{Running: []string{"vm1"}, Ready: []string{"vm2"}, Manageable: []string{"ghost"}}, domain.ErrUnknownVM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProblem(b.m, tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1"}, Ready: []string{"vm2"}, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, domain.VMStateInit, p.NextState("vm3"))
	a, err := p.VMAction("vm3")
	require.NoError(t, err)
	assert.Equal(t, ModelStayAway, a.Kind())
}

func TestTransitionTable(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 8).
		node("n2", domain.NodeStateOffline, 8).
		vm("boot", domain.VMStateReady, "", 1).
		vm("stop", domain.VMStateRunning, "n1", 1).
		vm("suspend", domain.VMStateRunning, "n1", 1).
		vm("resume", domain.VMStateSleeping, "n1", 1).
		vm("forge", domain.VMStateInit, "", 1, domain.AttrTemplate, "debian").
		vm("kill", domain.VMStateRunning, "n1", 1).
		vm("keep", domain.VMStateRunning, "n1", 1).
		vm("pinned", domain.VMStateRunning, "n1", 1).
		vm("idle", domain.VMStateReady, "", 1)

	p, err := NewProblem(b.m, Parameters{
		Running:    []string{"boot", "resume", "keep", "pinned"},
		Ready:      []string{"stop", "forge", "idle"},
		Sleeping:   []string{"suspend"},
		Killed:     []string{"kill"},
		Manageable: []string{"keep", "boot", "resume"},
	})
	require.NoError(t, err)

	want := map[string]ModelKind{
		"boot":    ModelBootVM,
		"stop":    ModelShutdownVM,
		"suspend": ModelSuspendVM,
		"resume":  ModelResumeVM,
		"forge":   ModelForgeVM,
		"kill":    ModelKillVM,
		"keep":    ModelRelocatable,
		"pinned":  ModelStayRunning,
		"idle":    ModelStayAway,
	}
	for vm, kind := range want {
		a, err := p.VMAction(vm)
		require.NoError(t, err)
		assert.Equal(t, kind, a.Kind(), vm)
	}

	n1, _ := p.NodeAction("n1")
	n2, _ := p.NodeAction("n2")
	assert.Equal(t, ModelShutdownableNode, n1.Kind())
	assert.Equal(t, ModelBootableNode, n2.Kind())
	// n1 keeps the image of a sleeping VM
	assert.Equal(t, 1, n1.State().Value())

	kill, _ := p.VMAction("kill")
	assert.NotNil(t, kill.CSlice())
	assert.Nil(t, kill.DSlice())
	pinned, _ := p.VMAction("pinned")
	assert.Equal(t, 0, pinned.DSlice().Host.Value())
}

func TestRelocationDurationDomain(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 8).
		node("n2", domain.NodeStateOnline, 8).
		vm("vm1", domain.VMStateRunning, "n1", 1,
			domain.AttrTemplate, "debian", domain.AttrClone, "true",
			"duration.migrate", "5", "duration.boot", "2", "duration.shutdown", "1").
		vm("vm2", domain.VMStateRunning, "n1", 1)
	durations := NewDurationEvaluators().Register(plan.KindMigrateVM, ConstantDuration(4))
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1", "vm2"}, Durations: durations})
	require.NoError(t, err)

	a, _ := p.VMAction("vm1")
	assert.Equal(t, []int{0, 3, 5}, a.Duration().Values())
	a2, _ := p.VMAction("vm2")
	assert.Equal(t, []int{0, 4}, a2.Duration().Values())
	assert.Equal(t, 0, a2.Method().Value())

	s := p.Store()
	s.PushWorld()
	_, err = a.DSlice().Host.Instantiate(0)
	require.NoError(t, err)
	require.NoError(t, s.Propagate())
	assert.Equal(t, 1, a.Stay().Value())
	assert.Equal(t, 0, a.Duration().Value())
	assert.Equal(t, 0, a.Start().Value())
	s.PopWorld()

	_, err = a.Method().Instantiate(1)
	require.NoError(t, err)
	require.NoError(t, s.Propagate())
	assert.Equal(t, 1, a.Start().LB(), "the forge has to end first")
	// a start after 0 rules staying out
	assert.Equal(t, 0, a.Stay().Value())
	assert.Equal(t, 3, a.Duration().Value())
	assert.False(t, a.DSlice().Host.Contains(0))
}

func TestGrowingVMStayingWaitsForRoom(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 8).
		vm("vm1", domain.VMStateRunning, "n1", 1).
		vm("vm2", domain.VMStateRunning, "n1", 2)
	b.cpu.SetFutureConsumption("vm1", 3)
	durations := NewDurationEvaluators().Register(plan.KindMigrateVM, ConstantDuration(4))
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1", "vm2"}, Durations: durations})
	require.NoError(t, err)
	require.NoError(t, p.Seal(false))
	s := p.Store()

	vm1, _ := p.VMAction("vm1")
	vm2, _ := p.VMAction("vm2")
	_, err = vm1.DSlice().Host.Instantiate(0)
	require.NoError(t, err)
	require.NoError(t, s.Propagate())
	assert.Equal(t, 1, vm1.Stay().Value())
	assert.Greater(t, vm1.Start().UB(), 0, "a growing VM may act later")

	_, err = vm2.DSlice().Host.Instantiate(1)
	require.NoError(t, err)
	require.NoError(t, s.Propagate())
	assert.Equal(t, 4, vm2.End().LB())
	assert.Equal(t, 4, vm1.Start().LB(), "the growth waits for vm2 to leave")
}

func TestOfflineNodeRunsNothing(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 8).
		node("n2", domain.NodeStateOffline, 8).
		vm("vm1", domain.VMStateRunning, "n1", 1)
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1"}})
	require.NoError(t, err)

	n2, _ := p.NodeAction("n2")
	vm1, _ := p.VMAction("vm1")
	count := p.NbRunningVMs()[1]
	s := p.Store()

	s.PushWorld()
	_, err = n2.State().Instantiate(0)
	require.NoError(t, err)
	require.NoError(t, s.Propagate())
	assert.Equal(t, 0, count.Value())
	assert.False(t, vm1.DSlice().Host.Contains(1))
	s.PopWorld()

	_, err = vm1.DSlice().Host.Instantiate(1)
	require.NoError(t, err)
	require.NoError(t, s.Propagate())
	assert.Equal(t, 1, n2.State().Value(), "hosting a VM boots the node")
	assert.Equal(t, 1, n2.Duration().Value())
}

// ============================================================================
// Scenarios
// ============================================================================

func TestSolveNothingToDo(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2)
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1"}})
	require.NoError(t, err)

	res := solve(t, p)
	assert.Equal(t, cp.OutcomeOptimal, res.outcome)
	require.NotNil(t, res.plan)
	assert.Equal(t, 0, res.plan.Size())
	assert.Equal(t, 0, res.plan.Objective())
}

func TestSolveSingleMigration(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 3)
	durations := NewDurationEvaluators().Register(plan.KindMigrateVM, ConstantDuration(3))
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1"}, Durations: durations})
	require.NoError(t, err)

	res := solve(t, p, fence{vm: "vm1", nodes: []string{"n2"}})
	assert.Equal(t, cp.OutcomeOptimal, res.outcome)
	require.NotNil(t, res.plan)
	require.Equal(t, 1, res.plan.Size())
	mig, ok := res.plan.Actions()[0].(*plan.MigrateVM)
	require.True(t, ok)
	assert.Equal(t, "n1", mig.Source())
	assert.Equal(t, "n2", mig.Destination())
	assert.Equal(t, 0, mig.Start())
	assert.Equal(t, 3, mig.End())

	out, err := res.plan.Apply()
	require.NoError(t, err)
	assert.Equal(t, "n2", out.Mapping().Location("vm1"))
}

func TestSolveOverloadIsInfeasible(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 3).
		vm("vm2", domain.VMStateReady, "", 3)
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1", "vm2"}})
	require.NoError(t, err)

	res := solve(t, p, fence{vm: "vm2", nodes: []string{"n1"}})
	assert.Equal(t, cp.OutcomeInfeasible, res.outcome)
	assert.Nil(t, res.plan)
}

func TestSolveSequencesDependentMigrations(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		node("n3", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 3).
		vm("vm2", domain.VMStateRunning, "n2", 3)
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1", "vm2"}})
	require.NoError(t, err)

	res := solve(t, p,
		fence{vm: "vm1", nodes: []string{"n2"}},
		fence{vm: "vm2", nodes: []string{"n3"}},
	)
	require.True(t, res.outcome.HasSolution())
	byVM := map[string]plan.Action{}
	for _, a := range res.plan.Actions() {
		byVM[a.Subject()] = a
	}
	require.Len(t, byVM, 2)
	assert.GreaterOrEqual(t, byVM["vm1"].Start(), byVM["vm2"].End(), "vm1 waits for room on n2")
	assert.Equal(t, 3, res.plan.Objective())
}

func TestSolveReinstantiation(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOnline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2,
			domain.AttrTemplate, "debian", domain.AttrClone, "true")
	durations := NewDurationEvaluators().
		Register(plan.KindMigrateVM, ConstantDuration(10)).
		Register(plan.KindForgeVM, ConstantDuration(2))
	p, err := NewProblem(b.m, Parameters{Running: []string{"vm1"}, Durations: durations})
	require.NoError(t, err)

	res := solve(t, p, fence{vm: "vm1", nodes: []string{"n2"}})
	assert.Equal(t, cp.OutcomeOptimal, res.outcome)
	require.NotNil(t, res.plan)
	assert.Equal(t, 4, res.plan.Objective())

	subs := res.plan.Substitutions()
	require.Contains(t, subs, "vm1")
	clone := subs["vm1"]
	kinds := map[plan.Kind]plan.Action{}
	for _, a := range res.plan.Actions() {
		kinds[a.Kind()] = a
	}
	assert.Equal(t, 0, kinds[plan.KindForgeVM].Start())
	assert.Equal(t, clone, kinds[plan.KindBootVM].Subject())
	assert.Equal(t, "vm1", kinds[plan.KindShutdownVM].Subject())
	assert.Equal(t, 4, kinds[plan.KindShutdownVM].End())

	out, err := res.plan.Apply()
	require.NoError(t, err)
	assert.Equal(t, []string{clone}, out.Mapping().RunningVMs("n2"))
	st, _ := out.Mapping().VMState("vm1")
	assert.Equal(t, domain.VMStateReady, st)
}

func TestSolveRoundTrip(t *testing.T) {
	b := newModelBuilder(t).
		node("n1", domain.NodeStateOnline, 4).
		node("n2", domain.NodeStateOffline, 4).
		vm("vm1", domain.VMStateRunning, "n1", 2).
		vm("vm2", domain.VMStateReady, "", 2).
		vm("vm3", domain.VMStateRunning, "n1", 2).
		vm("vm4", domain.VMStateInit, "", 1, domain.AttrTemplate, "alpine")
	params := Parameters{
		Running: []string{"vm1", "vm2"},
		Ready:   []string{"vm3", "vm4"},
	}
	p, err := NewProblem(b.m, params)
	require.NoError(t, err)

	res := solve(t, p, fence{vm: "vm2", nodes: []string{"n2"}})
	require.True(t, res.outcome.HasSolution())
	out, err := res.plan.Apply()
	require.NoError(t, err)

	mp := out.Mapping()
	for _, vm := range params.Running {
		st, _ := mp.VMState(vm)
		assert.Equal(t, domain.VMStateRunning, st, vm)
	}
	for _, vm := range params.Ready {
		st, _ := mp.VMState(vm)
		assert.Equal(t, domain.VMStateReady, st, vm)
	}
	assert.Equal(t, "n2", mp.Location("vm2"))
	assert.True(t, mp.IsOnline("n2"))

	var boot, vmBoot plan.Action
	for _, a := range res.plan.Actions() {
		switch a.Kind() {
		case plan.KindBootNode:
			boot = a
		case plan.KindBootVM:
			vmBoot = a
		}
	}
	require.NotNil(t, boot)
	require.NotNil(t, vmBoot)
	assert.GreaterOrEqual(t, vmBoot.Start(), boot.End())
}
