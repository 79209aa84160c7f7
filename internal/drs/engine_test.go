package drs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository/memory"
	"github.com/limiquantix/planner/internal/scheduler"
	"github.com/limiquantix/planner/internal/solver"
)

type staticLeader bool

func (l staticLeader) IsLeader() bool { return bool(l) }

type mapCache struct {
	mu   sync.Mutex
	data map[string]*domain.PlanRecord
	hits int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]*domain.PlanRecord)}
}

func (c *mapCache) SetPlan(ctx context.Context, rec *domain.PlanRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[rec.ID] = rec.Clone()
	return nil
}

func (c *mapCache) GetPlan(ctx context.Context, id string) (*domain.PlanRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c.hits++
	return rec.Clone(), nil
}

type fixture struct {
	nodes *memory.NodeRepository
	vms   *memory.VMRepository
	plans *memory.PlanRepository
	cache *mapCache
	cfg   config.DRSConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		nodes: memory.NewNodeRepository(),
		vms:   memory.NewVMRepository(),
		plans: memory.NewPlanRepository(),
		cache: newMapCache(),
		cfg: config.DRSConfig{
			Enabled:         true,
			AutomationLevel: "partial",
			Interval:        time.Minute,
			ThresholdCPU:    80,
			ThresholdMemory: 85,
			Retention:       24 * time.Hour,
		},
	}
	// 8 vCPUs and 16 GiB once the hypervisor share is reserved
	for _, n := range []struct{ id, hostname string }{{"n1", "hot"}, {"n2", "cold"}} {
		_, err := f.nodes.Create(context.Background(), &domain.Node{
			ID:       n.id,
			Hostname: n.hostname,
			Spec: domain.NodeSpec{
				CPU:    domain.NodeCPUInfo{Sockets: 1, CoresPerSocket: 9, ThreadsPerCore: 1},
				Memory: domain.NodeMemoryInfo{TotalMiB: 17408},
			},
			Status: domain.NodeStatus{State: domain.NodeStateOnline},
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) addVM(t *testing.T, id string, cores int32, state domain.VMState, node string) *domain.VirtualMachine {
	t.Helper()
	vm, err := f.vms.Create(context.Background(), &domain.VirtualMachine{
		ID:     id,
		Name:   id,
		Spec:   domain.VMSpec{CPU: domain.CPUConfig{Cores: cores}, Memory: domain.MemoryConfig{SizeMiB: int64(cores) * 1024}},
		Status: domain.VMStatus{State: state, NodeID: node},
	})
	require.NoError(t, err)
	return vm
}

func (f *fixture) engine(leader LeaderChecker) *Engine {
	logger := zap.NewNop()
	cfg := solver.DefaultConfig()
	cfg.TimeLimit = 10 * time.Second
	sched := scheduler.New(f.nodes, f.vms, solver.New(cfg, logger), scheduler.DefaultConfig(), logger)
	return NewEngine(f.cfg, sched, solver.New(cfg, logger), f.plans, f.cache, leader, logger)
}

func actionsOf(rec *domain.PlanRecord, kind string) []domain.PlanAction {
	var out []domain.PlanAction
	for _, a := range rec.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// Analysis
// =============================================================================

func TestEngine_Analyze_Balanced(t *testing.T) {
	f := newFixture(t)
	f.addVM(t, "a", 2, domain.VMStateRunning, "n1")
	f.addVM(t, "b", 2, domain.VMStateRunning, "n2")

	rec, err := f.engine(nil).Analyze(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)

	plans, err := f.plans.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestEngine_Analyze_EvictsSmallestVM(t *testing.T) {
	f := newFixture(t)
	f.addVM(t, "a", 4, domain.VMStateRunning, "n1")
	f.addVM(t, "b", 2, domain.VMStateRunning, "n1")
	f.addVM(t, "c", 1, domain.VMStateRunning, "n1")

	e := f.engine(staticLeader(true))
	rec, err := e.Analyze(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	migrations := actionsOf(rec, "migrate")
	require.Len(t, migrations, 1)
	assert.Equal(t, "c", migrations[0].Subject)
	assert.Equal(t, "n1", migrations[0].Source)
	assert.Equal(t, "n2", migrations[0].Destination)

	// 7 of 8 vCPUs
	assert.Equal(t, domain.PlanPriorityMedium, rec.Priority)
	assert.Equal(t, domain.PlanStatusPending, rec.Status)
	assert.Contains(t, rec.Reason, "Node hot has high CPU usage (87.5%)")
	assert.False(t, e.GetLastAnalysisTime().IsZero())

	stored, err := f.plans.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Actions, stored.Actions)
}

func TestEngine_Analyze_CriticalAutoApproved(t *testing.T) {
	f := newFixture(t)
	f.addVM(t, "a", 4, domain.VMStateRunning, "n1")
	f.addVM(t, "b", 2, domain.VMStateRunning, "n1")
	f.addVM(t, "c", 1, domain.VMStateRunning, "n1")
	f.addVM(t, "d", 1, domain.VMStateRunning, "n1")

	rec, err := f.engine(nil).Analyze(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, domain.PlanPriorityCritical, rec.Priority)
	assert.Equal(t, domain.PlanStatusApproved, rec.Status)
	var moved []string
	for _, a := range actionsOf(rec, "migrate") {
		moved = append(moved, a.Subject)
	}
	assert.ElementsMatch(t, []string{"c", "d"}, moved)
}

func TestEngine_Analyze_NoRoomElsewhere(t *testing.T) {
	f := newFixture(t)
	f.addVM(t, "a", 7, domain.VMStateRunning, "n1")
	f.addVM(t, "b", 7, domain.VMStateRunning, "n2")

	rec, err := f.engine(nil).Analyze(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEngine_Analyze_DesiredState(t *testing.T) {
	f := newFixture(t)
	vm := f.addVM(t, "web", 2, domain.VMStateReady, "")
	vm.Spec.DesiredState = domain.VMStateRunning
	_, err := f.vms.Update(context.Background(), vm)
	require.NoError(t, err)

	f.cfg.AutomationLevel = "manual"
	rec, err := f.engine(nil).Analyze(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	boots := actionsOf(rec, "boot")
	require.Len(t, boots, 1)
	assert.Equal(t, "web", boots[0].Subject)
	assert.Equal(t, domain.PlanPriorityLow, rec.Priority)
	assert.Equal(t, "1 VMs changing state", rec.Reason)
	assert.Equal(t, domain.PlanStatusPending, rec.Status)
}

func TestEngine_Analyze_Follower(t *testing.T) {
	f := newFixture(t)
	f.addVM(t, "a", 8, domain.VMStateRunning, "n1")

	e := f.engine(staticLeader(false))
	rec, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.True(t, e.GetLastAnalysisTime().IsZero())
}

func TestEngine_Analyze_CleansUpOldPlans(t *testing.T) {
	f := newFixture(t)
	_, err := f.plans.Create(context.Background(), &domain.PlanRecord{
		ID:        "old",
		Status:    domain.PlanStatusRejected,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	_, err = f.engine(nil).Analyze(context.Background())
	require.NoError(t, err)

	_, err = f.plans.Get(context.Background(), "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// =============================================================================
// Approval workflow
// =============================================================================

func TestEngine_Workflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.engine(nil)
	for _, id := range []string{"p1", "p2"} {
		_, err := f.plans.Create(ctx, &domain.PlanRecord{ID: id, Status: domain.PlanStatusPending})
		require.NoError(t, err)
	}

	pending, err := e.GetPendingPlans(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = e.ApplyPlan(ctx, "p1", "ops")
	assert.ErrorIs(t, err, domain.ErrConflict, "pending plans must be approved first")

	rec, err := e.ApprovePlan(ctx, "p1", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusApproved, rec.Status)

	rec, err = e.ApplyPlan(ctx, "p1", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusApplied, rec.Status)
	assert.Equal(t, "ops", rec.AppliedBy)

	_, err = e.RejectPlan(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	rec, err = e.RejectPlan(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusRejected, rec.Status)

	_, err = e.ApprovePlan(ctx, "missing", "ops")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_GetPlanUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.engine(nil)
	_, err := f.plans.Create(ctx, &domain.PlanRecord{ID: "p1", Status: domain.PlanStatusPending})
	require.NoError(t, err)

	rec, err := e.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID)
	assert.Equal(t, 0, f.cache.hits)

	_, err = e.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
}

func TestEngine_StartStopsWithContext(t *testing.T) {
	f := newFixture(t)
	e := f.engine(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Start(ctx)
		close(done)
	}()
	require.Eventually(t, e.IsRunning, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.False(t, e.IsRunning())
}

func TestNodeLoads(t *testing.T) {
	f := newFixture(t)
	f.addVM(t, "a", 4, domain.VMStateRunning, "n1")
	f.addVM(t, "b", 2, domain.VMStateSleeping, "n1")

	nodes, err := f.nodes.List(context.Background())
	require.NoError(t, err)
	vms, err := f.vms.List(context.Background())
	require.NoError(t, err)
	m, err := scheduler.BuildModel(nodes, vms, scheduler.DefaultConfig())
	require.NoError(t, err)

	loads := NodeLoads(m)
	require.Len(t, loads, 2)
	byID := map[string]NodeLoad{loads[0].NodeID: loads[0], loads[1].NodeID: loads[1]}
	assert.Equal(t, 4, byID["n1"].UsedCPU)
	assert.Equal(t, 8, byID["n1"].TotalCPU)
	assert.Equal(t, 50.0, byID["n1"].CPUPercent)
	assert.Equal(t, 1, byID["n1"].VMCount)
	assert.Equal(t, 0, byID["n2"].UsedCPU)
}
