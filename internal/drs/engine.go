// Package drs implements the periodic planning loop that keeps the cluster balanced and
// brings VMs to their desired state.
package drs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/metrics"
	"github.com/limiquantix/planner/internal/placement"
	"github.com/limiquantix/planner/internal/solver"
)

// Snapshotter describes the inventory as a planning instance.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*solver.Instance, error)
}

// Planner computes a plan for an instance.
type Planner interface {
	Solve(ctx context.Context, inst *solver.Instance) (*solver.Result, error)
}

// PlanRepository defines the interface for plan record storage.
type PlanRepository interface {
	Create(ctx context.Context, rec *domain.PlanRecord) (*domain.PlanRecord, error)
	Get(ctx context.Context, id string) (*domain.PlanRecord, error)
	List(ctx context.Context, status domain.PlanStatus, limit int) ([]*domain.PlanRecord, error)
	Update(ctx context.Context, rec *domain.PlanRecord) (*domain.PlanRecord, error)
	DeleteOld(ctx context.Context, olderThan time.Time) (int, error)
}

// PlanCache keeps recent plan records close at hand.
type PlanCache interface {
	SetPlan(ctx context.Context, rec *domain.PlanRecord) error
	GetPlan(ctx context.Context, id string) (*domain.PlanRecord, error)
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// NodeLoad contains the resource usage of a node.
type NodeLoad struct {
	NodeID        string
	Hostname      string
	UsedCPU       int
	TotalCPU      int
	CPUPercent    float64
	UsedMemory    int
	TotalMemory   int
	MemoryPercent float64
	VMCount       int
}

// Engine is the DRS engine that plans reconfigurations and tracks their approval.
type Engine struct {
	config        config.DRSConfig
	inventory     Snapshotter
	planner       Planner
	planRepo      PlanRepository
	cache         PlanCache
	leaderChecker LeaderChecker
	logger        *zap.Logger

	mu           sync.RWMutex
	isRunning    bool
	lastAnalysis time.Time
}

// NewEngine creates a new DRS engine. cache and leaderChecker may be nil.
func NewEngine(
	cfg config.DRSConfig,
	inventory Snapshotter,
	planner Planner,
	planRepo PlanRepository,
	cache PlanCache,
	leaderChecker LeaderChecker,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:        cfg,
		inventory:     inventory,
		planner:       planner,
		planRepo:      planRepo,
		cache:         cache,
		leaderChecker: leaderChecker,
		logger:        logger.With(zap.String("component", "drs")),
	}
}

// Start begins the DRS analysis loop.
func (e *Engine) Start(ctx context.Context) {
	if !e.config.Enabled {
		e.logger.Info("DRS engine disabled")
		return
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	e.logger.Info("Starting DRS engine",
		zap.Duration("interval", e.config.Interval),
		zap.String("automation_level", e.config.AutomationLevel),
		zap.Int("cpu_threshold", e.config.ThresholdCPU),
		zap.Int("memory_threshold", e.config.ThresholdMemory),
	)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	// Run initial analysis
	e.runAnalysis(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("DRS engine stopped")
			e.mu.Lock()
			e.isRunning = false
			e.mu.Unlock()
			return
		case <-ticker.C:
			e.runAnalysis(ctx)
		}
	}
}

func (e *Engine) runAnalysis(ctx context.Context) {
	if _, err := e.Analyze(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("DRS analysis failed", zap.Error(err))
	}
}

// Analyze runs a single planning cycle and returns the stored plan, nil when there is
// nothing to do or this instance is not the leader.
func (e *Engine) Analyze(ctx context.Context) (*domain.PlanRecord, error) {
	// Only run on leader
	if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
		metrics.Leader.Set(0)
		e.logger.Debug("Not leader, skipping DRS analysis")
		return nil, nil
	}
	metrics.Leader.Set(1)

	e.logger.Debug("Running DRS analysis")
	start := time.Now()
	defer func() {
		e.mu.Lock()
		e.lastAnalysis = time.Now()
		e.mu.Unlock()
	}()

	inst, err := e.inventory.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot inventory: %w", err)
	}

	loads := NodeLoads(inst.Model)
	overloaded := e.overloaded(loads)
	balancing := e.balancingConstraints(inst.Model, overloaded)
	changes := len(inst.Running) + len(inst.Ready) + len(inst.Sleeping) + len(inst.Killed)
	if len(balancing) == 0 && changes == 0 && len(placement.Misplaced(inst.Model, inst.Constraints)) == 0 {
		e.logger.Debug("Cluster is balanced", zap.Int("nodes", len(loads)))
		e.cleanup(ctx)
		return nil, nil
	}

	res, err := e.planner.Solve(ctx, withConstraints(inst, balancing))
	if err != nil {
		return nil, err
	}
	if res.Plan == nil && len(balancing) > 0 {
		e.logger.Info("No balancing plan, retrying with the desired states only",
			zap.String("outcome", res.Outcome.String()),
		)
		balancing, overloaded = nil, nil
		if res, err = e.planner.Solve(ctx, inst); err != nil {
			return nil, err
		}
	}
	if res.Plan == nil || res.Plan.Size() == 0 {
		e.logger.Info("DRS analysis produced no plan", zap.String("outcome", res.Outcome.String()))
		e.cleanup(ctx)
		return nil, nil
	}

	rec := &domain.PlanRecord{
		ID:            uuid.NewString(),
		Priority:      e.calculatePriority(overloaded),
		Reason:        e.generateReason(overloaded, changes),
		Outcome:       res.Outcome.String(),
		Objective:     res.Plan.Objective(),
		Duration:      res.Plan.Duration(),
		Actions:       res.Plan.Records(),
		Substitutions: res.Plan.Substitutions(),
		Status:        domain.PlanStatusPending,
		CreatedAt:     time.Now(),
	}
	if e.autoApproves(rec) {
		if err := rec.Transition(domain.PlanStatusApproved, "", rec.CreatedAt); err != nil {
			return nil, err
		}
		e.logger.Info("Auto-approving plan", zap.String("id", rec.ID))
	}
	stored, err := e.planRepo.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to store plan: %w", err)
	}
	metrics.PlansTotal.WithLabelValues(string(stored.Status)).Inc()
	e.cachePlan(ctx, stored)

	e.logger.Info("DRS plan created",
		zap.String("id", stored.ID),
		zap.String("priority", string(stored.Priority)),
		zap.String("status", string(stored.Status)),
		zap.Int("actions", len(stored.Actions)),
		zap.Int("duration", stored.Duration),
		zap.String("reason", stored.Reason),
		zap.Duration("elapsed", time.Since(start)),
	)

	e.cleanup(ctx)
	return stored, nil
}

func withConstraints(inst *solver.Instance, extra []placement.Constraint) *solver.Instance {
	if len(extra) == 0 {
		return inst
	}
	c := *inst
	c.Constraints = append(append([]placement.Constraint(nil), inst.Constraints...), extra...)
	return &c
}

func (e *Engine) cleanup(ctx context.Context) {
	if e.config.Retention <= 0 {
		return
	}
	n, err := e.planRepo.DeleteOld(ctx, time.Now().Add(-e.config.Retention))
	if err != nil {
		e.logger.Warn("Failed to cleanup old plans", zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Debug("Cleaned up old plans", zap.Int("deleted", n))
	}
}

func (e *Engine) autoApproves(rec *domain.PlanRecord) bool {
	switch e.config.AutomationLevel {
	case "full":
		return true
	case "partial":
		return rec.Priority == domain.PlanPriorityCritical
	default:
		return false
	}
}

// NodeLoads computes the resource usage of the online nodes from the running VMs.
func NodeLoads(m *domain.Model) []NodeLoad {
	cpu, _ := m.Resource(domain.ResourceCPU)
	mem, _ := m.Resource(domain.ResourceMemory)
	mapping := m.Mapping()

	var loads []NodeLoad
	for _, n := range m.Nodes() {
		if !mapping.IsOnline(n.ID) {
			continue
		}
		l := NodeLoad{NodeID: n.ID, Hostname: n.Hostname}
		running := mapping.RunningVMs(n.ID)
		l.VMCount = len(running)
		if cpu != nil {
			l.TotalCPU = cpu.Capacity(n.ID)
		}
		if mem != nil {
			l.TotalMemory = mem.Capacity(n.ID)
		}
		for _, vm := range running {
			if cpu != nil {
				l.UsedCPU += cpu.Consumption(vm)
			}
			if mem != nil {
				l.UsedMemory += mem.Consumption(vm)
			}
		}
		l.CPUPercent = percent(l.UsedCPU, l.TotalCPU)
		l.MemoryPercent = percent(l.UsedMemory, l.TotalMemory)
		loads = append(loads, l)
	}
	return loads
}

func percent(used, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// overloaded returns the nodes above a threshold, most loaded first. It is empty unless
// another node has room below the thresholds.
func (e *Engine) overloaded(loads []NodeLoad) []NodeLoad {
	var over []NodeLoad
	room := false
	for _, l := range loads {
		if e.above(l.CPUPercent, l.MemoryPercent) {
			over = append(over, l)
		} else {
			room = true
		}
	}
	if !room {
		return nil
	}
	sort.Slice(over, func(i, j int) bool {
		return max(over[i].CPUPercent, over[i].MemoryPercent) > max(over[j].CPUPercent, over[j].MemoryPercent)
	})
	return over
}

func (e *Engine) above(cpuPercent, memPercent float64) bool {
	return cpuPercent > float64(e.config.ThresholdCPU) || memPercent > float64(e.config.ThresholdMemory)
}

// balancingConstraints bans the smallest running VMs of every overloaded node from it,
// until what remains is under the thresholds. The solver picks their destination.
func (e *Engine) balancingConstraints(m *domain.Model, overloaded []NodeLoad) []placement.Constraint {
	cpu, _ := m.Resource(domain.ResourceCPU)
	mem, _ := m.Resource(domain.ResourceMemory)
	if cpu == nil || mem == nil {
		return nil
	}

	var out []placement.Constraint
	for _, l := range overloaded {
		vms := m.Mapping().RunningVMs(l.NodeID)
		sort.Slice(vms, func(i, j int) bool {
			ci, cj := cpu.Consumption(vms[i]), cpu.Consumption(vms[j])
			if ci != cj {
				return ci < cj
			}
			mi, mj := mem.Consumption(vms[i]), mem.Consumption(vms[j])
			if mi != mj {
				return mi < mj
			}
			return vms[i] < vms[j]
		})

		usedCPU, usedMem := l.UsedCPU, l.UsedMemory
		var evicted []string
		for _, vm := range vms {
			if !e.above(percent(usedCPU, l.TotalCPU), percent(usedMem, l.TotalMemory)) {
				break
			}
			evicted = append(evicted, vm)
			usedCPU -= cpu.Consumption(vm)
			usedMem -= mem.Consumption(vm)
		}
		if len(evicted) == 0 {
			continue
		}
		ban, err := placement.NewBan(evicted, []string{l.NodeID})
		if err != nil {
			continue
		}
		e.logger.Debug("Evicting VMs from overloaded node",
			zap.String("node_id", l.NodeID),
			zap.Strings("vms", evicted),
		)
		out = append(out, ban)
	}
	return out
}

// calculatePriority determines plan priority based on the most loaded node.
func (e *Engine) calculatePriority(overloaded []NodeLoad) domain.PlanPriority {
	if len(overloaded) == 0 {
		return domain.PlanPriorityLow
	}
	maxPercent := max(overloaded[0].CPUPercent, overloaded[0].MemoryPercent)

	switch {
	case maxPercent >= 95:
		return domain.PlanPriorityCritical
	case maxPercent >= 90:
		return domain.PlanPriorityHigh
	case maxPercent >= 85:
		return domain.PlanPriorityMedium
	default:
		return domain.PlanPriorityLow
	}
}

// generateReason creates a human-readable reason for the plan.
func (e *Engine) generateReason(overloaded []NodeLoad, changes int) string {
	var parts []string
	for _, l := range overloaded {
		cpuHigh := l.CPUPercent > float64(e.config.ThresholdCPU)
		memHigh := l.MemoryPercent > float64(e.config.ThresholdMemory)
		switch {
		case cpuHigh && memHigh:
			parts = append(parts, fmt.Sprintf("Node %s is overloaded (CPU: %.1f%%, Memory: %.1f%%)", l.Hostname, l.CPUPercent, l.MemoryPercent))
		case cpuHigh:
			parts = append(parts, fmt.Sprintf("Node %s has high CPU usage (%.1f%%)", l.Hostname, l.CPUPercent))
		default:
			parts = append(parts, fmt.Sprintf("Node %s has high memory usage (%.1f%%)", l.Hostname, l.MemoryPercent))
		}
	}
	if changes > 0 {
		parts = append(parts, fmt.Sprintf("%d VMs changing state", changes))
	}
	if len(parts) == 0 {
		return "Placement policies violated"
	}
	return strings.Join(parts, "; ")
}

// GetPendingPlans returns the plans waiting for approval.
func (e *Engine) GetPendingPlans(ctx context.Context, limit int) ([]*domain.PlanRecord, error) {
	return e.planRepo.List(ctx, domain.PlanStatusPending, limit)
}

// ListPlans returns plan records, newest first. An empty status lists them all.
func (e *Engine) ListPlans(ctx context.Context, status domain.PlanStatus, limit int) ([]*domain.PlanRecord, error) {
	return e.planRepo.List(ctx, status, limit)
}

// Loads returns the current load of every node.
func (e *Engine) Loads(ctx context.Context) ([]NodeLoad, error) {
	inst, err := e.inventory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return NodeLoads(inst.Model), nil
}

// GetPlan returns a plan record, from the cache when possible.
func (e *Engine) GetPlan(ctx context.Context, id string) (*domain.PlanRecord, error) {
	if e.cache != nil {
		rec, err := e.cache.GetPlan(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("Plan cache lookup failed", zap.String("id", id), zap.Error(err))
		}
	}
	rec, err := e.planRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.cachePlan(ctx, rec)
	return rec, nil
}

// ApprovePlan marks a plan as approved.
func (e *Engine) ApprovePlan(ctx context.Context, id, approvedBy string) (*domain.PlanRecord, error) {
	return e.transition(ctx, id, domain.PlanStatusApproved, approvedBy)
}

// ApplyPlan marks an approved plan as applied.
func (e *Engine) ApplyPlan(ctx context.Context, id, appliedBy string) (*domain.PlanRecord, error) {
	return e.transition(ctx, id, domain.PlanStatusApplied, appliedBy)
}

// RejectPlan marks a plan as rejected.
func (e *Engine) RejectPlan(ctx context.Context, id string) (*domain.PlanRecord, error) {
	return e.transition(ctx, id, domain.PlanStatusRejected, "")
}

func (e *Engine) transition(ctx context.Context, id string, to domain.PlanStatus, by string) (*domain.PlanRecord, error) {
	rec, err := e.planRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.Transition(to, by, time.Now()); err != nil {
		return nil, err
	}
	updated, err := e.planRepo.Update(ctx, rec)
	if err != nil {
		return nil, err
	}
	metrics.PlansTotal.WithLabelValues(string(to)).Inc()
	e.cachePlan(ctx, updated)
	e.logger.Info("Plan status changed",
		zap.String("id", id),
		zap.String("status", string(to)),
		zap.String("by", by),
	)
	return updated, nil
}

func (e *Engine) cachePlan(ctx context.Context, rec *domain.PlanRecord) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetPlan(ctx, rec); err != nil {
		e.logger.Warn("Failed to cache plan", zap.String("id", rec.ID), zap.Error(err))
	}
}

// GetLastAnalysisTime returns when the last analysis was performed.
func (e *Engine) GetLastAnalysisTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastAnalysis
}

// IsRunning returns true if the DRS engine is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}
