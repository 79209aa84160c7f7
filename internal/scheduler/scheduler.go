package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/reconfig"
	"github.com/limiquantix/planner/internal/solver"
)

// Scheduler reads the inventory and plans against it.
type Scheduler struct {
	nodeRepo NodeRepository
	vmRepo   VMRepository
	solver   *solver.Solver
	config   Config
	logger   *zap.Logger

	durations *reconfig.DurationEvaluators
}

// New creates a new Scheduler instance.
func New(nodeRepo NodeRepository, vmRepo VMRepository, slv *solver.Solver, config Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		nodeRepo: nodeRepo,
		vmRepo:   vmRepo,
		solver:   slv,
		config:   config,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// SetDurations overrides the action durations of the planned instances.
func (s *Scheduler) SetDurations(d *reconfig.DurationEvaluators) {
	s.durations = d
}

// ScheduleResult contains the scheduling decision.
type ScheduleResult struct {
	NodeID   string
	Hostname string
	Plan     *plan.Plan
	Reason   string
}

// Snapshot builds the instance describing the inventory: VMs whose desired state differs
// from their current one are targeted to it and placement policies become constraints.
func (s *Scheduler) Snapshot(ctx context.Context) (*solver.Instance, error) {
	return s.snapshot(ctx, nil)
}

func (s *Scheduler) snapshot(ctx context.Context, extra *domain.VirtualMachine) (*solver.Instance, error) {
	nodes, err := s.nodeRepo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list nodes", zap.Error(err))
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes available: %w", domain.ErrUnavailable)
	}
	vms, err := s.vmRepo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list VMs", zap.Error(err))
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}
	if extra != nil {
		vms = append(vms, extra)
	}
	m, err := BuildModel(nodes, vms, s.config)
	if err != nil {
		return nil, err
	}
	constraints, err := PolicyConstraints(m)
	if err != nil {
		return nil, err
	}

	inst := &solver.Instance{Model: m, Constraints: constraints, Durations: s.durations}
	for _, vm := range m.VMs() {
		want := vm.Spec.DesiredState
		if want == "" || want == vm.Status.State {
			continue
		}
		switch want {
		case domain.VMStateRunning:
			inst.Running = append(inst.Running, vm.ID)
		case domain.VMStateReady:
			inst.Ready = append(inst.Ready, vm.ID)
		case domain.VMStateSleeping:
			inst.Sleeping = append(inst.Sleeping, vm.ID)
		case domain.VMStateKilled:
			inst.Killed = append(inst.Killed, vm.ID)
		default:
			s.logger.Warn("Ignoring unsupported desired state",
				zap.String("vm_id", vm.ID),
				zap.String("desired_state", string(want)),
			)
		}
	}
	s.logger.Debug("Inventory snapshot",
		zap.Int("nodes", len(nodes)),
		zap.Int("vms", len(vms)),
		zap.Int("constraints", len(constraints)),
	)
	return inst, nil
}

// Schedule finds a node for a VM that is not placed yet. The running VMs stay where they
// are unless their placement policies are violated.
func (s *Scheduler) Schedule(ctx context.Context, vm *domain.VirtualMachine) (*ScheduleResult, error) {
	logger := s.logger.With(
		zap.String("vm_id", vm.ID),
		zap.Int32("requested_cpu_cores", vm.Spec.CPU.TotalCores()),
		zap.Int64("requested_memory_mib", vm.Spec.Memory.SizeMiB),
	)
	logger.Info("Starting scheduling for VM")

	pending := vm.Clone()
	pending.Status = domain.VMStatus{State: domain.VMStateReady}
	pending.Spec.DesiredState = domain.VMStateRunning
	inst, err := s.snapshot(ctx, pending)
	if err != nil {
		return nil, err
	}

	res, err := s.solver.Solve(ctx, inst)
	if err != nil {
		logger.Error("Failed to solve", zap.Error(err))
		return nil, fmt.Errorf("failed to schedule vm %s: %w", vm.ID, err)
	}
	if res.Plan == nil {
		logger.Warn("No node satisfies scheduling requirements", zap.String("outcome", res.Outcome.String()))
		return nil, fmt.Errorf("no node can run vm %s (%s): %w", vm.ID, res.Outcome, domain.ErrResourceExhausted)
	}

	for _, a := range res.Plan.Actions() {
		boot, ok := a.(*plan.BootVM)
		if !ok || boot.Subject() != vm.ID {
			continue
		}
		node, err := inst.Model.Node(boot.Destination())
		if err != nil {
			return nil, err
		}
		logger.Info("Scheduled VM successfully",
			zap.String("node_id", node.ID),
			zap.String("hostname", node.Hostname),
			zap.Int("plan_actions", res.Plan.Size()),
		)
		return &ScheduleResult{
			NodeID:   node.ID,
			Hostname: node.Hostname,
			Plan:     res.Plan,
			Reason:   fmt.Sprintf("boot at %d, plan of %d actions (%s)", boot.Start(), res.Plan.Size(), res.Outcome),
		}, nil
	}
	return nil, fmt.Errorf("plan does not boot vm %s: %w", vm.ID, domain.ErrOperationFailed)
}
