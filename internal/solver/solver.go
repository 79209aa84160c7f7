// Package solver computes reconfiguration plans: it assembles the problem of an
// instance, attaches the heuristics and runs the branch and bound search.
package solver

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/heuristic"
	"github.com/limiquantix/planner/internal/metrics"
	"github.com/limiquantix/planner/internal/placement"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/reconfig"
)

// Instance is a model, the states its VMs must reach and the restrictions to honor.
// VMs absent from every target set keep their current state.
type Instance struct {
	Model *domain.Model

	Ready    []string
	Running  []string
	Sleeping []string
	Killed   []string

	Constraints []placement.Constraint
	// Durations override the default action durations.
	Durations *reconfig.DurationEvaluators
}

// Result is the outcome of a solve.
type Result struct {
	// Plan is the best plan found, nil without solution.
	Plan       *plan.Plan
	Outcome    cp.Outcome
	Statistics cp.Statistics
	// Horizon is the latest moment an action may end.
	Horizon int
	// Manageable lists the VMs allowed to move in repair mode.
	Manageable []string
}

// Solver computes reconfiguration plans.
type Solver struct {
	config Config
	logger *zap.Logger
}

// New creates a solver.
func New(config Config, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{
		config: config,
		logger: logger.With(zap.String("component", "solver")),
	}
}

// Solve computes a plan for inst. Malformed instances are reported as errors, while
// infeasible or unsolved instances are reported through the outcome.
//
// In repair mode, an instance found infeasible is solved again with every VM
// manageable: the restriction alone never proves infeasibility.
func (s *Solver) Solve(ctx context.Context, inst *Instance) (*Result, error) {
	timer := metrics.NewTimer()
	res, err := s.solve(ctx, inst, s.config.Repair)
	if err != nil {
		return nil, err
	}
	if s.config.Repair && res.Outcome == cp.OutcomeInfeasible && ctx.Err() == nil {
		s.logger.Info("no plan in repair mode, retrying with every VM manageable",
			zap.Strings("manageable", res.Manageable),
		)
		if res, err = s.solve(ctx, inst, false); err != nil {
			return nil, err
		}
	}
	timer.ObserveDuration(metrics.SolveDuration)
	metrics.SolvesTotal.WithLabelValues(res.Outcome.String()).Inc()
	metrics.SearchNodes.Observe(float64(res.Statistics.Nodes))
	if res.Plan != nil {
		metrics.PlanActions.Observe(float64(res.Plan.Size()))
		metrics.PlanMakespan.Set(float64(res.Plan.Duration()))
	}
	return res, nil
}

func (s *Solver) solve(ctx context.Context, inst *Instance, repair bool) (*Result, error) {
	if inst == nil || inst.Model == nil {
		return nil, fmt.Errorf("instance without model: %w", domain.ErrInvalidArgument)
	}
	strategy, err := heuristic.ParsePlacementStrategy(s.config.PlacementStrategy)
	if err != nil {
		return nil, err
	}
	m := inst.Model
	params := s.targets(inst)
	params.MaxEnd = s.config.MaxEnd
	params.Durations = inst.Durations
	params.Logger = s.logger

	misplaced := placement.Misplaced(m, inst.Constraints)
	res := &Result{}
	if repair {
		params.Manageable = manageable(m, params, misplaced)
		res.Manageable = params.Manageable
	}

	p, err := reconfig.NewProblem(m, params)
	if err != nil {
		return s.infeasible(res, err)
	}
	for _, c := range inst.Constraints {
		if err := p.Inject(c); err != nil {
			return s.infeasible(res, err)
		}
	}
	res.Horizon = p.MaxEnd()
	if err := p.Seal(s.config.DeferObjective); err != nil {
		return nil, err
	}

	h := heuristic.New(p, heuristic.Options{
		Placement: strategy,
		Rand:      rand.New(rand.NewSource(s.config.Seed)),
		Misplaced: misplaced,
		Logger:    s.logger,
	})
	search := cp.NewSearch(p.Store(), h).
		WithLimits(cp.Limits{TimeLimit: s.config.TimeLimit, NodeLimit: s.config.NodeLimit}).
		AddMonitor(&searchLogger{logger: s.logger}).
		OnSolution(func() error {
			pl, err := p.BuildPlan()
			if err != nil {
				return err
			}
			res.Plan = pl
			p.LatchObjective()
			return nil
		})
	if s.config.Optimize {
		search.Minimize(p.Objective())
	}

	res.Outcome, err = search.Run(ctx)
	res.Statistics = search.Statistics()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	fields := []zap.Field{
		zap.String("outcome", res.Outcome.String()),
		zap.Int("nodes", res.Statistics.Nodes),
		zap.Int("solutions", len(res.Statistics.Solutions)),
		zap.Duration("elapsed", res.Statistics.Elapsed),
	}
	if res.Plan != nil {
		fields = append(fields, zap.Int("actions", res.Plan.Size()), zap.Int("objective", res.Plan.Objective()))
	}
	s.logger.Info("reconfiguration solved", fields...)
	return res, nil
}

// infeasible turns a contradiction raised while building the problem into an outcome.
func (s *Solver) infeasible(res *Result, err error) (*Result, error) {
	if !cp.IsContradiction(err) {
		return nil, err
	}
	s.logger.Info("reconfiguration infeasible", zap.Error(err))
	res.Outcome = cp.OutcomeInfeasible
	return res, nil
}

// targets completes the target sets with the current state of the VMs left out.
func (s *Solver) targets(inst *Instance) reconfig.Parameters {
	params := reconfig.Parameters{
		Ready:    append([]string(nil), inst.Ready...),
		Running:  append([]string(nil), inst.Running...),
		Sleeping: append([]string(nil), inst.Sleeping...),
		Killed:   append([]string(nil), inst.Killed...),
	}
	listed := make(map[string]bool)
	for _, set := range [][]string{inst.Ready, inst.Running, inst.Sleeping, inst.Killed} {
		for _, vm := range set {
			listed[vm] = true
		}
	}
	mapping := inst.Model.Mapping()
	for _, vm := range mapping.VMs() {
		if listed[vm] {
			continue
		}
		st, _ := mapping.VMState(vm)
		switch st {
		case domain.VMStateReady:
			params.Ready = append(params.Ready, vm)
		case domain.VMStateRunning:
			params.Running = append(params.Running, vm)
		case domain.VMStateSleeping:
			params.Sleeping = append(params.Sleeping, vm)
		}
	}
	return params
}

// manageable returns the running VMs allowed to move in repair mode: those changing
// state, those a violated constraint needs to move and those sharing a node that cannot
// hold their future consumption.
func manageable(m *domain.Model, params reconfig.Parameters, misplaced []string) []string {
	set := make(map[string]bool)
	for _, vm := range misplaced {
		set[vm] = true
	}
	for _, vm := range overloaded(m, params) {
		set[vm] = true
	}
	mapping := m.Mapping()
	for _, target := range []struct {
		vms   []string
		state domain.VMState
	}{
		{params.Ready, domain.VMStateReady},
		{params.Running, domain.VMStateRunning},
		{params.Sleeping, domain.VMStateSleeping},
		{params.Killed, domain.VMStateKilled},
	} {
		for _, vm := range target.vms {
			if st, ok := mapping.VMState(vm); ok && st != target.state {
				set[vm] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for vm := range set {
		if m.HasVM(vm) {
			out = append(out, vm)
		}
	}
	sort.Strings(out)
	return out
}

// overloaded returns the running VMs of the nodes where the future consumption of the
// VMs staying in the running state exceeds the capacity of a resource.
func overloaded(m *domain.Model, params reconfig.Parameters) []string {
	staying := make(map[string]bool, len(params.Running))
	for _, vm := range params.Running {
		staying[vm] = true
	}
	mapping := m.Mapping()
	var out []string
	for _, n := range mapping.Nodes() {
		running := mapping.RunningVMs(n)
		for _, r := range m.Resources() {
			used := 0
			for _, vm := range running {
				if staying[vm] {
					used += r.FutureConsumption(vm)
				}
			}
			if used > r.Capacity(n) {
				out = append(out, running...)
				break
			}
		}
	}
	return out
}

// searchLogger traces the search at debug level.
type searchLogger struct {
	logger *zap.Logger
}

func (l *searchLogger) OnDecision(cp.Decision, int) {}

func (l *searchLogger) OnFailure(error) {}

func (l *searchLogger) OnSolution(stat cp.SolutionStat) {
	l.logger.Debug("solution found",
		zap.Int("objective", stat.Objective),
		zap.Int("nodes", stat.Nodes),
		zap.Duration("elapsed", stat.Elapsed),
	)
}
