package reconfig

import (
	"fmt"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
)

type readout struct {
	err error
}

func (r *readout) value(x cp.IntVar) int {
	if r.err != nil {
		return 0
	}
	if !x.IsInstantiated() {
		r.err = fmt.Errorf("%s is not instantiated: %w", x.Name(), domain.ErrConflict)
		return 0
	}
	return x.Value()
}

// BuildPlan converts the current assignment into a plan. Every decision variable must be
// instantiated, which is the case while the store holds a solution.
func (p *Problem) BuildPlan() (*plan.Plan, error) {
	r := &readout{}
	var actions []plan.Action
	subs := make(map[string]string)
	for _, a := range p.vmActions {
		actions = append(actions, p.vmPlanActions(r, a, subs)...)
	}
	for _, a := range p.nodeActions {
		start, end := r.value(a.start), r.value(a.end)
		state := r.value(a.state)
		switch {
		case a.kind == ModelBootableNode && state == 1:
			actions = append(actions, plan.NewBootNode(a.subject, start, end))
		case a.kind == ModelShutdownableNode && state == 0:
			actions = append(actions, plan.NewShutdownNode(a.subject, start, end))
		}
	}
	objective := r.value(p.objective)
	if r.err != nil {
		return nil, r.err
	}
	return plan.New(p.model, actions, subs, objective), nil
}

func (p *Problem) vmPlanActions(r *readout, a *ActionModel, subs map[string]string) []plan.Action {
	vm := a.subject
	start, end := r.value(a.start), r.value(a.end)
	dst := func() string {
		return p.nodes[r.value(a.dSlice.Host)]
	}
	switch a.kind {
	case ModelBootVM:
		return []plan.Action{plan.NewBootVM(vm, dst(), start, end)}
	case ModelShutdownVM:
		return []plan.Action{plan.NewShutdownVM(vm, a.source, start, end)}
	case ModelSuspendVM:
		return []plan.Action{plan.NewSuspendVM(vm, a.source, a.source, start, end)}
	case ModelResumeVM:
		return []plan.Action{plan.NewResumeVM(vm, a.source, dst(), start, end)}
	case ModelForgeVM:
		return []plan.Action{plan.NewForgeVM(vm, a.template, start, end)}
	case ModelKillVM:
		return []plan.Action{plan.NewKillVM(vm, a.source, start, end)}
	case ModelRelocatable:
		if r.value(a.stay) == 1 {
			return nil
		}
		to := dst()
		if r.value(a.method) == 0 {
			return []plan.Action{plan.NewMigrateVM(vm, a.source, to, start, end)}
		}
		clone := p.model.NewVMID()
		subs[vm] = clone
		c := a.costs
		return []plan.Action{
			plan.NewForgeVM(clone, a.template, start-c.forge, start),
			plan.NewBootVM(clone, to, start, start+c.boot),
			plan.NewShutdownVM(vm, a.source, start+c.boot, end),
		}
	default:
		return nil
	}
}
