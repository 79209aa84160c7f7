package reconfig

import (
	"fmt"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/propagator"
)

type vmBuilder func(p *Problem, vm string) (*ActionModel, error)

type transitionKey struct {
	from, to domain.VMState
}

// vmTransitions selects the model of a VM from its current and next state.
var vmTransitions = map[transitionKey]vmBuilder{
	{domain.VMStateInit, domain.VMStateReady}:        buildForgeVM,
	{domain.VMStateInit, domain.VMStateInit}:         buildStayAway,
	{domain.VMStateReady, domain.VMStateReady}:       buildStayAway,
	{domain.VMStateSleeping, domain.VMStateSleeping}: buildStayAway,
	{domain.VMStateInit, domain.VMStateKilled}:       buildKillVM,
	{domain.VMStateReady, domain.VMStateKilled}:      buildKillVM,
	{domain.VMStateSleeping, domain.VMStateKilled}:   buildKillVM,
	{domain.VMStateRunning, domain.VMStateKilled}:    buildKillVM,
	{domain.VMStateReady, domain.VMStateRunning}:     buildBootVM,
	{domain.VMStateRunning, domain.VMStateRunning}:   buildRunningVM,
	{domain.VMStateRunning, domain.VMStateReady}:     buildShutdownVM,
	{domain.VMStateRunning, domain.VMStateSleeping}:  buildSuspendVM,
	{domain.VMStateSleeping, domain.VMStateRunning}:  buildResumeVM,
}

func lookupVMTransition(from, to domain.VMState) (vmBuilder, error) {
	b, ok := vmTransitions[transitionKey{from, to}]
	if !ok {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, domain.ErrNoTransition)
	}
	return b, nil
}

// newModel creates a model with the states and the source host of vm filled in.
func (p *Problem) newModel(kind ModelKind, vm string) *ActionModel {
	from, _ := p.model.Mapping().VMState(vm)
	return &ActionModel{
		kind:    kind,
		subject: vm,
		from:    from,
		to:      p.nextStates[vm],
		source:  p.model.Mapping().Location(vm),
	}
}

// timed posts start + duration = end with end within the horizon.
func (p *Problem) timed(a *ActionModel, duration cp.IntVar) {
	s := p.store
	a.duration = duration
	a.start = s.NewIntVar(a.subject+".start", 0, p.maxEnd)
	a.end = s.NewIntVar(a.subject+".end", 0, p.maxEnd)
	cp.Plus(a.start, a.duration, a.end)
	cp.LessEq(a.end, 0, p.end)
}

func (p *Problem) duration(kind plan.Kind, subject string) (int, error) {
	return p.durations.Evaluate(p.model, kind, subject)
}

func (p *Problem) sourceIndex(a *ActionModel) (cp.IntVar, error) {
	idx, err := p.NodeIndex(a.source)
	if err != nil {
		return cp.IntVar{}, err
	}
	return p.store.Constant(idx), nil
}

// consuming builds the slice of a VM on its current host, released when the action ends.
func (p *Problem) consuming(a *ActionModel) (*Slice, error) {
	host, err := p.sourceIndex(a)
	if err != nil {
		return nil, err
	}
	return NewSliceBuilder(p, a.subject, "cSlice").
		SetHost(host).
		SetStart(p.store.Constant(0)).
		SetEnd(a.end).
		Build()
}

// demanding builds the slice of a VM on its destination, reserved from the action start.
func (p *Problem) demanding(a *ActionModel, host cp.IntVar) (*Slice, error) {
	return NewSliceBuilder(p, a.subject, "dSlice").
		SetHost(host).
		SetStart(a.start).
		SetEnd(p.end).
		Build()
}

// =============================================================================
// VM MODELS
// =============================================================================

func buildStayAway(p *Problem, vm string) (*ActionModel, error) {
	a := p.newModel(ModelStayAway, vm)
	zero := p.store.Constant(0)
	a.start, a.end, a.duration, a.state = zero, zero, zero, zero
	return a, nil
}

func buildForgeVM(p *Problem, vm string) (*ActionModel, error) {
	a := p.newModel(ModelForgeVM, vm)
	e, err := p.model.VM(vm)
	if err != nil {
		return nil, err
	}
	tpl, ok := e.Attributes.Get(domain.AttrTemplate)
	if !ok || tpl == "" {
		return nil, fmt.Errorf("vm %s: forging requires %q: %w", vm, domain.AttrTemplate, domain.ErrMissingAttribute)
	}
	a.template = tpl
	d, err := p.duration(plan.KindForgeVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(a, p.store.Constant(d))
	a.state = p.store.Constant(0)
	return a, nil
}

func buildKillVM(p *Problem, vm string) (*ActionModel, error) {
	a := p.newModel(ModelKillVM, vm)
	d, err := p.duration(plan.KindKillVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(a, p.store.Constant(d))
	a.state = p.store.Constant(0)
	if a.from == domain.VMStateRunning {
		if a.cSlice, err = p.consuming(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func buildBootVM(p *Problem, vm string) (*ActionModel, error) {
	a := p.newModel(ModelBootVM, vm)
	d, err := p.duration(plan.KindBootVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(a, p.store.Constant(d))
	a.state = p.store.Constant(1)
	if a.dSlice, err = p.demanding(a, p.NewHostVar(vm+".dSlice.host")); err != nil {
		return nil, err
	}
	return a, nil
}

func buildResumeVM(p *Problem, vm string) (*ActionModel, error) {
	a := p.newModel(ModelResumeVM, vm)
	d, err := p.duration(plan.KindResumeVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(a, p.store.Constant(d))
	a.state = p.store.Constant(1)
	if a.dSlice, err = p.demanding(a, p.NewHostVar(vm+".dSlice.host")); err != nil {
		return nil, err
	}
	return a, nil
}

func buildShutdownVM(p *Problem, vm string) (*ActionModel, error) {
	return buildLeavingVM(p, vm, ModelShutdownVM, plan.KindShutdownVM)
}

func buildSuspendVM(p *Problem, vm string) (*ActionModel, error) {
	return buildLeavingVM(p, vm, ModelSuspendVM, plan.KindSuspendVM)
}

func buildLeavingVM(p *Problem, vm string, kind ModelKind, action plan.Kind) (*ActionModel, error) {
	a := p.newModel(kind, vm)
	d, err := p.duration(action, vm)
	if err != nil {
		return nil, err
	}
	p.timed(a, p.store.Constant(d))
	a.state = p.store.Constant(0)
	if a.cSlice, err = p.consuming(a); err != nil {
		return nil, err
	}
	return a, nil
}

func buildRunningVM(p *Problem, vm string) (*ActionModel, error) {
	if !p.IsManageable(vm) {
		return buildStayRunning(p, vm)
	}
	return buildRelocatable(p, vm)
}

// buildStayRunning keeps the VM on its host. The action lasts nothing but its moment
// stays free so that a change in resource demand can wait for room on the host.
func buildStayRunning(p *Problem, vm string) (*ActionModel, error) {
	a := p.newModel(ModelStayRunning, vm)
	s := p.store
	a.start = s.NewIntVar(vm+".start", 0, p.maxEnd)
	a.end = a.start
	a.duration = s.Constant(0)
	cp.LessEq(a.end, 0, p.end)
	a.state = s.Constant(1)
	host, err := p.sourceIndex(a)
	if err != nil {
		return nil, err
	}
	if a.cSlice, err = p.consuming(a); err != nil {
		return nil, err
	}
	if a.dSlice, err = p.demanding(a, host); err != nil {
		return nil, err
	}
	return a, nil
}

// buildRelocatable lets a running VM stay, migrate or be re-instantiated on another node.
//
// The duration ranges over {0, migrate, reinstantiate}: 0 when the VM stays, otherwise the
// cost of the chosen method. Re-instantiation forges a clone before the action starts, so
// it needs the start to leave room for the forge. A staying VM acts at 0 unless its demand
// grows.
func buildRelocatable(p *Problem, vm string) (*ActionModel, error) {
	a := p.newModel(ModelRelocatable, vm)
	s := p.store
	e, err := p.model.VM(vm)
	if err != nil {
		return nil, err
	}

	c := &a.costs
	if c.migrate, err = p.duration(plan.KindMigrateVM, vm); err != nil {
		return nil, err
	}
	tpl, hasTemplate := e.Attributes.Get(domain.AttrTemplate)
	c.reinstantiable = hasTemplate && tpl != "" && e.Attributes.Bool(domain.AttrClone)
	values := []int{0, c.migrate}
	if c.reinstantiable {
		a.template = tpl
		if c.forge, err = p.duration(plan.KindForgeVM, vm); err != nil {
			return nil, err
		}
		if c.boot, err = p.duration(plan.KindBootVM, vm); err != nil {
			return nil, err
		}
		if c.shutdown, err = p.duration(plan.KindShutdownVM, vm); err != nil {
			return nil, err
		}
		values = append(values, c.reinstantiate())
	}
	p.timed(a, s.NewEnumVar(vm+".duration", values...))
	a.state = s.Constant(1)

	if a.cSlice, err = p.consuming(a); err != nil {
		return nil, err
	}
	if a.dSlice, err = p.demanding(a, p.NewHostVar(vm+".dSlice.host")); err != nil {
		return nil, err
	}

	a.stay = s.NewBoolVar(vm + ".stay")
	cp.ReifiedEqualVars(a.stay, a.cSlice.Host, a.dSlice.Host)
	zero := s.Constant(0)
	if c.reinstantiable {
		a.method = s.NewBoolVar(vm + ".method")
		move := s.NewEnumVar(vm+".move", c.migrate, c.reinstantiate())
		cp.IfThenElse(a.method, s.Constant(c.reinstantiate()), s.Constant(c.migrate), move)
		cp.IfThenElse(a.stay, zero, move, a.duration)
		cp.ImpliesGreaterEq(a.method, a.start, c.forge)
	} else {
		a.method = zero
		cp.IfThenElse(a.stay, zero, s.Constant(c.migrate), a.duration)
	}
	if !p.grows(vm) {
		propagator.NewImpliesEqual(a.stay, a.start, 0)
	}
	return a, nil
}

// grows reports whether vm needs more of a resource once reconfigured. A VM that grows
// while staying may have to wait for room on its host.
func (p *Problem) grows(vm string) bool {
	for _, r := range p.model.Resources() {
		if r.FutureConsumption(vm) > r.Consumption(vm) {
			return true
		}
	}
	return false
}

func (c relocationCosts) reinstantiate() int {
	return c.boot + c.shutdown
}

// =============================================================================
// NODE MODELS
// =============================================================================

// buildBootableNode encodes an offline node. When it ends online it boots, and VMs can
// only arrive once the boot is over.
func buildBootableNode(p *Problem, node string) (*ActionModel, error) {
	s := p.store
	a := &ActionModel{kind: ModelBootableNode, subject: node}
	d, err := p.duration(plan.KindBootNode, node)
	if err != nil {
		return nil, err
	}
	a.state = s.NewBoolVar(node + ".state")
	p.timed(a, s.NewEnumVar(node+".duration", 0, d))
	cp.IfThenElse(a.state, s.Constant(d), s.Constant(0), a.duration)
	a.hostingStart = a.end
	a.hostingEnd = p.end
	return a, nil
}

// buildShutdownableNode encodes an online node. When it ends offline, the VMs it hosts
// must be gone before the shutdown starts.
func buildShutdownableNode(p *Problem, node string) (*ActionModel, error) {
	s := p.store
	a := &ActionModel{kind: ModelShutdownableNode, subject: node}
	d, err := p.duration(plan.KindShutdownNode, node)
	if err != nil {
		return nil, err
	}
	a.state = s.NewBoolVar(node + ".state")
	p.timed(a, s.NewEnumVar(node+".duration", 0, d))
	cp.IfThenElse(a.state, s.Constant(0), s.Constant(d), a.duration)
	a.hostingStart = s.Constant(0)
	a.hostingEnd = s.NewIntVar(node+".hostingEnd", 0, p.maxEnd)
	cp.IfThenElse(a.state, p.end, a.start, a.hostingEnd)
	if len(p.model.Mapping().SleepingVMs(node)) > 0 {
		// a sleeping image lives on the node
		if _, err := a.state.UpdateLB(1); err != nil {
			return nil, fmt.Errorf("node %s: %w", node, err)
		}
	}
	return a, nil
}
