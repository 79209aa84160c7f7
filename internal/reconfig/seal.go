package reconfig

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/propagator"
)

// Seal posts the resource propagators and the objective. No constraint can be injected
// afterwards. With deferObjective, the objective sum stays idle until ActivateObjective.
func (p *Problem) Seal(deferObjective bool) error {
	if p.sealed {
		return fmt.Errorf("problem already sealed: %w", domain.ErrConflict)
	}
	p.sealed = true
	if len(p.dims) > 0 {
		if err := p.postScheduler(); err != nil {
			return err
		}
		if err := p.postBinPacking(); err != nil {
			return err
		}
	}
	p.postObjective(deferObjective)
	return nil
}

func (p *Problem) resources() []*domain.ShareableResource {
	out := make([]*domain.ShareableResource, len(p.dims))
	for d, name := range p.dims {
		out[d], _ = p.model.Resource(name)
	}
	return out
}

func (p *Problem) postScheduler() error {
	res := p.resources()
	in := propagator.TaskSchedulerInput{
		Dimensions: p.Dimensions(),
		Capacities: make([][]int, len(res)),
		CUsages:    make([][]int, len(res)),
		DUsages:    make([][]int, len(res)),
	}
	for d, r := range res {
		in.Capacities[d] = make([]int, len(p.nodes))
		for i, n := range p.nodes {
			in.Capacities[d][i] = r.Capacity(n)
		}
	}
	for _, a := range p.nodeActions {
		in.HostingStarts = append(in.HostingStarts, a.hostingStart)
		in.HostingEnds = append(in.HostingEnds, a.hostingEnd)
	}
	for _, a := range p.vmActions {
		cIdx := -1
		if a.cSlice != nil {
			cIdx = len(in.CHosts)
			in.CHosts = append(in.CHosts, a.cSlice.Host)
			in.CEnds = append(in.CEnds, a.cSlice.End)
			for d, r := range res {
				in.CUsages[d] = append(in.CUsages[d], r.Consumption(a.subject))
			}
		}
		if a.dSlice != nil {
			in.DHosts = append(in.DHosts, a.dSlice.Host)
			in.DStarts = append(in.DStarts, a.dSlice.Start)
			in.Associations = append(in.Associations, cIdx)
			in.Exempt = append(in.Exempt, p.exempt[a.subject])
			for d, r := range res {
				in.DUsages[d] = append(in.DUsages[d], r.FutureConsumption(a.subject))
			}
		}
	}
	if _, err := propagator.NewTaskScheduler(p.store, in); err != nil {
		return fmt.Errorf("failed to post the task scheduler: %w", err)
	}
	return nil
}

func (p *Problem) postBinPacking() error {
	res := p.resources()
	hosts := p.DSliceHosts()
	sizes := make([][]int, len(res))
	for d, r := range res {
		for _, a := range p.vmActions {
			if a.dSlice != nil {
				sizes[d] = append(sizes[d], r.FutureConsumption(a.subject))
			}
		}
		if sizes[d] == nil {
			sizes[d] = []int{}
		}
	}
	if _, err := propagator.NewBinPacking(p.store, p.Dimensions(), p.loads, sizes, hosts); err != nil {
		return fmt.Errorf("failed to post the bin packing: %w", err)
	}
	return nil
}

// postObjective minimizes the sum of the end times of the actions that may last.
func (p *Problem) postObjective(deferred bool) {
	var ends []cp.IntVar
	for _, a := range p.allActions() {
		if !a.IsTrivial() {
			ends = append(ends, a.end)
		}
	}
	if len(ends) == 0 {
		p.objective = p.store.Constant(0)
	} else {
		p.objective = p.store.NewIntVar("objective", 0, p.maxEnd*len(ends))
		p.objectiveSum = cp.NewLinearSum(ends, nil, p.objective, deferred)
	}
	all := make([]cp.IntVar, 0, len(p.vmActions)+len(p.nodeActions))
	for _, a := range p.allActions() {
		all = append(all, a.end)
	}
	// the horizon ends with the last action
	cp.Maximum(p.end, all)
	p.logger.Debug("objective posted", zap.Int("terms", len(ends)), zap.Bool("deferred", deferred))
}

// ActivateObjective turns a deferred objective on.
func (p *Problem) ActivateObjective() {
	if p.objectiveSum != nil {
		p.objectiveSum.Activate()
	}
}

// LatchObjective turns the objective on for the rest of the search, so the bound of the
// best solution prunes the earlier phases too.
func (p *Problem) LatchObjective() {
	if p.objectiveSum != nil {
		p.objectiveSum.Latch()
	}
}

func (p *Problem) allActions() []*ActionModel {
	out := append([]*ActionModel(nil), p.vmActions...)
	return append(out, p.nodeActions...)
}

// DecisionVars returns every variable a complete assignment must fix.
func (p *Problem) DecisionVars() []cp.IntVar {
	var out []cp.IntVar
	for _, a := range p.allActions() {
		out = append(out, a.start, a.end, a.duration, a.state)
		if a.stay.Valid() {
			out = append(out, a.stay, a.method)
		}
		if a.dSlice != nil {
			out = append(out, a.dSlice.Host, a.dSlice.Duration)
		}
		if a.cSlice != nil {
			out = append(out, a.cSlice.Duration)
		}
		if a.hostingEnd.Valid() {
			out = append(out, a.hostingEnd)
		}
	}
	out = append(out, p.counts...)
	out = append(out, p.offlines...)
	for _, l := range p.loads {
		out = append(out, l...)
	}
	out = append(out, p.end)
	if p.objective.Valid() {
		out = append(out, p.objective)
	}
	return out
}
