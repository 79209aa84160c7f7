package heuristic

import (
	"sort"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/reconfig"
)

// generation identifies the placement decisions a movement graph was computed from.
type generation struct {
	epoch      int
	placements int
}

// movementGraph lists, per node, the VMs arriving on it and the ends of the slices
// leaving it. It only depends on the placement, so it is cached until a placement decision
// is taken or the search backtracks.
type movementGraph struct {
	p     *reconfig.Problem
	valid bool
	gen   generation

	incoming map[int][]*reconfig.ActionModel
	outgoing map[int][]cp.IntVar
}

func newMovementGraph(p *reconfig.Problem) *movementGraph {
	return &movementGraph{p: p}
}

func (g *movementGraph) refresh(gen generation) {
	if g.valid && g.gen == gen {
		return
	}
	g.incoming = make(map[int][]*reconfig.ActionModel)
	g.outgoing = make(map[int][]cp.IntVar)
	for _, a := range g.p.VMActions() {
		cs, ds := a.CSlice(), a.DSlice()
		if ds != nil && !ds.Host.IsInstantiated() {
			continue
		}
		switch {
		case cs != nil && ds != nil:
			if cs.Host.Value() == ds.Host.Value() {
				continue
			}
			g.outgoing[cs.Host.Value()] = append(g.outgoing[cs.Host.Value()], cs.End)
			g.incoming[ds.Host.Value()] = append(g.incoming[ds.Host.Value()], a)
		case cs != nil:
			g.outgoing[cs.Host.Value()] = append(g.outgoing[cs.Host.Value()], cs.End)
		case ds != nil:
			g.incoming[ds.Host.Value()] = append(g.incoming[ds.Host.Value()], a)
		}
	}
	g.gen, g.valid = gen, true
}

// settled reports whether every departure from node is scheduled.
func (g *movementGraph) settled(node int) bool {
	for _, end := range g.outgoing[node] {
		if !end.IsInstantiated() {
			return false
		}
	}
	return true
}

// nextStart schedules the arrivals on nodes with no pending departure first, then the
// earliest remaining start.
func (h *Heuristic) nextStart(s *cp.Store) (cp.Decision, bool) {
	h.graph.refresh(generation{epoch: s.Epoch(), placements: h.placements})
	for _, node := range sortedKeys(h.graph.incoming) {
		if !h.graph.settled(node) {
			continue
		}
		for _, a := range h.graph.incoming[node] {
			if st := a.Start(); !st.IsInstantiated() {
				return cp.Assign(st, st.LB()), true
			}
		}
	}
	var starts []cp.IntVar
	for _, a := range h.p.VMActions() {
		starts = append(starts, a.Start())
	}
	for _, a := range h.p.NodeActions() {
		starts = append(starts, a.Start())
	}
	i := cp.SmallestLB(starts)
	if i < 0 {
		return cp.Decision{}, false
	}
	return cp.Assign(starts[i], starts[i].LB()), true
}

func sortedKeys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
