package heuristic

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/reconfig"
)

// weigher normalizes resource quantities against the capacity of the nodes.
type weigher struct {
	p         *reconfig.Problem
	resources []*domain.ShareableResource
	loads     [][]cp.IntVar
	// inverse of the total capacity per dimension
	invTotals []float64
}

func newWeigher(p *reconfig.Problem) *weigher {
	w := &weigher{p: p}
	for d, name := range p.Dimensions() {
		r, _ := p.Model().Resource(name)
		w.resources = append(w.resources, r)
		w.loads = append(w.loads, p.Loads(d))
		total := 0
		for _, n := range p.Nodes() {
			total += r.Capacity(n)
		}
		inv := 0.0
		if total > 0 {
			inv = 1 / float64(total)
		}
		w.invTotals = append(w.invTotals, inv)
	}
	return w
}

func (w *weigher) usage(vm string) []float64 {
	out := make([]float64, len(w.resources))
	for d, r := range w.resources {
		out[d] = float64(r.FutureConsumption(vm))
	}
	return out
}

// weight is the share of the cluster capacity vm needs, summed over the dimensions.
func (w *weigher) weight(vm string) float64 {
	if len(w.resources) == 0 {
		return 0
	}
	return floats.Dot(w.usage(vm), w.invTotals)
}

// fits reports whether vm can be added to node without exceeding the load bounds.
func (w *weigher) fits(vm string, node int) bool {
	for d, r := range w.resources {
		l := w.loads[d][node]
		if l.LB()+r.FutureConsumption(vm) > l.UB() {
			return false
		}
	}
	return true
}

// score is the normalized load of the most used dimension of node once vm is added.
func (w *weigher) score(vm string, node int) float64 {
	if len(w.resources) == 0 {
		return 0
	}
	name := w.p.Node(node)
	ratios := make([]float64, len(w.resources))
	for d, r := range w.resources {
		used := float64(w.loads[d][node].LB() + r.FutureConsumption(vm))
		capacity := float64(r.Capacity(name))
		switch {
		case capacity > 0:
			ratios[d] = used / capacity
		case used > 0:
			ratios[d] = math.Inf(1)
		}
	}
	return floats.Max(ratios)
}

// ranked returns the values of x by increasing score, ties broken by node index.
func (w *weigher) ranked(vm string, x cp.IntVar) []int {
	vals := x.Values()
	scores := make(map[int]float64, len(vals))
	for _, v := range vals {
		scores[v] = w.score(vm, v)
	}
	sort.SliceStable(vals, func(i, j int) bool {
		return scores[vals[i]] < scores[vals[j]]
	})
	return vals
}

// placementSelector keeps a VM on its current node when it still fits there, and
// otherwise applies the configured placement strategy.
func (h *Heuristic) placementSelector() cp.ValueSelector {
	w := newWeigher(h.p)
	owners := make(map[cp.IntVar]*reconfig.ActionModel)
	for _, a := range h.p.VMActions() {
		if a.DSlice() != nil {
			owners[a.DSlice().Host] = a
		}
	}
	return func(x cp.IntVar) int {
		a, ok := owners[x]
		if !ok {
			return x.LB()
		}
		vm := a.Subject()
		if cs := a.CSlice(); cs != nil {
			if src := cs.Host.Value(); x.Contains(src) && w.fits(vm, src) {
				return src
			}
		}
		switch h.opts.Placement {
		case PlacementRandom:
			vals := x.Values()
			return vals[h.opts.Rand.Intn(len(vals))]
		case PlacementQuartile:
			vals := w.ranked(vm, x)
			k := max(1, (len(vals)+3)/4)
			return vals[h.opts.Rand.Intn(k)]
		default:
			return w.ranked(vm, x)[0]
		}
	}
}
