package propagator

import (
	"fmt"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/limiquantix/planner/internal/cp"
)

// BinPacking maintains, for several resource dimensions, the consistency between the bin
// of every item and the load of every bin:
//
//	load[d][b] = sum(size[d][i] for i in items with bin[i] = b)
//	sum(load[d]) = sum(size[d])
//
// Per bin it keeps loadInf, the size of the items fixed to it, and loadSup, the size of
// the items that may still go to it. Both are updated incrementally from the removals
// reported on the item variables.
type BinPacking struct {
	s     *cp.Store
	names []string
	loads [][]cp.IntVar
	sizes [][]int
	bins  []cp.IntVar

	totals   []int
	loadInf  [][]cp.StoredInt
	loadSup  [][]cp.StoredInt
	assigned cp.StoredBitSet
	monitors []*cp.DeltaMonitor
}

// NewBinPacking posts the constraint. loads is indexed by dimension then bin, sizes by
// dimension then item. Item variables must range over bin indices.
func NewBinPacking(s *cp.Store, names []string, loads [][]cp.IntVar, sizes [][]int, bins []cp.IntVar) (*BinPacking, error) {
	if len(loads) != len(sizes) {
		return nil, fmt.Errorf("%d load dimensions for %d size dimensions", len(loads), len(sizes))
	}
	if len(names) != len(loads) {
		return nil, fmt.Errorf("%d names for %d dimensions", len(names), len(loads))
	}
	nbBins := 0
	if len(loads) > 0 {
		nbBins = len(loads[0])
	}
	for d := range loads {
		if len(loads[d]) != nbBins {
			return nil, fmt.Errorf("dimension %s: %d bins, expected %d", names[d], len(loads[d]), nbBins)
		}
		if len(sizes[d]) != len(bins) {
			return nil, fmt.Errorf("dimension %s: %d sizes for %d items", names[d], len(sizes[d]), len(bins))
		}
	}
	for _, b := range bins {
		if b.LB() < 0 || b.UB() >= nbBins {
			return nil, fmt.Errorf("item %s ranges outside [0, %d)", b.Name(), nbBins)
		}
	}

	p := &BinPacking{
		s:        s,
		names:    names,
		loads:    loads,
		sizes:    sizes,
		bins:     append([]cp.IntVar(nil), bins...),
		totals:   make([]int, len(loads)),
		loadInf:  make([][]cp.StoredInt, len(loads)),
		loadSup:  make([][]cp.StoredInt, len(loads)),
		assigned: s.NewStoredBitSet(len(bins)),
	}
	for d := range loads {
		inf := make([]int, nbBins)
		sup := make([]int, nbBins)
		for i, b := range bins {
			p.totals[d] += sizes[d][i]
			for _, v := range b.Values() {
				sup[v] += sizes[d][i]
			}
			if b.IsInstantiated() {
				inf[b.Value()] += sizes[d][i]
			}
		}
		p.loadInf[d] = make([]cp.StoredInt, nbBins)
		p.loadSup[d] = make([]cp.StoredInt, nbBins)
		for j := 0; j < nbBins; j++ {
			p.loadInf[d][j] = s.NewStoredInt(inf[j])
			p.loadSup[d][j] = s.NewStoredInt(sup[j])
		}
	}
	for i, b := range bins {
		if b.IsInstantiated() {
			p.assigned.Set(i)
		}
		p.monitors = append(p.monitors, cp.NewDeltaMonitor(b))
	}
	s.Post(p)
	return p, nil
}

// Vars implements cp.Propagator. Items come first, then the loads dimension by dimension.
func (p *BinPacking) Vars() []cp.IntVar {
	out := append([]cp.IntVar(nil), p.bins...)
	for _, l := range p.loads {
		out = append(out, l...)
	}
	return out
}

// OnVarChange implements cp.VarListener.
func (p *BinPacking) OnVarChange(pos int) error {
	if pos >= len(p.bins) {
		return nil
	}
	item := p.bins[pos]
	err := p.monitors[pos].ForEachRemoved(func(bin int) error {
		for d := range p.loads {
			p.loadSup[d][bin].Add(-p.sizes[d][pos])
		}
		return nil
	})
	if err != nil {
		return err
	}
	if item.IsInstantiated() && !p.assigned.Get(pos) {
		p.assigned.Set(pos)
		bin := item.Value()
		for d := range p.loads {
			p.loadInf[d][bin].Add(p.sizes[d][pos])
		}
	}
	return nil
}

// LoadInf returns the size of the items already fixed to bin.
func (p *BinPacking) LoadInf(dim, bin int) int {
	return p.loadInf[dim][bin].Get()
}

// LoadSup returns the size of the items that may go to bin.
func (p *BinPacking) LoadSup(dim, bin int) int {
	return p.loadSup[dim][bin].Get()
}

// Propagate implements cp.Propagator.
func (p *BinPacking) Propagate() error {
	for d := range p.loads {
		if err := p.checkTotals(d); err != nil {
			return err
		}
		if err := p.filterLoads(d); err != nil {
			return err
		}
		if err := p.filterItems(d); err != nil {
			return err
		}
	}
	return nil
}

func (p *BinPacking) checkTotals(d int) error {
	sumInf, sumSup := 0, 0
	for j := range p.loads[d] {
		sumInf += p.loadInf[d][j].Get()
		sumSup += p.loadSup[d][j].Get()
	}
	if p.totals[d] < sumInf {
		return cp.Fail("%s: fixed items need %d, only %d to place", p.names[d], sumInf, p.totals[d])
	}
	if p.totals[d] > sumSup {
		return cp.Fail("%s: %d to place, bins can only receive %d", p.names[d], p.totals[d], sumSup)
	}
	return nil
}

// filterLoads narrows every load to [loadInf, loadSup] and to what the other loads leave
// of the total.
func (p *BinPacking) filterLoads(d int) error {
	loads := p.loads[d]
	for changed := true; changed; {
		changed = false
		sumLB, sumUB := 0, 0
		for j, l := range loads {
			c, err := l.UpdateBounds(p.loadInf[d][j].Get(), p.loadSup[d][j].Get())
			if err != nil {
				return err
			}
			changed = changed || c
			sumLB += l.LB()
			sumUB += l.UB()
		}
		if sumLB > p.totals[d] || sumUB < p.totals[d] {
			return cp.Fail("%s: loads in [%d, %d] cannot sum to %d", p.names[d], sumLB, sumUB, p.totals[d])
		}
		for _, l := range loads {
			lb, ub := l.LB(), l.UB()
			c, err := l.UpdateBounds(p.totals[d]-(sumUB-ub), p.totals[d]-(sumLB-lb))
			if err != nil {
				return err
			}
			if c {
				changed = true
				sumLB += l.LB() - lb
				sumUB += l.UB() - ub
			}
		}
	}
	return nil
}

type binSlack struct {
	bin   int
	slack int
}

func bySlack(a, b interface{}) int {
	x, y := a.(binSlack), b.(binSlack)
	switch {
	case x.slack < y.slack:
		return -1
	case x.slack > y.slack:
		return 1
	default:
		return x.bin - y.bin
	}
}

// filterItems removes a bin from the domain of every unassigned item that no longer fits
// in it. Bins are visited by increasing slack and the scan stops at the first bin able to
// receive the largest unassigned item.
func (p *BinPacking) filterItems(d int) error {
	maxSize := 0
	for i := range p.bins {
		if !p.assigned.Get(i) && !p.bins[i].IsInstantiated() && p.sizes[d][i] > maxSize {
			maxSize = p.sizes[d][i]
		}
	}
	if maxSize == 0 {
		return nil
	}
	queue := binaryheap.NewWith(bySlack)
	for j, l := range p.loads[d] {
		queue.Push(binSlack{bin: j, slack: l.UB() - p.loadInf[d][j].Get()})
	}
	for !queue.Empty() {
		v, _ := queue.Pop()
		bs := v.(binSlack)
		if bs.slack >= maxSize {
			break
		}
		for i, item := range p.bins {
			if item.IsInstantiated() || p.sizes[d][i] <= bs.slack || !item.Contains(bs.bin) {
				continue
			}
			if _, err := item.RemoveValue(bs.bin); err != nil {
				return err
			}
		}
	}
	return nil
}
