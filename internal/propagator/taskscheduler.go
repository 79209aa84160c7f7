package propagator

import (
	"fmt"
	"sort"

	"github.com/limiquantix/planner/internal/cp"
)

// TaskSchedulerInput describes the slices and capacities handed to a TaskScheduler.
// Capacities and usages are indexed by dimension first.
type TaskSchedulerInput struct {
	Dimensions []string
	Capacities [][]int

	// Per node, the moment it can start hosting demanding slices and the moment it
	// stops hosting consuming slices.
	HostingStarts []cp.IntVar
	HostingEnds   []cp.IntVar

	// Consuming slices. Their hosts must be instantiated.
	CHosts  []cp.IntVar
	CEnds   []cp.IntVar
	CUsages [][]int

	// Demanding slices.
	DHosts  []cp.IntVar
	DStarts []cp.IntVar
	DUsages [][]int

	// Associations[d] is the consuming slice of the same VM as demanding slice d, or -1.
	Associations []int

	// Exempt marks the demanding slices whose start must not be anticipated.
	Exempt []bool
}

// TaskScheduler guarantees that on every node and for every dimension, the resources
// used by the slices present at any instant never exceed the capacity. A consuming slice
// occupies [0, cEnd) on its host, a demanding slice occupies [dStart, horizon) on its
// host once the host is known.
type TaskScheduler struct {
	names      []string
	capacities [][]int

	hostingStarts []cp.IntVar
	hostingEnds   []cp.IntVar

	cHosts  []int
	cEnds   []cp.IntVar
	cUsages [][]int

	dHosts  []cp.IntVar
	dStarts []cp.IntVar
	dUsages [][]int

	assocs    []int
	revAssocs []int
	exempt    []bool

	cByNode [][]int
	dByNode [][]int

	scratch profile
}

// NewTaskScheduler validates the input and posts the propagator.
func NewTaskScheduler(s *cp.Store, in TaskSchedulerInput) (*TaskScheduler, error) {
	nbDims := len(in.Dimensions)
	nbNodes := len(in.HostingStarts)
	if len(in.Capacities) != nbDims || len(in.CUsages) != nbDims || len(in.DUsages) != nbDims {
		return nil, fmt.Errorf("expected %d dimensions for capacities and usages", nbDims)
	}
	if len(in.HostingEnds) != nbNodes {
		return nil, fmt.Errorf("%d hosting starts but %d hosting ends", nbNodes, len(in.HostingEnds))
	}
	if len(in.CEnds) != len(in.CHosts) || len(in.DStarts) != len(in.DHosts) {
		return nil, fmt.Errorf("slice hosts and times differ in length")
	}
	for d := 0; d < nbDims; d++ {
		if len(in.Capacities[d]) != nbNodes {
			return nil, fmt.Errorf("dimension %s: %d capacities for %d nodes", in.Dimensions[d], len(in.Capacities[d]), nbNodes)
		}
		if len(in.CUsages[d]) != len(in.CHosts) || len(in.DUsages[d]) != len(in.DHosts) {
			return nil, fmt.Errorf("dimension %s: usages do not match the slices", in.Dimensions[d])
		}
	}

	p := &TaskScheduler{
		names:         in.Dimensions,
		capacities:    in.Capacities,
		hostingStarts: in.HostingStarts,
		hostingEnds:   in.HostingEnds,
		cHosts:        make([]int, len(in.CHosts)),
		cEnds:         in.CEnds,
		cUsages:       in.CUsages,
		dHosts:        in.DHosts,
		dStarts:       in.DStarts,
		dUsages:       in.DUsages,
		assocs:        make([]int, len(in.DHosts)),
		revAssocs:     make([]int, len(in.CHosts)),
		exempt:        make([]bool, len(in.DHosts)),
		cByNode:       make([][]int, nbNodes),
		dByNode:       make([][]int, nbNodes),
	}
	for i, h := range in.CHosts {
		if !h.IsInstantiated() || h.Value() < 0 || h.Value() >= nbNodes {
			return nil, fmt.Errorf("consuming slice %d must be on a known node, got %s", i, h)
		}
		p.cHosts[i] = h.Value()
		p.cByNode[h.Value()] = append(p.cByNode[h.Value()], i)
		p.revAssocs[i] = -1
	}
	for j := range p.assocs {
		p.assocs[j] = -1
		if j < len(in.Associations) && in.Associations[j] >= 0 {
			c := in.Associations[j]
			if c >= len(in.CHosts) {
				return nil, fmt.Errorf("demanding slice %d associated to unknown slice %d", j, c)
			}
			p.assocs[j] = c
			p.revAssocs[c] = j
		}
		if j < len(in.Exempt) {
			p.exempt[j] = in.Exempt[j]
		}
	}
	s.Post(p)
	return p, nil
}

// Vars implements cp.Propagator.
func (p *TaskScheduler) Vars() []cp.IntVar {
	out := make([]cp.IntVar, 0, 2*len(p.hostingStarts)+len(p.cEnds)+2*len(p.dHosts))
	out = append(out, p.hostingStarts...)
	out = append(out, p.hostingEnds...)
	out = append(out, p.cEnds...)
	out = append(out, p.dHosts...)
	return append(out, p.dStarts...)
}

// Propagate runs every local scheduler until a whole pass over the nodes changes nothing.
func (p *TaskScheduler) Propagate() error {
	for {
		if err := p.pruneHosts(); err != nil {
			return err
		}
		for n := range p.dByNode {
			p.dByNode[n] = p.dByNode[n][:0]
		}
		for j, h := range p.dHosts {
			if h.IsInstantiated() {
				p.dByNode[h.Value()] = append(p.dByNode[h.Value()], j)
			}
		}
		changed := false
		for n := range p.hostingStarts {
			c, err := p.local(n)
			if err != nil {
				return err
			}
			changed = changed || c
		}
		if !changed {
			return nil
		}
	}
}

// pruneHosts removes from the candidate hosts of a demanding slice the nodes that only
// start hosting after its latest start.
func (p *TaskScheduler) pruneHosts() error {
	for j, h := range p.dHosts {
		if h.IsInstantiated() {
			continue
		}
		ub := p.dStarts[j].UB()
		for _, n := range h.Values() {
			if n < 0 || n >= len(p.hostingStarts) {
				continue
			}
			if p.hostingStarts[n].LB() > ub {
				if _, err := h.RemoveValue(n); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *TaskScheduler) local(n int) (bool, error) {
	modified := false
	for {
		changed, err := p.localPass(n)
		if err != nil {
			return modified, err
		}
		if !changed {
			return modified, nil
		}
		modified = true
	}
}

// profile holds the sorted timestamps of a node and the resulting load bounds.
type profile struct {
	times []int
	min   [][]int
	max   [][]int
}

func (pr *profile) index(t int) int {
	return sort.Search(len(pr.times), func(k int) bool { return pr.times[k] > t }) - 1
}

func (pr *profile) reset(nbDims int) {
	pr.times = pr.times[:0]
	for len(pr.min) < nbDims {
		pr.min = append(pr.min, nil)
		pr.max = append(pr.max, nil)
	}
}

func (p *TaskScheduler) associated(c int, n int) int {
	j := p.revAssocs[c]
	if j < 0 || !p.dHosts[j].IsInstantiated() || p.dHosts[j].Value() != n {
		return -1
	}
	return j
}

func (p *TaskScheduler) associatedC(j int, n int) int {
	c := p.assocs[j]
	if c < 0 || p.cHosts[c] != n {
		return -1
	}
	return c
}

func (p *TaskScheduler) hostingWindows(n int) (bool, error) {
	changed := false
	hs, he := p.hostingStarts[n], p.hostingEnds[n]
	for _, c := range p.cByNode[n] {
		ch, err := p.cEnds[c].UpdateUB(he.UB())
		if err != nil {
			return false, err
		}
		changed = changed || ch
		if ch, err = he.UpdateLB(p.cEnds[c].LB()); err != nil {
			return false, err
		}
		changed = changed || ch
	}
	for _, j := range p.dByNode[n] {
		ch, err := p.dStarts[j].UpdateLB(hs.LB())
		if err != nil {
			return false, err
		}
		changed = changed || ch
		if ch, err = hs.UpdateUB(p.dStarts[j].UB()); err != nil {
			return false, err
		}
		changed = changed || ch
	}
	return changed, nil
}

func (p *TaskScheduler) buildProfile(n int) *profile {
	pr := &p.scratch
	nbDims := len(p.names)
	pr.reset(nbDims)
	pr.times = append(pr.times, 0)
	for _, c := range p.cByNode[n] {
		pr.times = append(pr.times, p.cEnds[c].LB(), p.cEnds[c].UB())
	}
	for _, j := range p.dByNode[n] {
		pr.times = append(pr.times, p.dStarts[j].LB(), p.dStarts[j].UB())
	}
	sort.Ints(pr.times)
	uniq := pr.times[:1]
	for _, t := range pr.times[1:] {
		if t != uniq[len(uniq)-1] {
			uniq = append(uniq, t)
		}
	}
	pr.times = uniq

	size := len(pr.times)
	for d := 0; d < nbDims; d++ {
		pr.min[d] = resize(pr.min[d], size)
		pr.max[d] = resize(pr.max[d], size)
		minD, maxD := pr.min[d], pr.max[d]
		for _, c := range p.cByNode[n] {
			cu := p.cUsages[d][c]
			minD[0] += cu
			maxD[0] += cu
			release := cu
			if j := p.associated(c, n); j >= 0 {
				if du := p.dUsages[d][j]; du > cu {
					release = 0
				} else {
					release = cu - du
				}
			}
			minD[pr.index(p.cEnds[c].LB())] -= release
			maxD[pr.index(p.cEnds[c].UB())] -= release
		}
		for _, j := range p.dByNode[n] {
			du := p.dUsages[d][j]
			add := du
			if c := p.associatedC(j, n); c >= 0 {
				if cu := p.cUsages[d][c]; du > cu {
					add = du - cu
				} else {
					add = 0
				}
			}
			minD[pr.index(p.dStarts[j].UB())] += add
			maxD[pr.index(p.dStarts[j].LB())] += add
		}
		for k := 1; k < size; k++ {
			minD[k] += minD[k-1]
			maxD[k] += maxD[k-1]
		}
	}
	return pr
}

func resize(a []int, n int) []int {
	if cap(a) < n {
		return make([]int, n)
	}
	a = a[:n]
	for i := range a {
		a[i] = 0
	}
	return a
}

// overflows reports whether adding extra to the given profile at k exceeds a capacity.
func (p *TaskScheduler) overflows(loads [][]int, k int, n int, extra func(d int) int) bool {
	for d := range p.names {
		if loads[d][k]+extra(d) > p.capacities[d][n] {
			return true
		}
	}
	return false
}

func (p *TaskScheduler) localPass(n int) (bool, error) {
	changed, err := p.hostingWindows(n)
	if err != nil {
		return false, err
	}
	if len(p.cByNode[n]) == 0 && len(p.dByNode[n]) == 0 {
		return changed, nil
	}
	pr := p.buildProfile(n)
	none := func(int) int { return 0 }
	for k, t := range pr.times {
		if p.overflows(pr.min, k, n, none) {
			return false, cp.Fail("node %d overloaded at time %d", n, t)
		}
	}

	// a consuming slice still present where the guaranteed load leaves no room for it must
	// have left before.
	for _, c := range p.cByNode[n] {
		end := p.cEnds[c]
		if end.IsInstantiated() {
			continue
		}
		j := p.associated(c, n)
		extra := func(d int) int {
			cu := p.cUsages[d][c]
			if j < 0 {
				return cu
			}
			if du := p.dUsages[d][j]; du <= cu {
				return cu - du
			}
			return 0
		}
		ub := end.UB()
		for k := pr.index(end.LB()); k >= 0 && k < len(pr.times) && pr.times[k] < ub; k++ {
			if p.overflows(pr.min, k, n, extra) {
				ch, err := end.UpdateUB(pr.times[k])
				if err != nil {
					return false, err
				}
				changed = changed || ch
				break
			}
		}
	}

	// a demanding slice cannot arrive before the last period that would overflow with it.
	for _, j := range p.dByNode[n] {
		start := p.dStarts[j]
		if start.IsInstantiated() {
			continue
		}
		c := p.associatedC(j, n)
		extra := func(d int) int {
			du := p.dUsages[d][j]
			if c < 0 {
				return du
			}
			if cu := p.cUsages[d][c]; du > cu {
				return du - cu
			}
			return 0
		}
		lb, ub := start.LB(), start.UB()
		last := -1
		for k := pr.index(lb); k >= 0 && k+1 < len(pr.times) && pr.times[k] < ub; k++ {
			if p.overflows(pr.min, k, n, extra) {
				last = k
			}
		}
		if last >= 0 {
			ch, err := start.UpdateLB(pr.times[last+1])
			if err != nil {
				return false, err
			}
			changed = changed || ch
		}
	}

	ch, err := p.anticipate(n, pr)
	if err != nil {
		return false, err
	}
	return changed || ch, nil
}

// anticipate lowers the latest start of the demanding slices of n to the moment from which
// the worst-case load always fits.
func (p *TaskScheduler) anticipate(n int, pr *profile) (bool, error) {
	if !p.hostingStarts[n].IsInstantiated() {
		return false, nil
	}
	none := func(int) int { return 0 }
	first := len(pr.times)
	for k := len(pr.times) - 1; k >= 0; k-- {
		if p.overflows(pr.max, k, n, none) {
			break
		}
		first = k
	}
	if first == len(pr.times) {
		return false, nil
	}
	lastSup := pr.times[first]
	changed := false
	for _, j := range p.dByNode[n] {
		start := p.dStarts[j]
		if p.exempt[j] || start.IsInstantiated() {
			continue
		}
		ub := lastSup
		if start.LB() > ub {
			ub = start.LB()
		}
		ch, err := start.UpdateUB(ub)
		if err != nil {
			return false, err
		}
		changed = changed || ch
	}
	return changed, nil
}
