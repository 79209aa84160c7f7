package propagator

import (
	"fmt"

	"github.com/limiquantix/planner/internal/cp"
)

// Disjoint forbids two groups of variables from sharing an assigned value.
//
// For every value and every group it keeps the number of variables that may still take
// the value and whether one of them is fixed to it.
type Disjoint struct {
	groups   [2][]cp.IntVar
	nbValues int

	candidates [2][]cp.StoredInt
	required   [2]cp.StoredBitSet
	monitors   [2][]*cp.DeltaMonitor
	fixed      [2]cp.StoredBitSet
}

// NewDisjoint posts the constraint over values [0, nbValues).
func NewDisjoint(s *cp.Store, a, b []cp.IntVar, nbValues int) (*Disjoint, error) {
	p := &Disjoint{nbValues: nbValues}
	p.groups[0] = append([]cp.IntVar(nil), a...)
	p.groups[1] = append([]cp.IntVar(nil), b...)
	for g := 0; g < 2; g++ {
		p.candidates[g] = make([]cp.StoredInt, nbValues)
		counts := make([]int, nbValues)
		for _, x := range p.groups[g] {
			if x.LB() < 0 || x.UB() >= nbValues {
				return nil, fmt.Errorf("variable %s outside [0, %d)", x.Name(), nbValues)
			}
			for _, v := range x.Values() {
				counts[v]++
			}
			p.monitors[g] = append(p.monitors[g], cp.NewDeltaMonitor(x))
		}
		for v := range counts {
			p.candidates[g][v] = s.NewStoredInt(counts[v])
		}
		p.required[g] = s.NewStoredBitSet(nbValues)
		p.fixed[g] = s.NewStoredBitSet(len(p.groups[g]))
	}
	s.Post(p)
	return p, nil
}

// Vars implements cp.Propagator.
func (p *Disjoint) Vars() []cp.IntVar {
	out := append([]cp.IntVar(nil), p.groups[0]...)
	return append(out, p.groups[1]...)
}

func (p *Disjoint) locate(pos int) (int, int) {
	if pos < len(p.groups[0]) {
		return 0, pos
	}
	return 1, pos - len(p.groups[0])
}

// OnVarChange implements cp.VarListener.
func (p *Disjoint) OnVarChange(pos int) error {
	g, i := p.locate(pos)
	return p.monitors[g][i].ForEachRemoved(func(v int) error {
		p.candidates[g][v].Add(-1)
		return nil
	})
}

// Propagate implements cp.Propagator.
func (p *Disjoint) Propagate() error {
	for changed := true; changed; {
		changed = false
		for g := 0; g < 2; g++ {
			other := 1 - g
			for i, x := range p.groups[g] {
				if p.fixed[g].Get(i) || !x.IsInstantiated() {
					continue
				}
				v := x.Value()
				if p.required[other].Get(v) {
					return cp.Fail("value %d required by both groups", v)
				}
				p.fixed[g].Set(i)
				p.required[g].Set(v)
				if p.candidates[other][v].Get() == 0 {
					continue
				}
				for _, y := range p.groups[other] {
					ok, err := y.RemoveValue(v)
					if err != nil {
						return err
					}
					changed = changed || ok
				}
			}
		}
	}
	return nil
}
