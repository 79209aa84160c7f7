package cp

import "math/rand"

// VarSelector picks the index of the next variable to branch on among the
// uninstantiated ones, or -1.
type VarSelector func(vars []IntVar) int

// ValueSelector picks the value to try first for x.
type ValueSelector func(x IntVar) int

// InputOrder picks the first uninstantiated variable.
func InputOrder(vars []IntVar) int {
	for i, x := range vars {
		if !x.IsInstantiated() {
			return i
		}
	}
	return -1
}

// FirstFail picks the uninstantiated variable with the smallest domain.
func FirstFail(vars []IntVar) int {
	best, size := -1, 0
	for i, x := range vars {
		if x.IsInstantiated() {
			continue
		}
		if best < 0 || x.Size() < size {
			best, size = i, x.Size()
		}
	}
	return best
}

// SmallestLB picks the uninstantiated variable with the smallest lower bound.
func SmallestLB(vars []IntVar) int {
	best := -1
	for i, x := range vars {
		if x.IsInstantiated() {
			continue
		}
		if best < 0 || x.LB() < vars[best].LB() {
			best = i
		}
	}
	return best
}

// MinValue selects the lower bound.
func MinValue(x IntVar) int {
	return x.LB()
}

// MaxValue selects the upper bound.
func MaxValue(x IntVar) int {
	return x.UB()
}

// RandomValue selects a uniformly drawn domain value.
func RandomValue(rnd *rand.Rand) ValueSelector {
	return func(x IntVar) int {
		if !x.IsEnumerated() {
			if rnd.Intn(2) == 0 {
				return x.LB()
			}
			return x.UB()
		}
		vals := x.Values()
		return vals[rnd.Intn(len(vals))]
	}
}

// IntStrategy assigns a fixed set of variables.
type IntStrategy struct {
	Vars  []IntVar
	Var   VarSelector
	Value ValueSelector
}

// NewIntStrategy builds a strategy. Nil selectors default to input order and min value.
func NewIntStrategy(vars []IntVar, vs VarSelector, val ValueSelector) *IntStrategy {
	if vs == nil {
		vs = InputOrder
	}
	if val == nil {
		val = MinValue
	}
	return &IntStrategy{Vars: vars, Var: vs, Value: val}
}

// Next implements Strategy.
func (st *IntStrategy) Next(*Store) (Decision, bool) {
	i := st.Var(st.Vars)
	if i < 0 {
		return Decision{}, false
	}
	x := st.Vars[i]
	return Assign(x, st.Value(x)), true
}

type sequence []Strategy

// Sequence chains strategies: the first one with a decision to make wins.
func Sequence(strategies ...Strategy) Strategy {
	return sequence(strategies)
}

func (sq sequence) Next(s *Store) (Decision, bool) {
	for _, st := range sq {
		if d, ok := st.Next(s); ok {
			return d, true
		}
	}
	return Decision{}, false
}
