package cp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IntVar is a handle on a finite-domain integer variable of a Store.
type IntVar struct {
	s  *Store
	id int
}

// Valid reports whether the handle refers to a variable.
func (x IntVar) Valid() bool {
	return x.s != nil
}

// ID returns the dense index of the variable in its store.
func (x IntVar) ID() int {
	return x.id
}

// Store returns the owning store.
func (x IntVar) Store() *Store {
	return x.s
}

// Name returns the variable label.
func (x IntVar) Name() string {
	return x.s.vars[x.id].name
}

func (x IntVar) rec() *varRecord {
	return &x.s.vars[x.id]
}

// LB returns the lower bound.
func (x IntVar) LB() int {
	return x.s.cells[x.s.vars[x.id].lb]
}

// UB returns the upper bound.
func (x IntVar) UB() int {
	return x.s.cells[x.s.vars[x.id].ub]
}

// Size returns the number of values in the domain.
func (x IntVar) Size() int {
	r := x.rec()
	if r.enumerated() {
		return x.s.cells[r.size]
	}
	return x.s.cells[r.ub] - x.s.cells[r.lb] + 1
}

// IsInstantiated reports whether the domain is a singleton.
func (x IntVar) IsInstantiated() bool {
	return x.LB() == x.UB()
}

// Value returns the value of an instantiated variable, the lower bound otherwise.
func (x IntVar) Value() int {
	return x.LB()
}

// IsEnumerated reports whether the domain can hold holes.
func (x IntVar) IsEnumerated() bool {
	return x.rec().enumerated()
}

// Contains reports whether v belongs to the domain.
func (x IntVar) Contains(v int) bool {
	r := x.rec()
	if v < x.s.cells[r.lb] || v > x.s.cells[r.ub] {
		return false
	}
	if !r.enumerated() {
		return true
	}
	i := v - r.base
	return x.s.words[r.words+i>>6]&(1<<uint(i&63)) != 0
}

// NextValue returns the smallest domain value strictly greater than v, or math.MaxInt.
func (x IntVar) NextValue(v int) int {
	lb, ub := x.LB(), x.UB()
	if v < lb {
		return lb
	}
	if v >= ub {
		return math.MaxInt
	}
	r := x.rec()
	if !r.enumerated() {
		return v + 1
	}
	if n, ok := x.s.nextSet(r, v+1); ok {
		return n
	}
	return math.MaxInt
}

// PreviousValue returns the largest domain value strictly lower than v, or math.MinInt.
func (x IntVar) PreviousValue(v int) int {
	lb, ub := x.LB(), x.UB()
	if v > ub {
		return ub
	}
	if v <= lb {
		return math.MinInt
	}
	r := x.rec()
	if !r.enumerated() {
		return v - 1
	}
	if p, ok := x.s.prevSet(r, v-1); ok {
		return p
	}
	return math.MinInt
}

// Values lists the domain in increasing order.
func (x IntVar) Values() []int {
	out := make([]int, 0, x.Size())
	ub := x.UB()
	for v := x.LB(); v <= ub; v = x.NextValue(v) {
		out = append(out, v)
	}
	return out
}

func (x IntVar) notify() {
	x.s.notify(x.id)
}

// UpdateLB raises the lower bound to v.
func (x IntVar) UpdateLB(v int) (bool, error) {
	r := x.rec()
	lb, ub := x.s.cells[r.lb], x.s.cells[r.ub]
	if v <= lb {
		return false, nil
	}
	if v > ub {
		return false, Fail("%s: lower bound %d above %d", r.name, v, ub)
	}
	if r.enumerated() {
		removed := x.s.clearRange(r, lb, v-1)
		nlb, _ := x.s.nextSet(r, v)
		x.s.setCell(r.size, x.s.cells[r.size]-removed)
		x.s.setCell(r.lb, nlb)
	} else {
		x.s.setCell(r.lb, v)
	}
	x.notify()
	return true, nil
}

// UpdateUB lowers the upper bound to v.
func (x IntVar) UpdateUB(v int) (bool, error) {
	r := x.rec()
	lb, ub := x.s.cells[r.lb], x.s.cells[r.ub]
	if v >= ub {
		return false, nil
	}
	if v < lb {
		return false, Fail("%s: upper bound %d below %d", r.name, v, lb)
	}
	if r.enumerated() {
		removed := x.s.clearRange(r, v+1, ub)
		nub, _ := x.s.prevSet(r, v)
		x.s.setCell(r.size, x.s.cells[r.size]-removed)
		x.s.setCell(r.ub, nub)
	} else {
		x.s.setCell(r.ub, v)
	}
	x.notify()
	return true, nil
}

// UpdateBounds narrows the domain to [lb, ub].
func (x IntVar) UpdateBounds(lb, ub int) (bool, error) {
	a, err := x.UpdateLB(lb)
	if err != nil {
		return false, err
	}
	b, err := x.UpdateUB(ub)
	return a || b, err
}

// Instantiate reduces the domain to v.
func (x IntVar) Instantiate(v int) (bool, error) {
	if !x.Contains(v) {
		return false, Fail("%s: %d not in %s", x.Name(), v, x.domainString())
	}
	r := x.rec()
	lb, ub := x.s.cells[r.lb], x.s.cells[r.ub]
	if lb == ub {
		return false, nil
	}
	if r.enumerated() {
		if v > lb {
			x.s.clearRange(r, lb, v-1)
		}
		if v < ub {
			x.s.clearRange(r, v+1, ub)
		}
		x.s.setCell(r.size, 1)
	}
	x.s.setCell(r.lb, v)
	x.s.setCell(r.ub, v)
	x.notify()
	return true, nil
}

// RemoveValue removes v from the domain. Interior values of bounded domains are kept.
func (x IntVar) RemoveValue(v int) (bool, error) {
	if !x.Contains(v) {
		return false, nil
	}
	r := x.rec()
	lb, ub := x.s.cells[r.lb], x.s.cells[r.ub]
	if lb == ub {
		return false, Fail("%s: cannot remove its only value %d", r.name, v)
	}
	if v == lb {
		return x.UpdateLB(v + 1)
	}
	if v == ub {
		return x.UpdateUB(v - 1)
	}
	if !r.enumerated() {
		return false, nil
	}
	x.s.clearRange(r, v, v)
	x.s.setCell(r.size, x.s.cells[r.size]-1)
	x.notify()
	return true, nil
}

func (x IntVar) domainString() string {
	if x.IsInstantiated() {
		return strconv.Itoa(x.LB())
	}
	if !x.IsEnumerated() || x.Size() > 16 {
		return fmt.Sprintf("[%d,%d]", x.LB(), x.UB())
	}
	vals := x.Values()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// String renders the variable with its current domain.
func (x IntVar) String() string {
	if !x.Valid() {
		return "<nil>"
	}
	return x.Name() + " = " + x.domainString()
}
