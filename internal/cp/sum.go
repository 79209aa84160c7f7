package cp

// LinearSum enforces sum(coeffs[i] * vars[i]) = z on bounds.
//
// A gated sum stays idle until Activate is called. The activation flag is trailed, so
// backtracking above the activation point disables the sum again, unless the sum was
// latched with Latch.
type LinearSum struct {
	vars   []IntVar
	coeffs []int
	z      IntVar

	gated   bool
	active  StoredInt
	latched bool
	id      PropID
}

// NewLinearSum posts sum(coeffs[i] * vars[i]) = z. A nil coeffs means all ones.
func NewLinearSum(vars []IntVar, coeffs []int, z IntVar, gated bool) *LinearSum {
	if coeffs == nil {
		coeffs = make([]int, len(vars))
		for i := range coeffs {
			coeffs[i] = 1
		}
	}
	s := z.s
	ls := &LinearSum{
		vars:   append([]IntVar(nil), vars...),
		coeffs: append([]int(nil), coeffs...),
		z:      z,
		gated:  gated,
		active: s.NewStoredInt(0),
	}
	if !gated {
		ls.active.Set(1)
	}
	ls.id = s.Post(ls)
	return ls
}

// Activate turns a gated sum on and schedules it.
func (p *LinearSum) Activate() {
	if p.active.Get() == 1 {
		return
	}
	p.active.Set(1)
	p.z.s.Schedule(p.id)
}

// Latch activates the sum for good: backtracking no longer disables it.
func (p *LinearSum) Latch() {
	if p.latched {
		return
	}
	p.latched = true
	p.z.s.Schedule(p.id)
}

// Active reports whether the sum filters.
func (p *LinearSum) Active() bool {
	return p.latched || p.active.Get() == 1
}

// Vars implements Propagator.
func (p *LinearSum) Vars() []IntVar {
	return append(append([]IntVar(nil), p.vars...), p.z)
}

func termBounds(x IntVar, c int) (int, int) {
	if c >= 0 {
		return c * x.LB(), c * x.UB()
	}
	return c * x.UB(), c * x.LB()
}

// Propagate implements Propagator.
func (p *LinearSum) Propagate() error {
	if !p.Active() {
		return nil
	}
	for {
		lo, hi := 0, 0
		for i, x := range p.vars {
			a, b := termBounds(x, p.coeffs[i])
			lo += a
			hi += b
		}
		changed, err := p.z.UpdateBounds(lo, hi)
		if err != nil {
			return err
		}
		zlb, zub := p.z.LB(), p.z.UB()
		for i, x := range p.vars {
			c := p.coeffs[i]
			if c == 0 {
				continue
			}
			a, b := termBounds(x, c)
			// bounds of c*x given the other terms
			tlo, thi := zlb-(hi-b), zub-(lo-a)
			var xlb, xub int
			if c > 0 {
				xlb, xub = ceilDiv(tlo, c), floorDiv(thi, c)
			} else {
				xlb, xub = ceilDiv(thi, c), floorDiv(tlo, c)
			}
			ch, err := x.UpdateBounds(xlb, xub)
			if err != nil {
				return err
			}
			if ch {
				changed = true
				na, nb := termBounds(x, c)
				lo += na - a
				hi += nb - b
			}
		}
		if !changed {
			return nil
		}
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}

// count enforces n = |{i : vars[i] = value}|.
type count struct {
	vars  []IntVar
	value int
	n     IntVar
}

// Count posts n = number of vars equal to value.
func Count(vars []IntVar, value int, n IntVar) PropID {
	return n.s.Post(&count{vars: append([]IntVar(nil), vars...), value: value, n: n})
}

func (p *count) Vars() []IntVar {
	return append(append([]IntVar(nil), p.vars...), p.n)
}

func (p *count) Propagate() error {
	sure, possible := 0, 0
	for _, x := range p.vars {
		if !x.Contains(p.value) {
			continue
		}
		possible++
		if x.IsInstantiated() {
			sure++
		}
	}
	if _, err := p.n.UpdateBounds(sure, possible); err != nil {
		return err
	}
	switch {
	case p.n.UB() == sure && possible > sure:
		for _, x := range p.vars {
			if !x.IsInstantiated() {
				if _, err := x.RemoveValue(p.value); err != nil {
					return err
				}
			}
		}
	case p.n.LB() == possible && possible > sure:
		for _, x := range p.vars {
			if x.Contains(p.value) && !x.IsInstantiated() {
				if _, err := x.Instantiate(p.value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
