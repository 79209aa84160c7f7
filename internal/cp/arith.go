package cp

// plus enforces x + y = z on bounds.
type plus struct {
	x, y, z IntVar
}

// Plus posts x + y = z.
func Plus(x, y, z IntVar) PropID {
	return x.s.Post(&plus{x: x, y: y, z: z})
}

func (p *plus) Vars() []IntVar { return []IntVar{p.x, p.y, p.z} }

func (p *plus) Propagate() error {
	for {
		changed := false
		c, err := p.z.UpdateBounds(p.x.LB()+p.y.LB(), p.x.UB()+p.y.UB())
		if err != nil {
			return err
		}
		changed = changed || c
		if c, err = p.x.UpdateBounds(p.z.LB()-p.y.UB(), p.z.UB()-p.y.LB()); err != nil {
			return err
		}
		changed = changed || c
		if c, err = p.y.UpdateBounds(p.z.LB()-p.x.UB(), p.z.UB()-p.x.LB()); err != nil {
			return err
		}
		changed = changed || c
		if !changed {
			return nil
		}
	}
}

// lessEq enforces x + c <= y.
type lessEq struct {
	x, y IntVar
	c    int
}

// LessEq posts x + c <= y.
func LessEq(x IntVar, c int, y IntVar) PropID {
	return x.s.Post(&lessEq{x: x, y: y, c: c})
}

func (p *lessEq) Vars() []IntVar { return []IntVar{p.x, p.y} }

func (p *lessEq) Propagate() error {
	if _, err := p.y.UpdateLB(p.x.LB() + p.c); err != nil {
		return err
	}
	_, err := p.x.UpdateUB(p.y.UB() - p.c)
	return err
}

// equal enforces x = y, holes included.
type equal struct {
	x, y IntVar
}

// Equal posts x = y.
func Equal(x, y IntVar) PropID {
	return x.s.Post(&equal{x: x, y: y})
}

func (p *equal) Vars() []IntVar { return []IntVar{p.x, p.y} }

func (p *equal) Propagate() error {
	return equalize(p.x, p.y)
}

// equalize narrows a and b to their common domain.
func equalize(a, b IntVar) error {
	for {
		c1, err := a.UpdateBounds(b.LB(), b.UB())
		if err != nil {
			return err
		}
		c2, err := b.UpdateBounds(a.LB(), a.UB())
		if err != nil {
			return err
		}
		if !c1 && !c2 {
			break
		}
	}
	if !a.IsEnumerated() && !b.IsEnumerated() {
		return nil
	}
	if err := removeMissing(a, b); err != nil {
		return err
	}
	return removeMissing(b, a)
}

// removeMissing removes from a the values b does not hold.
func removeMissing(a, b IntVar) error {
	if !a.IsEnumerated() {
		return nil
	}
	ub := a.UB()
	for v := a.LB(); v <= ub; v = a.NextValue(v) {
		if !b.Contains(v) {
			if _, err := a.RemoveValue(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// canEqual reports whether a and b share at least one value.
func canEqual(a, b IntVar) bool {
	if a.UB() < b.LB() || b.UB() < a.LB() {
		return false
	}
	if a.IsInstantiated() {
		return b.Contains(a.Value())
	}
	if b.IsInstantiated() {
		return a.Contains(b.Value())
	}
	small, other := a, b
	if b.Size() < a.Size() {
		small, other = b, a
	}
	if !small.IsEnumerated() && !other.IsEnumerated() {
		return true
	}
	ub := small.UB()
	for v := small.LB(); v <= ub; v = small.NextValue(v) {
		if other.Contains(v) {
			return true
		}
	}
	return false
}

// notEqual enforces x != y.
type notEqual struct {
	x, y IntVar
}

// NotEqual posts x != y.
func NotEqual(x, y IntVar) PropID {
	return x.s.Post(&notEqual{x: x, y: y})
}

func (p *notEqual) Vars() []IntVar { return []IntVar{p.x, p.y} }

func (p *notEqual) Propagate() error {
	return differ(p.x, p.y)
}

func differ(a, b IntVar) error {
	if a.IsInstantiated() {
		if _, err := b.RemoveValue(a.Value()); err != nil {
			return err
		}
	}
	if b.IsInstantiated() {
		if _, err := a.RemoveValue(b.Value()); err != nil {
			return err
		}
	}
	if a.IsInstantiated() && b.IsInstantiated() && a.Value() == b.Value() {
		return Fail("%s and %s are both %d", a.Name(), b.Name(), a.Value())
	}
	return nil
}

// ifThenElse enforces z = b ? x : y.
type ifThenElse struct {
	b, x, y, z IntVar
}

// IfThenElse posts z = (b == 1 ? x : y) with b a boolean.
func IfThenElse(b, x, y, z IntVar) PropID {
	return b.s.Post(&ifThenElse{b: b, x: x, y: y, z: z})
}

func (p *ifThenElse) Vars() []IntVar { return []IntVar{p.b, p.x, p.y, p.z} }

func (p *ifThenElse) Propagate() error {
	if p.b.IsInstantiated() {
		if p.b.Value() == 1 {
			return equalize(p.z, p.x)
		}
		return equalize(p.z, p.y)
	}
	thenOK, elseOK := canEqual(p.z, p.x), canEqual(p.z, p.y)
	switch {
	case !thenOK && !elseOK:
		return Fail("%s matches neither branch", p.z.Name())
	case !thenOK:
		if _, err := p.b.Instantiate(0); err != nil {
			return err
		}
		return equalize(p.z, p.y)
	case !elseOK:
		if _, err := p.b.Instantiate(1); err != nil {
			return err
		}
		return equalize(p.z, p.x)
	}
	lb, ub := p.x.LB(), p.x.UB()
	if p.y.LB() < lb {
		lb = p.y.LB()
	}
	if p.y.UB() > ub {
		ub = p.y.UB()
	}
	if _, err := p.z.UpdateBounds(lb, ub); err != nil {
		return err
	}
	if p.z.IsEnumerated() {
		zub := p.z.UB()
		for v := p.z.LB(); v <= zub; v = p.z.NextValue(v) {
			if !p.x.Contains(v) && !p.y.Contains(v) {
				if _, err := p.z.RemoveValue(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// boolNot enforces a = 1 - b.
type boolNot struct {
	a, b IntVar
}

// BoolNot posts a = not b.
func BoolNot(a, b IntVar) PropID {
	return a.s.Post(&boolNot{a: a, b: b})
}

func (p *boolNot) Vars() []IntVar { return []IntVar{p.a, p.b} }

func (p *boolNot) Propagate() error {
	if p.a.IsInstantiated() {
		_, err := p.b.Instantiate(1 - p.a.Value())
		return err
	}
	if p.b.IsInstantiated() {
		_, err := p.a.Instantiate(1 - p.b.Value())
		return err
	}
	return nil
}

// maximum enforces z = max(xs).
type maximum struct {
	z  IntVar
	xs []IntVar
}

// Maximum posts z = max(xs).
func Maximum(z IntVar, xs []IntVar) PropID {
	vars := append([]IntVar(nil), xs...)
	return z.s.Post(&maximum{z: z, xs: vars})
}

func (p *maximum) Vars() []IntVar { return append([]IntVar{p.z}, p.xs...) }

func (p *maximum) Propagate() error {
	for {
		maxLB, maxUB := p.xs[0].LB(), p.xs[0].UB()
		for _, x := range p.xs[1:] {
			if x.LB() > maxLB {
				maxLB = x.LB()
			}
			if x.UB() > maxUB {
				maxUB = x.UB()
			}
		}
		changed, err := p.z.UpdateBounds(maxLB, maxUB)
		if err != nil {
			return err
		}
		zub, zlb := p.z.UB(), p.z.LB()
		var support IntVar
		supports := 0
		for _, x := range p.xs {
			c, err := x.UpdateUB(zub)
			if err != nil {
				return err
			}
			changed = changed || c
			if x.UB() >= zlb {
				supports++
				support = x
			}
		}
		if supports == 0 {
			return Fail("%s: no variable reaches %d", p.z.Name(), zlb)
		}
		if supports == 1 {
			c, err := support.UpdateLB(zlb)
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

// impliesGreaterEq enforces b = 1 => x >= c.
type impliesGreaterEq struct {
	b, x IntVar
	c    int
}

// ImpliesGreaterEq posts b = 1 => x >= c.
func ImpliesGreaterEq(b, x IntVar, c int) PropID {
	return b.s.Post(&impliesGreaterEq{b: b, x: x, c: c})
}

func (p *impliesGreaterEq) Vars() []IntVar { return []IntVar{p.b, p.x} }

func (p *impliesGreaterEq) Propagate() error {
	if p.b.IsInstantiated() && p.b.Value() == 1 {
		_, err := p.x.UpdateLB(p.c)
		return err
	}
	if p.x.UB() < p.c {
		_, err := p.b.Instantiate(0)
		return err
	}
	return nil
}
