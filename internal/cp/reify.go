package cp

// reifiedEqualVars enforces b = 1 <=> x = y.
type reifiedEqualVars struct {
	b, x, y IntVar
}

// ReifiedEqualVars posts b <=> (x == y).
func ReifiedEqualVars(b, x, y IntVar) PropID {
	return b.s.Post(&reifiedEqualVars{b: b, x: x, y: y})
}

func (p *reifiedEqualVars) Vars() []IntVar { return []IntVar{p.b, p.x, p.y} }

func (p *reifiedEqualVars) Propagate() error {
	if p.b.IsInstantiated() {
		if p.b.Value() == 1 {
			return equalize(p.x, p.y)
		}
		return differ(p.x, p.y)
	}
	if !canEqual(p.x, p.y) {
		_, err := p.b.Instantiate(0)
		return err
	}
	if p.x.IsInstantiated() && p.y.IsInstantiated() {
		_, err := p.b.Instantiate(1)
		return err
	}
	return nil
}

// allDifferent is a forward-checking all-different.
type allDifferent struct {
	vars []IntVar
}

// AllDifferent posts pairwise difference among vars.
func AllDifferent(vars []IntVar) PropID {
	return vars[0].s.Post(&allDifferent{vars: append([]IntVar(nil), vars...)})
}

func (p *allDifferent) Vars() []IntVar { return p.vars }

func (p *allDifferent) Propagate() error {
	for i, x := range p.vars {
		if !x.IsInstantiated() {
			continue
		}
		v := x.Value()
		for j, y := range p.vars {
			if i == j {
				continue
			}
			if y.IsInstantiated() && y.Value() == v {
				return Fail("%s and %s both take %d", x.Name(), y.Name(), v)
			}
			if _, err := y.RemoveValue(v); err != nil {
				return err
			}
		}
	}
	return nil
}
