// Package propagator holds the scheduling-specific filtering algorithms of the planner:
// the resource-time task scheduler, the multi-dimensional bin packing and a few small
// reification and disjointness propagators.
package propagator

import (
	"github.com/limiquantix/planner/internal/cp"
)

// ImpliesEqual enforces b = 1 => x = c. The reverse direction only forces b = 0
// once x can no longer take c.
type ImpliesEqual struct {
	b, x cp.IntVar
	c    int
}

// NewImpliesEqual posts b = 1 => x = c.
func NewImpliesEqual(b, x cp.IntVar, c int) *ImpliesEqual {
	p := &ImpliesEqual{b: b, x: x, c: c}
	b.Store().Post(p)
	return p
}

// Vars implements cp.Propagator.
func (p *ImpliesEqual) Vars() []cp.IntVar { return []cp.IntVar{p.b, p.x} }

// Propagate implements cp.Propagator.
func (p *ImpliesEqual) Propagate() error {
	if p.b.IsInstantiated() {
		if p.b.Value() == 1 {
			_, err := p.x.Instantiate(p.c)
			return err
		}
		return nil
	}
	if !p.x.Contains(p.c) {
		_, err := p.b.Instantiate(0)
		return err
	}
	return nil
}

// IffEqual enforces b = 1 <=> x = c.
type IffEqual struct {
	b, x cp.IntVar
	c    int
}

// NewIffEqual posts b <=> (x == c).
func NewIffEqual(b, x cp.IntVar, c int) *IffEqual {
	p := &IffEqual{b: b, x: x, c: c}
	b.Store().Post(p)
	return p
}

// Vars implements cp.Propagator.
func (p *IffEqual) Vars() []cp.IntVar { return []cp.IntVar{p.b, p.x} }

// Propagate implements cp.Propagator.
func (p *IffEqual) Propagate() error {
	if p.b.IsInstantiated() {
		if p.b.Value() == 1 {
			_, err := p.x.Instantiate(p.c)
			return err
		}
		_, err := p.x.RemoveValue(p.c)
		return err
	}
	if !p.x.Contains(p.c) {
		_, err := p.b.Instantiate(0)
		return err
	}
	if p.x.IsInstantiated() {
		_, err := p.b.Instantiate(1)
		return err
	}
	return nil
}

// Precedence enforces host = n => start >= end. It orders the arrival of a VM on a node
// after the departure of another one.
type Precedence struct {
	host       cp.IntVar
	node       int
	start, end cp.IntVar
}

// NewPrecedence posts host == node => start >= end.
func NewPrecedence(host cp.IntVar, node int, start, end cp.IntVar) *Precedence {
	p := &Precedence{host: host, node: node, start: start, end: end}
	host.Store().Post(p)
	return p
}

// Vars implements cp.Propagator.
func (p *Precedence) Vars() []cp.IntVar { return []cp.IntVar{p.host, p.start, p.end} }

// Propagate implements cp.Propagator.
func (p *Precedence) Propagate() error {
	if !p.host.Contains(p.node) {
		return nil
	}
	if p.host.IsInstantiated() {
		if _, err := p.start.UpdateLB(p.end.LB()); err != nil {
			return err
		}
		_, err := p.end.UpdateUB(p.start.UB())
		return err
	}
	if p.start.UB() < p.end.LB() {
		_, err := p.host.RemoveValue(p.node)
		return err
	}
	return nil
}
