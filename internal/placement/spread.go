package placement

import (
	"fmt"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/propagator"
	"github.com/limiquantix/planner/internal/reconfig"
)

// Spread runs VMs on distinct nodes. In continuous mode, a VM cannot arrive on a node
// before another VM of the set has left it.
type Spread struct {
	vms        []string
	continuous bool
}

// NewSpread creates a spread restriction.
func NewSpread(vms []string, continuous bool) (*Spread, error) {
	if len(vms) < 2 {
		return nil, fmt.Errorf("spread needs at least 2 vms: %w", domain.ErrInvalidConstraint)
	}
	return &Spread{vms: vms, continuous: continuous}, nil
}

func (c *Spread) InvolvedVMs() []string   { return c.vms }
func (c *Spread) InvolvedNodes() []string { return nil }
func (c *Spread) IsContinuous() bool      { return c.continuous }
func (c *Spread) String() string          { return render("spread", c.vms, nil, c.continuous) }

// Inject implements reconfig.Constraint.
func (c *Spread) Inject(p *reconfig.Problem) error {
	var hosts []cp.IntVar
	for _, vm := range c.vms {
		if h, ok := finalHost(p, vm); ok {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) > 1 {
		cp.AllDifferent(hosts)
	}
	if c.continuous {
		for _, vm := range c.vms {
			for _, other := range c.vms {
				if vm != other {
					orderArrival(p, vm, other)
				}
			}
		}
	}
	return nil
}

// orderArrival delays the arrival of vm on the current node of other until other left it.
func orderArrival(p *reconfig.Problem, vm, other string) {
	a, err := p.VMAction(vm)
	if err != nil || a.DSlice() == nil {
		return
	}
	b, err := p.VMAction(other)
	if err != nil || b.CSlice() == nil {
		return
	}
	propagator.NewPrecedence(a.DSlice().Host, b.CSlice().Host.Value(), a.DSlice().Start, b.CSlice().End)
	p.ExemptFromAnticipation(vm)
}

// IsSatisfied implements Constraint.
func (c *Spread) IsSatisfied(m *domain.Model) bool {
	used := make(map[string]bool)
	for _, vm := range c.vms {
		n, ok := runningOn(m, vm)
		if !ok {
			continue
		}
		if used[n] {
			return false
		}
		used[n] = true
	}
	return true
}

// Gather runs VMs on a single node.
type Gather struct {
	vms []string
}

// NewGather creates a gather restriction.
func NewGather(vms []string) (*Gather, error) {
	if len(vms) < 2 {
		return nil, fmt.Errorf("gather needs at least 2 vms: %w", domain.ErrInvalidConstraint)
	}
	return &Gather{vms: vms}, nil
}

func (c *Gather) InvolvedVMs() []string   { return c.vms }
func (c *Gather) InvolvedNodes() []string { return nil }
func (c *Gather) IsContinuous() bool      { return false }
func (c *Gather) String() string          { return render("gather", c.vms, nil, false) }

// Inject implements reconfig.Constraint.
func (c *Gather) Inject(p *reconfig.Problem) error {
	var first cp.IntVar
	for _, vm := range c.vms {
		h, ok := finalHost(p, vm)
		if !ok {
			continue
		}
		if !first.Valid() {
			first = h
			continue
		}
		cp.Equal(first, h)
	}
	return nil
}

// IsSatisfied implements Constraint.
func (c *Gather) IsSatisfied(m *domain.Model) bool {
	node := ""
	for _, vm := range c.vms {
		n, ok := runningOn(m, vm)
		if !ok {
			continue
		}
		if node != "" && n != node {
			return false
		}
		node = n
	}
	return true
}

// Lonely keeps VMs away from every other VM: the nodes running them run nothing else.
// In continuous mode, VMs of either side cannot arrive on a node before the other side
// left it.
type Lonely struct {
	vms        []string
	continuous bool
}

// NewLonely creates a lonely restriction.
func NewLonely(vms []string, continuous bool) (*Lonely, error) {
	if err := requireNonEmpty("lonely", "vms", vms); err != nil {
		return nil, err
	}
	return &Lonely{vms: vms, continuous: continuous}, nil
}

func (c *Lonely) InvolvedVMs() []string   { return c.vms }
func (c *Lonely) InvolvedNodes() []string { return nil }
func (c *Lonely) IsContinuous() bool      { return c.continuous }
func (c *Lonely) String() string          { return render("lonely", c.vms, nil, c.continuous) }

// Inject implements reconfig.Constraint.
func (c *Lonely) Inject(p *reconfig.Problem) error {
	var mine, others []cp.IntVar
	var otherVMs []string
	for _, vm := range p.VMs() {
		h, ok := finalHost(p, vm)
		if containsString(c.vms, vm) {
			if ok {
				mine = append(mine, h)
			}
			continue
		}
		otherVMs = append(otherVMs, vm)
		if ok {
			others = append(others, h)
		}
	}
	if len(mine) > 0 && len(others) > 0 {
		if _, err := propagator.NewDisjoint(p.Store(), mine, others, len(p.Nodes())); err != nil {
			return err
		}
	}
	if c.continuous {
		for _, vm := range c.vms {
			for _, other := range otherVMs {
				orderArrival(p, vm, other)
				orderArrival(p, other, vm)
			}
		}
	}
	return nil
}

// IsSatisfied implements Constraint.
func (c *Lonely) IsSatisfied(m *domain.Model) bool {
	for _, vm := range c.vms {
		n, ok := runningOn(m, vm)
		if !ok {
			continue
		}
		for _, other := range m.Mapping().RunningVMs(n) {
			if !containsString(c.vms, other) {
				return false
			}
		}
	}
	return true
}
