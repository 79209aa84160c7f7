package placement

import (
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/reconfig"
)

// Ban forbids VMs from running on a set of nodes at the end of the reconfiguration.
type Ban struct {
	vms, nodes []string
}

// NewBan creates a ban.
func NewBan(vms, nodes []string) (*Ban, error) {
	if err := requireNonEmpty("ban", "vms", vms); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("ban", "nodes", nodes); err != nil {
		return nil, err
	}
	return &Ban{vms: vms, nodes: nodes}, nil
}

func (c *Ban) InvolvedVMs() []string   { return c.vms }
func (c *Ban) InvolvedNodes() []string { return c.nodes }
func (c *Ban) IsContinuous() bool      { return false }
func (c *Ban) String() string          { return render("ban", c.vms, c.nodes, false) }

// Inject implements reconfig.Constraint.
func (c *Ban) Inject(p *reconfig.Problem) error {
	banned, err := nodeIndices(p, c.nodes)
	if err != nil {
		return err
	}
	for _, vm := range c.vms {
		host, ok := finalHost(p, vm)
		if !ok {
			continue
		}
		for n := range banned {
			if _, err := host.RemoveValue(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsSatisfied implements Constraint.
func (c *Ban) IsSatisfied(m *domain.Model) bool {
	for _, vm := range c.vms {
		if n, ok := runningOn(m, vm); ok && containsString(c.nodes, n) {
			return false
		}
	}
	return true
}

// Fence restricts the nodes VMs can run on at the end of the reconfiguration.
type Fence struct {
	vms, nodes []string
}

// NewFence creates a fence.
func NewFence(vms, nodes []string) (*Fence, error) {
	if err := requireNonEmpty("fence", "vms", vms); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("fence", "nodes", nodes); err != nil {
		return nil, err
	}
	return &Fence{vms: vms, nodes: nodes}, nil
}

func (c *Fence) InvolvedVMs() []string   { return c.vms }
func (c *Fence) InvolvedNodes() []string { return c.nodes }
func (c *Fence) IsContinuous() bool      { return false }
func (c *Fence) String() string          { return render("fence", c.vms, c.nodes, false) }

// Inject implements reconfig.Constraint.
func (c *Fence) Inject(p *reconfig.Problem) error {
	allowed, err := nodeIndices(p, c.nodes)
	if err != nil {
		return err
	}
	for _, vm := range c.vms {
		host, ok := finalHost(p, vm)
		if !ok {
			continue
		}
		for n := range p.Nodes() {
			if allowed[n] {
				continue
			}
			if _, err := host.RemoveValue(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsSatisfied implements Constraint.
func (c *Fence) IsSatisfied(m *domain.Model) bool {
	for _, vm := range c.vms {
		if n, ok := runningOn(m, vm); ok && !containsString(c.nodes, n) {
			return false
		}
	}
	return true
}
