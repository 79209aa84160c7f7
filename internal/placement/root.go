package placement

import (
	"fmt"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/reconfig"
)

// Root keeps running VMs on their current node for the whole reconfiguration. It only
// exists in continuous mode.
type Root struct {
	vms []string
}

// NewRoot creates a root restriction. continuous must be true.
func NewRoot(vms []string, continuous bool) (*Root, error) {
	if !continuous {
		return nil, fmt.Errorf("root only supports the continuous mode: %w", domain.ErrInvalidConstraint)
	}
	if err := requireNonEmpty("root", "vms", vms); err != nil {
		return nil, err
	}
	return &Root{vms: vms}, nil
}

func (c *Root) InvolvedVMs() []string   { return c.vms }
func (c *Root) InvolvedNodes() []string { return nil }
func (c *Root) IsContinuous() bool      { return true }
func (c *Root) String() string          { return render("root", c.vms, nil, true) }

// Inject implements reconfig.Constraint.
func (c *Root) Inject(p *reconfig.Problem) error {
	for _, vm := range c.vms {
		if err := pin(p, vm); err != nil {
			return err
		}
	}
	return nil
}

// pin forces a VM that runs before and after the reconfiguration to keep its host.
func pin(p *reconfig.Problem, vm string) error {
	a, err := p.VMAction(vm)
	if err != nil || a.CSlice() == nil || a.DSlice() == nil {
		return nil
	}
	_, err = a.DSlice().Host.Instantiate(a.CSlice().Host.Value())
	return err
}

// IsSatisfied implements Constraint. A model alone cannot violate it.
func (c *Root) IsSatisfied(*domain.Model) bool { return true }

// Quarantine isolates nodes: the VMs they run stay, and no other VM arrives. It only
// exists in continuous mode.
type Quarantine struct {
	nodes []string
}

// NewQuarantine creates a quarantine. continuous must be true.
func NewQuarantine(nodes []string, continuous bool) (*Quarantine, error) {
	if !continuous {
		return nil, fmt.Errorf("quarantine only supports the continuous mode: %w", domain.ErrInvalidConstraint)
	}
	if err := requireNonEmpty("quarantine", "nodes", nodes); err != nil {
		return nil, err
	}
	return &Quarantine{nodes: nodes}, nil
}

func (c *Quarantine) InvolvedVMs() []string   { return nil }
func (c *Quarantine) InvolvedNodes() []string { return c.nodes }
func (c *Quarantine) IsContinuous() bool      { return true }
func (c *Quarantine) String() string          { return render("quarantine", nil, c.nodes, true) }

// Inject implements reconfig.Constraint.
func (c *Quarantine) Inject(p *reconfig.Problem) error {
	isolated, err := nodeIndices(p, c.nodes)
	if err != nil {
		return err
	}
	for _, a := range p.VMActions() {
		if a.DSlice() == nil {
			continue
		}
		if cs := a.CSlice(); cs != nil && isolated[cs.Host.Value()] {
			if err := pin(p, a.Subject()); err != nil {
				return err
			}
			continue
		}
		for n := range isolated {
			if _, err := a.DSlice().Host.RemoveValue(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsSatisfied implements Constraint. A model alone cannot violate it.
func (c *Quarantine) IsSatisfied(*domain.Model) bool { return true }
