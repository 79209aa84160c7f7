package reconfig

import (
	"fmt"

	"github.com/limiquantix/planner/internal/domain"
)

// Constraint is a placement restriction that posts its propagators into a problem.
type Constraint interface {
	InvolvedVMs() []string
	InvolvedNodes() []string
	// IsContinuous reports whether the restriction must hold during the whole
	// reconfiguration and not only at its end.
	IsContinuous() bool
	Inject(p *Problem) error
}

// Inject checks that c only references known subjects and lets it post its propagators.
func (p *Problem) Inject(c Constraint) error {
	if p.sealed {
		return fmt.Errorf("problem already sealed: %w", domain.ErrConflict)
	}
	for _, vm := range c.InvolvedVMs() {
		if !p.model.HasVM(vm) {
			return fmt.Errorf("constraint %v: vm %s: %w", c, vm, domain.ErrUnknownVM)
		}
	}
	for _, n := range c.InvolvedNodes() {
		if _, err := p.NodeIndex(n); err != nil {
			return fmt.Errorf("constraint %v: %w", c, err)
		}
	}
	if err := c.Inject(p); err != nil {
		return fmt.Errorf("failed to inject %v: %w", c, err)
	}
	return nil
}
