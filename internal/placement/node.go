package placement

import (
	"fmt"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/reconfig"
)

// Online requires nodes to end online.
type Online struct {
	nodes []string
}

// NewOnline creates an online restriction.
func NewOnline(nodes []string) (*Online, error) {
	if err := requireNonEmpty("online", "nodes", nodes); err != nil {
		return nil, err
	}
	return &Online{nodes: nodes}, nil
}

func (c *Online) InvolvedVMs() []string   { return nil }
func (c *Online) InvolvedNodes() []string { return c.nodes }
func (c *Online) IsContinuous() bool      { return false }
func (c *Online) String() string          { return render("online", nil, c.nodes, false) }

// Inject implements reconfig.Constraint.
func (c *Online) Inject(p *reconfig.Problem) error {
	return setNodeStates(p, c.nodes, 1)
}

// IsSatisfied implements Constraint.
func (c *Online) IsSatisfied(m *domain.Model) bool {
	for _, n := range c.nodes {
		if !m.Mapping().IsOnline(n) {
			return false
		}
	}
	return true
}

// Offline requires nodes to end offline, which evicts their VMs.
type Offline struct {
	nodes []string
}

// NewOffline creates an offline restriction.
func NewOffline(nodes []string) (*Offline, error) {
	if err := requireNonEmpty("offline", "nodes", nodes); err != nil {
		return nil, err
	}
	return &Offline{nodes: nodes}, nil
}

func (c *Offline) InvolvedVMs() []string   { return nil }
func (c *Offline) InvolvedNodes() []string { return c.nodes }
func (c *Offline) IsContinuous() bool      { return false }
func (c *Offline) String() string          { return render("offline", nil, c.nodes, false) }

// Inject implements reconfig.Constraint.
func (c *Offline) Inject(p *reconfig.Problem) error {
	return setNodeStates(p, c.nodes, 0)
}

// IsSatisfied implements Constraint.
func (c *Offline) IsSatisfied(m *domain.Model) bool {
	for _, n := range c.nodes {
		if m.Mapping().IsOnline(n) {
			return false
		}
	}
	return true
}

func setNodeStates(p *reconfig.Problem, nodes []string, state int) error {
	for _, n := range nodes {
		a, err := p.NodeAction(n)
		if err != nil {
			return err
		}
		if _, err := a.State().Instantiate(state); err != nil {
			return err
		}
	}
	return nil
}

// RunningCapacity bounds the number of VMs running on a set of nodes at the end of the
// reconfiguration.
type RunningCapacity struct {
	nodes  []string
	amount int
}

// NewRunningCapacity creates a running capacity restriction.
func NewRunningCapacity(nodes []string, amount int) (*RunningCapacity, error) {
	if err := requireNonEmpty("runningCapacity", "nodes", nodes); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("runningCapacity amount %d: %w", amount, domain.ErrInvalidConstraint)
	}
	return &RunningCapacity{nodes: nodes, amount: amount}, nil
}

func (c *RunningCapacity) InvolvedVMs() []string   { return nil }
func (c *RunningCapacity) InvolvedNodes() []string { return c.nodes }
func (c *RunningCapacity) IsContinuous() bool      { return false }

func (c *RunningCapacity) String() string {
	return fmt.Sprintf("runningCapacity(nodes=%v, amount=%d)", c.nodes, c.amount)
}

// Inject implements reconfig.Constraint.
func (c *RunningCapacity) Inject(p *reconfig.Problem) error {
	counts := p.NbRunningVMs()
	var vars []cp.IntVar
	for _, n := range c.nodes {
		i, err := p.NodeIndex(n)
		if err != nil {
			return err
		}
		vars = append(vars, counts[i])
	}
	total := p.Store().NewIntVar("runningCapacity", 0, c.amount)
	cp.NewLinearSum(vars, nil, total, false)
	return nil
}

// IsSatisfied implements Constraint.
func (c *RunningCapacity) IsSatisfied(m *domain.Model) bool {
	total := 0
	for _, n := range c.nodes {
		total += len(m.Mapping().RunningVMs(n))
	}
	return total <= c.amount
}
