// Package placement provides the placement restrictions the planner understands. Each
// one posts its propagators into a reconfiguration problem and can check a model.
package placement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/reconfig"
)

// Constraint is a placement restriction.
type Constraint interface {
	reconfig.Constraint
	// IsSatisfied reports whether m respects the restriction.
	IsSatisfied(m *domain.Model) bool
	String() string
}

// Misplaced returns the VMs a violated constraint needs to move: the VMs it names and,
// for restrictions over nodes, the VMs running on them.
func Misplaced(m *domain.Model, constraints []Constraint) []string {
	set := make(map[string]struct{})
	for _, c := range constraints {
		if c.IsSatisfied(m) {
			continue
		}
		for _, vm := range c.InvolvedVMs() {
			if st, _ := m.Mapping().VMState(vm); st == domain.VMStateRunning {
				set[vm] = struct{}{}
			}
		}
		if len(c.InvolvedVMs()) == 0 {
			for _, n := range c.InvolvedNodes() {
				for _, vm := range m.Mapping().RunningVMs(n) {
					set[vm] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for vm := range set {
		out = append(out, vm)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// Helpers
// ============================================================================

// finalHost returns the host variable of vm when it ends running.
func finalHost(p *reconfig.Problem, vm string) (cp.IntVar, bool) {
	a, err := p.VMAction(vm)
	if err != nil || a.DSlice() == nil {
		return cp.IntVar{}, false
	}
	return a.DSlice().Host, true
}

func nodeIndices(p *reconfig.Problem, nodes []string) (map[int]bool, error) {
	out := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		i, err := p.NodeIndex(n)
		if err != nil {
			return nil, err
		}
		out[i] = true
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func runningOn(m *domain.Model, vm string) (string, bool) {
	st, ok := m.Mapping().VMState(vm)
	if !ok || st != domain.VMStateRunning {
		return "", false
	}
	return m.Mapping().Location(vm), true
}

func render(kind string, vms, nodes []string, continuous bool) string {
	var parts []string
	if len(vms) > 0 {
		parts = append(parts, "vms=["+strings.Join(vms, ",")+"]")
	}
	if len(nodes) > 0 {
		parts = append(parts, "nodes=["+strings.Join(nodes, ",")+"]")
	}
	if continuous {
		parts = append(parts, "continuous")
	}
	return fmt.Sprintf("%s(%s)", kind, strings.Join(parts, ", "))
}

func requireNonEmpty(kind, what string, list []string) error {
	if len(list) == 0 {
		return fmt.Errorf("%s without %s: %w", kind, what, domain.ErrInvalidConstraint)
	}
	return nil
}
