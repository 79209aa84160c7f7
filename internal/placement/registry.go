package placement

import (
	"fmt"
	"sort"

	"github.com/limiquantix/planner/internal/domain"
)

// Spec is the serialized form of a constraint, as found in instance files and policies.
type Spec struct {
	Kind       string   `json:"kind" yaml:"kind"`
	VMs        []string `json:"vms,omitempty" yaml:"vms,omitempty"`
	Nodes      []string `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Continuous bool     `json:"continuous,omitempty" yaml:"continuous,omitempty"`
	Amount     int      `json:"amount,omitempty" yaml:"amount,omitempty"`
}

// Builder turns a Spec into a constraint.
type Builder func(Spec) (Constraint, error)

var builders = map[string]Builder{
	"ban":   func(s Spec) (Constraint, error) { return NewBan(s.VMs, s.Nodes) },
	"fence": func(s Spec) (Constraint, error) { return NewFence(s.VMs, s.Nodes) },
	"root":  func(s Spec) (Constraint, error) { return NewRoot(s.VMs, s.Continuous) },
	"quarantine": func(s Spec) (Constraint, error) {
		return NewQuarantine(s.Nodes, s.Continuous)
	},
	"spread":  func(s Spec) (Constraint, error) { return NewSpread(s.VMs, s.Continuous) },
	"gather":  func(s Spec) (Constraint, error) { return NewGather(s.VMs) },
	"lonely":  func(s Spec) (Constraint, error) { return NewLonely(s.VMs, s.Continuous) },
	"online":  func(s Spec) (Constraint, error) { return NewOnline(s.Nodes) },
	"offline": func(s Spec) (Constraint, error) { return NewOffline(s.Nodes) },
	"runningCapacity": func(s Spec) (Constraint, error) {
		return NewRunningCapacity(s.Nodes, s.Amount)
	},
}

// Kinds lists the constraint kinds Build understands.
func Kinds() []string {
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates the constraint described by s.
func Build(s Spec) (Constraint, error) {
	b, ok := builders[s.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown constraint kind %q: %w", s.Kind, domain.ErrInvalidConstraint)
	}
	return b(s)
}

// BuildAll creates every constraint of specs.
func BuildAll(specs []Spec) ([]Constraint, error) {
	out := make([]Constraint, 0, len(specs))
	for i, s := range specs {
		c, err := Build(s)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}
