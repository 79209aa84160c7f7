package reconfig

import (
	"fmt"
	"strings"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
)

// DurationAttributePrefix prefixes the attribute overriding the duration of an action
// for one subject, e.g. "duration.migrate".
const DurationAttributePrefix = "duration."

// DurationEvaluator estimates the duration of an action on subject.
type DurationEvaluator func(m *domain.Model, subject string) (int, error)

// ConstantDuration returns an evaluator that always answers d.
func ConstantDuration(d int) DurationEvaluator {
	return func(*domain.Model, string) (int, error) {
		return d, nil
	}
}

// DurationEvaluators maps every action kind to its duration estimator.
type DurationEvaluators struct {
	evals map[plan.Kind]DurationEvaluator
}

// AllKinds lists the action kinds that carry a duration.
var AllKinds = []plan.Kind{
	plan.KindBootVM, plan.KindShutdownVM, plan.KindMigrateVM, plan.KindSuspendVM,
	plan.KindResumeVM, plan.KindForgeVM, plan.KindKillVM, plan.KindBootNode, plan.KindShutdownNode,
}

// NewDurationEvaluators returns evaluators answering 1 for every kind.
func NewDurationEvaluators() *DurationEvaluators {
	d := &DurationEvaluators{evals: make(map[plan.Kind]DurationEvaluator, len(AllKinds))}
	for _, k := range AllKinds {
		d.evals[k] = ConstantDuration(1)
	}
	return d
}

// Register sets the evaluator of kind.
func (d *DurationEvaluators) Register(kind plan.Kind, eval DurationEvaluator) *DurationEvaluators {
	d.evals[kind] = eval
	return d
}

// Evaluate returns the duration of kind on subject. A "duration.<kind>" attribute on the
// subject takes precedence over the registered evaluator.
func (d *DurationEvaluators) Evaluate(m *domain.Model, kind plan.Kind, subject string) (int, error) {
	key := DurationAttributePrefix + string(kind)
	if attrs := subjectAttributes(m, subject); attrs != nil {
		if _, set := attrs.Get(key); set {
			v, ok := attrs.Int(key)
			if !ok || v < 0 {
				return 0, fmt.Errorf("%s: attribute %s=%q: %w", subject, key, attrs[key], domain.ErrInvalidArgument)
			}
			return v, nil
		}
	}
	eval, ok := d.evals[kind]
	if !ok {
		return 0, fmt.Errorf("no duration evaluator for %s: %w", kind, domain.ErrNotFound)
	}
	v, err := eval(m, subject)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %s duration of %s: %w", kind, subject, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative %s duration %d for %s: %w", kind, v, subject, domain.ErrInvalidArgument)
	}
	return v, nil
}

// DurationsFromMap returns evaluators answering the constant durations of table, keyed
// by action kind, case insensitively. Kinds absent from table last 1.
func DurationsFromMap(table map[string]int) (*DurationEvaluators, error) {
	d := NewDurationEvaluators()
	for key, v := range table {
		kind, ok := parseKind(key)
		if !ok {
			return nil, fmt.Errorf("unknown action kind %q: %w", key, domain.ErrInvalidArgument)
		}
		if v < 0 {
			return nil, fmt.Errorf("negative %s duration %d: %w", kind, v, domain.ErrInvalidArgument)
		}
		d.Register(kind, ConstantDuration(v))
	}
	return d, nil
}

func parseKind(s string) (plan.Kind, bool) {
	for _, k := range AllKinds {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

func subjectAttributes(m *domain.Model, subject string) domain.Attributes {
	if vm, err := m.VM(subject); err == nil {
		return vm.Attributes
	}
	if n, err := m.Node(subject); err == nil {
		return n.Attributes
	}
	return nil
}

func isNodeKind(k plan.Kind) bool {
	return k == plan.KindBootNode || k == plan.KindShutdownNode
}
