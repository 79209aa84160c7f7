package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/limiquantix/planner/internal/domain"
)

// Plan is a reconfiguration schedule over an origin model.
//
// A re-instantiated VM is replaced by a clone: Substitutions maps the original VM to the
// identifier of the clone, which Apply registers in INIT state before running the actions.
type Plan struct {
	origin        *domain.Model
	actions       []Action
	substitutions map[string]string
	objective     int
}

// New builds a plan. Actions are sorted by start time. Node boots go first and node
// shutdowns last among actions starting at the same time.
func New(origin *domain.Model, actions []Action, substitutions map[string]string, objective int) *Plan {
	sorted := append([]Action(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start() != b.Start() {
			return a.Start() < b.Start()
		}
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		return a.End() < b.End()
	})
	subs := make(map[string]string, len(substitutions))
	for k, v := range substitutions {
		subs[k] = v
	}
	return &Plan{origin: origin, actions: sorted, substitutions: subs, objective: objective}
}

func rank(a Action) int {
	switch a.Kind() {
	case KindBootNode:
		return 0
	case KindShutdownNode:
		return 2
	default:
		return 1
	}
}

// Origin returns the model the plan starts from.
func (p *Plan) Origin() *domain.Model {
	return p.origin
}

// Actions returns the actions sorted by start time.
func (p *Plan) Actions() []Action {
	return append([]Action(nil), p.actions...)
}

// Size returns the number of actions.
func (p *Plan) Size() int {
	return len(p.actions)
}

// Substitutions returns the clone identifier of every re-instantiated VM.
func (p *Plan) Substitutions() map[string]string {
	out := make(map[string]string, len(p.substitutions))
	for k, v := range p.substitutions {
		out[k] = v
	}
	return out
}

// Objective returns the value of the optimised objective.
func (p *Plan) Objective() int {
	return p.objective
}

// Duration returns the completion time of the last action.
func (p *Plan) Duration() int {
	d := 0
	for _, a := range p.actions {
		if a.End() > d {
			d = a.End()
		}
	}
	return d
}

// Apply runs the actions on a copy of the origin model and returns the result.
func (p *Plan) Apply() (*domain.Model, error) {
	m := p.origin.Clone()
	originals := make([]string, 0, len(p.substitutions))
	for vm := range p.substitutions {
		originals = append(originals, vm)
	}
	sort.Strings(originals)
	for _, vm := range originals {
		if _, err := m.AddClone(vm, p.substitutions[vm]); err != nil {
			return nil, fmt.Errorf("failed to clone %s: %w", vm, err)
		}
	}
	for _, a := range p.actions {
		if err := a.Apply(m); err != nil {
			return nil, fmt.Errorf("failed to apply %s: %w", a, err)
		}
	}
	return m, nil
}

// Records returns the stored form of the actions.
func (p *Plan) Records() []domain.PlanAction {
	out := make([]domain.PlanAction, 0, len(p.actions))
	for _, a := range p.actions {
		out = append(out, a.Record())
	}
	return out
}

// String renders one action per line.
func (p *Plan) String() string {
	var b strings.Builder
	for _, a := range p.actions {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	return b.String()
}

type planJSON struct {
	Duration      int                 `json:"duration"`
	Objective     int                 `json:"objective"`
	Actions       []domain.PlanAction `json:"actions"`
	Substitutions map[string]string   `json:"substitutions,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{
		Duration:      p.Duration(),
		Objective:     p.objective,
		Actions:       p.Records(),
		Substitutions: p.substitutions,
	})
}
