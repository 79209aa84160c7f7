package cp

import (
	"context"
	"fmt"
	"time"
)

// DecisionKind tells how a decision narrows the store and how it is refuted.
type DecisionKind int

const (
	// DecideAssign sets x = v and is refuted by x != v.
	DecideAssign DecisionKind = iota
	// DecideSplit sets x <= v and is refuted by x >= v+1.
	DecideSplit
	// DecideApply runs a side effect and has no alternative.
	DecideApply
)

// Decision is one branching step.
type Decision struct {
	Kind  DecisionKind
	Var   IntVar
	Value int
	Label string
	Fn    func() error
}

// Assign builds x = v. On a bounded domain an interior value cannot be removed on
// refutation, so the decision degrades into a split at v.
func Assign(x IntVar, v int) Decision {
	if !x.IsEnumerated() && v != x.LB() && v != x.UB() {
		return Split(x, v)
	}
	return Decision{Kind: DecideAssign, Var: x, Value: v}
}

// Split builds x <= v.
func Split(x IntVar, v int) Decision {
	return Decision{Kind: DecideSplit, Var: x, Value: v}
}

// Apply builds a decision that runs fn once.
func Apply(label string, fn func() error) Decision {
	return Decision{Kind: DecideApply, Label: label, Fn: fn}
}

func (d Decision) apply() error {
	switch d.Kind {
	case DecideAssign:
		_, err := d.Var.Instantiate(d.Value)
		return err
	case DecideSplit:
		_, err := d.Var.UpdateUB(d.Value)
		return err
	default:
		return d.Fn()
	}
}

func (d Decision) refute() error {
	switch d.Kind {
	case DecideAssign:
		_, err := d.Var.RemoveValue(d.Value)
		return err
	case DecideSplit:
		_, err := d.Var.UpdateLB(d.Value + 1)
		return err
	default:
		return nil
	}
}

// String renders the decision.
func (d Decision) String() string {
	switch d.Kind {
	case DecideAssign:
		return fmt.Sprintf("%s = %d", d.Var.Name(), d.Value)
	case DecideSplit:
		return fmt.Sprintf("%s <= %d", d.Var.Name(), d.Value)
	default:
		return "apply " + d.Label
	}
}

// Strategy picks the next decision. It returns false once it has nothing left to decide.
type Strategy interface {
	Next(s *Store) (Decision, bool)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(s *Store) (Decision, bool)

// Next implements Strategy.
func (f StrategyFunc) Next(s *Store) (Decision, bool) {
	return f(s)
}

// Outcome is the terminal status of a search.
type Outcome int

const (
	// OutcomeUnknown means no solution was found before a limit was reached.
	OutcomeUnknown Outcome = iota
	// OutcomeInfeasible means the search space was exhausted without solution.
	OutcomeInfeasible
	// OutcomeImprovable means a solution was found but optimality is not proven. A
	// search without objective stops at its first solution with this outcome, limit
	// hit or not, since nothing ranks that solution against the others.
	OutcomeImprovable
	// OutcomeOptimal means the best solution was found and proven optimal.
	OutcomeOptimal
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeInfeasible:
		return "INFEASIBLE"
	case OutcomeImprovable:
		return "IMPROVABLE"
	case OutcomeOptimal:
		return "OPTIMAL"
	default:
		return "UNKNOWN"
	}
}

// HasSolution reports whether the outcome carries a solution.
func (o Outcome) HasSolution() bool {
	return o == OutcomeImprovable || o == OutcomeOptimal
}

// Limits bounds a search. Zero values mean unlimited.
type Limits struct {
	TimeLimit time.Duration
	NodeLimit int
}

// SolutionStat describes when a solution was found.
type SolutionStat struct {
	Nodes     int
	Elapsed   time.Duration
	Objective int
}

// Statistics summarises a search.
type Statistics struct {
	Nodes      int
	Backtracks int
	Fails      int
	Elapsed    time.Duration
	Solutions  []SolutionStat
	LimitHit   bool
}

// Monitor observes the search.
type Monitor interface {
	OnDecision(d Decision, depth int)
	OnFailure(err error)
	OnSolution(stat SolutionStat)
}

// Search is a depth-first branch-and-bound driver.
type Search struct {
	store     *Store
	strategy  Strategy
	objective IntVar
	limits    Limits
	monitors  []Monitor

	onSolution func() error

	stats   Statistics
	best    int
	hasBest bool
	stack   []frame
}

type frame struct {
	d       Decision
	refuted bool
}

// NewSearch creates a search over s driven by strategy.
func NewSearch(s *Store, strategy Strategy) *Search {
	return &Search{store: s, strategy: strategy}
}

// Minimize makes the search look for solutions with a strictly decreasing objective.
func (sr *Search) Minimize(obj IntVar) *Search {
	sr.objective = obj
	return sr
}

// WithLimits sets the search budget.
func (sr *Search) WithLimits(l Limits) *Search {
	sr.limits = l
	return sr
}

// AddMonitor registers an observer.
func (sr *Search) AddMonitor(m Monitor) *Search {
	sr.monitors = append(sr.monitors, m)
	return sr
}

// OnSolution registers fn, called at each solution while the store holds it.
func (sr *Search) OnSolution(fn func() error) *Search {
	sr.onSolution = fn
	return sr
}

// Statistics returns the counters of the last run.
func (sr *Search) Statistics() Statistics {
	return sr.stats
}

// Best returns the objective of the best solution.
func (sr *Search) Best() (int, bool) {
	return sr.best, sr.hasBest
}

func (sr *Search) limitReached(ctx context.Context, start time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	if sr.limits.TimeLimit > 0 && time.Since(start) >= sr.limits.TimeLimit {
		return true
	}
	return sr.limits.NodeLimit > 0 && sr.stats.Nodes >= sr.limits.NodeLimit
}

func (sr *Search) fail(err error) {
	sr.stats.Fails++
	for _, m := range sr.monitors {
		m.OnFailure(err)
	}
}

// Run explores the search tree. Contradictions are absorbed by backtracking; any other
// error raised by a propagator, a decision or the solution callback aborts the search.
// Without Minimize, Run returns OutcomeImprovable at the first solution.
func (sr *Search) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()
	sr.stats = Statistics{}
	sr.hasBest = false
	sr.stack = sr.stack[:0]

	rootWorld := sr.store.WorldIndex()
	sr.store.PushWorld()
	defer func() {
		sr.stats.Elapsed = time.Since(start)
		sr.stack = sr.stack[:0]
		for sr.store.WorldIndex() > rootWorld {
			sr.store.PopWorld()
		}
	}()

	if err := sr.store.Propagate(); err != nil {
		if IsContradiction(err) {
			sr.fail(err)
			return OutcomeInfeasible, nil
		}
		return OutcomeUnknown, err
	}

	exhausted := false
	for !exhausted {
		if sr.limitReached(ctx, start) {
			sr.stats.LimitHit = true
			break
		}
		d, ok := sr.strategy.Next(sr.store)
		if !ok && sr.objective.Valid() && !sr.objective.IsInstantiated() {
			d, ok = Assign(sr.objective, sr.objective.LB()), true
		}
		if !ok {
			if err := sr.solution(start); err != nil {
				return OutcomeUnknown, err
			}
			if !sr.objective.Valid() {
				return OutcomeImprovable, nil
			}
			more, err := sr.backtrack()
			if err != nil {
				return OutcomeUnknown, err
			}
			exhausted = !more
			continue
		}
		sr.stats.Nodes++
		for _, m := range sr.monitors {
			m.OnDecision(d, len(sr.stack))
		}
		sr.store.PushWorld()
		sr.stack = append(sr.stack, frame{d: d})
		err := d.apply()
		if err == nil {
			err = sr.store.Propagate()
		}
		if err == nil {
			continue
		}
		if !IsContradiction(err) {
			return OutcomeUnknown, err
		}
		sr.fail(err)
		more, err := sr.backtrack()
		if err != nil {
			return OutcomeUnknown, err
		}
		exhausted = !more
	}

	solved := len(sr.stats.Solutions) > 0
	switch {
	case exhausted && solved:
		return OutcomeOptimal, nil
	case exhausted:
		return OutcomeInfeasible, nil
	case solved:
		return OutcomeImprovable, nil
	default:
		return OutcomeUnknown, nil
	}
}

func (sr *Search) solution(start time.Time) error {
	stat := SolutionStat{Nodes: sr.stats.Nodes, Elapsed: time.Since(start)}
	if sr.objective.Valid() {
		stat.Objective = sr.objective.Value()
		sr.best, sr.hasBest = stat.Objective, true
	}
	sr.stats.Solutions = append(sr.stats.Solutions, stat)
	for _, m := range sr.monitors {
		m.OnSolution(stat)
	}
	if sr.onSolution != nil {
		return sr.onSolution()
	}
	return nil
}

// backtrack pops choice points until a decision can be refuted consistently.
// It returns false once the tree is exhausted.
func (sr *Search) backtrack() (bool, error) {
	for len(sr.stack) > 0 {
		f := sr.stack[len(sr.stack)-1]
		sr.stack = sr.stack[:len(sr.stack)-1]
		sr.store.PopWorld()
		sr.stats.Backtracks++
		if f.refuted || f.d.Kind == DecideApply {
			continue
		}
		sr.store.PushWorld()
		sr.stack = append(sr.stack, frame{d: f.d, refuted: true})
		err := f.d.refute()
		if err == nil && sr.hasBest {
			_, err = sr.objective.UpdateUB(sr.best - 1)
		}
		if err == nil {
			err = sr.store.Propagate()
		}
		if err == nil {
			return true, nil
		}
		if !IsContradiction(err) {
			return false, err
		}
		sr.fail(err)
	}
	return false, nil
}
