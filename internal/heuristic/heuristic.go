// Package heuristic drives the branch and bound exploration of a reconfiguration problem
// toward plans with few and short actions.
package heuristic

import (
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/reconfig"
)

// PlacementStrategy chooses the host tried first when a VM has to leave its node.
type PlacementStrategy string

const (
	// PlacementWorstFit prefers the least loaded node.
	PlacementWorstFit PlacementStrategy = "worst-fit"
	// PlacementRandom draws a node among the candidates.
	PlacementRandom PlacementStrategy = "random"
	// PlacementQuartile draws a node among the least loaded quarter of the candidates.
	PlacementQuartile PlacementStrategy = "quartile"
)

// ParsePlacementStrategy validates a strategy name. An empty name means worst fit.
func ParsePlacementStrategy(s string) (PlacementStrategy, error) {
	switch PlacementStrategy(s) {
	case "", PlacementWorstFit:
		return PlacementWorstFit, nil
	case PlacementRandom, PlacementQuartile:
		return PlacementStrategy(s), nil
	default:
		return "", fmt.Errorf("placement strategy %q: %w", s, domain.ErrInvalidArgument)
	}
}

// Options tune the heuristics.
type Options struct {
	Placement PlacementStrategy
	// Rand feeds the random placement strategies. Nil uses a fixed seed.
	Rand *rand.Rand
	// Misplaced VMs are placed first.
	Misplaced []string
	Logger    *zap.Logger
}

// Heuristic is the phased search strategy of a reconfiguration problem.
type Heuristic struct {
	p      *reconfig.Problem
	opts   Options
	logger *zap.Logger

	placements int
	graph      *movementGraph

	phases cp.Strategy
}

// New builds the search strategy of p. p must be sealed.
//
// The phases run in order: hosts of the misplaced VMs, hosts of the other VMs, the
// relocation methods, the node states, the start times, the end times, the activation of
// a deferred objective, then every remaining variable.
func New(p *reconfig.Problem, opts Options) *Heuristic {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Placement == "" {
		opts.Placement = PlacementWorstFit
	}
	h := &Heuristic{
		p:      p,
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "heuristic")),
	}
	h.graph = newMovementGraph(p)

	misplaced, others := h.hostPhases()
	value := h.placementSelector()
	h.phases = cp.Sequence(
		h.counting(cp.NewIntStrategy(misplaced, cp.InputOrder, value)),
		h.counting(cp.NewIntStrategy(others, cp.InputOrder, value)),
		cp.NewIntStrategy(h.methods(), cp.InputOrder, cp.MaxValue),
		cp.NewIntStrategy(h.nodeStates(), cp.InputOrder, h.keepNodeState),
		cp.StrategyFunc(h.nextStart),
		cp.NewIntStrategy(h.ends(), cp.SmallestLB, cp.MinValue),
		cp.StrategyFunc(h.activateObjective),
		cp.NewIntStrategy(p.DecisionVars(), cp.InputOrder, cp.MinValue),
	)
	h.logger.Debug("heuristic ready",
		zap.Int("misplaced", len(misplaced)),
		zap.Int("others", len(others)),
		zap.String("placement", string(opts.Placement)),
	)
	return h
}

// Next implements cp.Strategy.
func (h *Heuristic) Next(s *cp.Store) (cp.Decision, bool) {
	return h.phases.Next(s)
}

type countingStrategy struct {
	inner cp.Strategy
	count *int
}

func (c countingStrategy) Next(s *cp.Store) (cp.Decision, bool) {
	d, ok := c.inner.Next(s)
	if ok {
		*c.count++
	}
	return d, ok
}

// counting wraps a placement phase so its decisions invalidate the movement graph.
func (h *Heuristic) counting(st cp.Strategy) cp.Strategy {
	return countingStrategy{inner: st, count: &h.placements}
}

// hostPhases splits the demanding slice hosts between misplaced VMs and the others, each
// group ordered by decreasing resource weight.
func (h *Heuristic) hostPhases() ([]cp.IntVar, []cp.IntVar) {
	misplaced := make(map[string]bool, len(h.opts.Misplaced))
	for _, vm := range h.opts.Misplaced {
		misplaced[vm] = true
	}
	var first, rest []*reconfig.ActionModel
	for _, a := range h.p.VMActions() {
		if a.DSlice() == nil || a.DSlice().Host.IsInstantiated() {
			continue
		}
		if misplaced[a.Subject()] {
			first = append(first, a)
		} else {
			rest = append(rest, a)
		}
	}
	weights := newWeigher(h.p)
	order := func(actions []*reconfig.ActionModel) []cp.IntVar {
		sort.SliceStable(actions, func(i, j int) bool {
			return weights.weight(actions[i].Subject()) > weights.weight(actions[j].Subject())
		})
		out := make([]cp.IntVar, len(actions))
		for i, a := range actions {
			out[i] = a.DSlice().Host
		}
		return out
	}
	return order(first), order(rest)
}

func (h *Heuristic) methods() []cp.IntVar {
	var out []cp.IntVar
	for _, a := range h.p.VMActions() {
		if m := a.Method(); m.Valid() && !m.IsInstantiated() {
			out = append(out, m)
		}
	}
	return out
}

func (h *Heuristic) nodeStates() []cp.IntVar {
	return h.p.NodeStates()
}

// keepNodeState prefers the current state of a node: a booted node stays online and an
// offline node stays offline.
func (h *Heuristic) keepNodeState(x cp.IntVar) int {
	for _, a := range h.p.NodeActions() {
		if a.State() != x {
			continue
		}
		if a.Kind() == reconfig.ModelShutdownableNode {
			return x.UB()
		}
		return x.LB()
	}
	return x.LB()
}

func (h *Heuristic) ends() []cp.IntVar {
	var out []cp.IntVar
	for _, a := range h.p.VMActions() {
		out = append(out, a.End())
	}
	for _, a := range h.p.NodeActions() {
		out = append(out, a.End())
	}
	return out
}

func (h *Heuristic) activateObjective(*cp.Store) (cp.Decision, bool) {
	sum := h.p.ObjectiveSum()
	if sum == nil || sum.Active() {
		return cp.Decision{}, false
	}
	return cp.Apply("objective", func() error {
		h.p.ActivateObjective()
		return nil
	}), true
}
