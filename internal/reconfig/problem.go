// Package reconfig turns a model and the desired states of its VMs into a constraint
// problem whose solutions are reconfiguration plans.
package reconfig

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/propagator"
)

// Parameters describe what the problem must reach and how.
type Parameters struct {
	// Target states. Every VM must appear in exactly one set, except INIT VMs that stay
	// declared when they appear in none.
	Ready    []string
	Running  []string
	Sleeping []string
	Killed   []string

	// Manageable restricts the running VMs allowed to move. Nil means all of them.
	Manageable []string

	// MaxEnd bounds the horizon. Zero computes a bound from the durations.
	MaxEnd int

	Durations *DurationEvaluators
	Logger    *zap.Logger
}

// Problem is the constraint model of one reconfiguration.
type Problem struct {
	model     *domain.Model
	store     *cp.Store
	durations *DurationEvaluators
	logger    *zap.Logger

	nodes     []string
	nodeIndex map[string]int
	vms       []string
	vmIndex   map[string]int

	nextStates map[string]domain.VMState
	manageable map[string]bool

	start, end cp.IntVar
	maxEnd     int

	vmActions   []*ActionModel
	nodeActions []*ActionModel

	counts   []cp.IntVar
	offlines []cp.IntVar

	dims  []string
	loads [][]cp.IntVar

	exempt map[string]bool

	objective    cp.IntVar
	objectiveSum *cp.LinearSum
	sealed       bool
}

// NewProblem assembles the problem. It fails when a VM has no or several target states,
// when no transition reaches the requested state or when an action lacks an attribute.
func NewProblem(m *domain.Model, params Parameters) (*Problem, error) {
	p := &Problem{
		model:     m,
		store:     cp.NewStore(),
		durations: params.Durations,
		logger:    params.Logger,
		nodeIndex: make(map[string]int),
		vmIndex:   make(map[string]int),
		exempt:    make(map[string]bool),
	}
	if p.durations == nil {
		p.durations = NewDurationEvaluators()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("component", "reconfig"))

	mapping := m.Mapping()
	for _, n := range mapping.Nodes() {
		p.nodeIndex[n] = len(p.nodes)
		p.nodes = append(p.nodes, n)
	}
	if len(p.nodes) == 0 {
		return nil, fmt.Errorf("model without nodes: %w", domain.ErrInvalidArgument)
	}
	for _, vm := range mapping.VMs() {
		if st, _ := mapping.VMState(vm); st == domain.VMStateKilled {
			continue
		}
		p.vmIndex[vm] = len(p.vms)
		p.vms = append(p.vms, vm)
	}

	if err := p.resolveNextStates(params); err != nil {
		return nil, err
	}
	if params.Manageable != nil {
		p.manageable = make(map[string]bool, len(params.Manageable))
		for _, vm := range params.Manageable {
			if _, ok := p.vmIndex[vm]; !ok {
				return nil, fmt.Errorf("manageable vm %s: %w", vm, domain.ErrUnknownVM)
			}
			p.manageable[vm] = true
		}
	}

	maxEnd := params.MaxEnd
	if maxEnd <= 0 {
		var err error
		if maxEnd, err = p.defaultMaxEnd(); err != nil {
			return nil, err
		}
	}
	p.maxEnd = maxEnd
	p.start = p.store.Constant(0)
	p.end = p.store.NewIntVar("horizon.end", 0, maxEnd)

	if err := p.buildNodeModels(); err != nil {
		return nil, err
	}
	if err := p.buildVMModels(); err != nil {
		return nil, err
	}
	p.linkCounts()
	p.buildDimensions()
	if err := p.store.Propagate(); err != nil {
		return nil, fmt.Errorf("inconsistent initial state: %w", err)
	}
	p.logger.Debug("problem assembled",
		zap.Int("nodes", len(p.nodes)),
		zap.Int("vms", len(p.vms)),
		zap.Int("max_end", p.maxEnd),
		zap.Int("variables", p.store.NumVars()),
	)
	return p, nil
}

func (p *Problem) resolveNextStates(params Parameters) error {
	p.nextStates = make(map[string]domain.VMState, len(p.vms))
	seen := make(map[string]int, len(p.vms))
	sets := []struct {
		state domain.VMState
		vms   []string
	}{
		{domain.VMStateReady, params.Ready},
		{domain.VMStateRunning, params.Running},
		{domain.VMStateSleeping, params.Sleeping},
		{domain.VMStateKilled, params.Killed},
	}
	for _, set := range sets {
		for _, vm := range set.vms {
			if !p.model.HasVM(vm) {
				return fmt.Errorf("vm %s in %s targets: %w", vm, set.state, domain.ErrUnknownVM)
			}
			if _, ok := p.vmIndex[vm]; !ok {
				if set.state == domain.VMStateKilled {
					continue
				}
				return fmt.Errorf("vm %s is killed, cannot reach %s: %w", vm, set.state, domain.ErrNoTransition)
			}
			seen[vm]++
			p.nextStates[vm] = set.state
		}
	}
	for _, vm := range p.vms {
		switch seen[vm] {
		case 1:
		case 0:
			if st, _ := p.model.Mapping().VMState(vm); st == domain.VMStateInit {
				p.nextStates[vm] = domain.VMStateInit
				continue
			}
			return fmt.Errorf("vm %s has no target state: %w", vm, domain.ErrAmbiguousState)
		default:
			return fmt.Errorf("vm %s has %d target states: %w", vm, seen[vm], domain.ErrAmbiguousState)
		}
	}
	return nil
}

// defaultMaxEnd bounds the horizon by the duration of a fully sequential schedule.
func (p *Problem) defaultMaxEnd() (int, error) {
	total := 0
	for _, vm := range p.vms {
		longest := 0
		for _, k := range AllKinds {
			d, err := p.durations.Evaluate(p.model, k, vm)
			if err != nil {
				return 0, err
			}
			longest = max(longest, d)
		}
		// a re-instantiation chains a forge, a boot and a shutdown
		total += 3 * longest
	}
	for _, n := range p.nodes {
		for _, k := range AllKinds {
			if !isNodeKind(k) {
				continue
			}
			d, err := p.durations.Evaluate(p.model, k, n)
			if err != nil {
				return 0, err
			}
			total += d
		}
	}
	return max(total, 1), nil
}

func (p *Problem) buildNodeModels() error {
	for _, n := range p.nodes {
		build := buildShutdownableNode
		if !p.model.Mapping().IsOnline(n) {
			build = buildBootableNode
		}
		a, err := build(p, n)
		if err != nil {
			return fmt.Errorf("failed to build the model of node %s: %w", n, err)
		}
		p.nodeActions = append(p.nodeActions, a)
	}
	return nil
}

func (p *Problem) buildVMModels() error {
	for _, vm := range p.vms {
		from, _ := p.model.Mapping().VMState(vm)
		build, err := lookupVMTransition(from, p.nextStates[vm])
		if err != nil {
			return fmt.Errorf("vm %s: %w", vm, err)
		}
		a, err := build(p, vm)
		if err != nil {
			return fmt.Errorf("failed to build the model of vm %s: %w", vm, err)
		}
		p.vmActions = append(p.vmActions, a)
	}
	return nil
}

// linkCounts counts the VMs each node ends up running and forbids any on a node that
// ends offline.
func (p *Problem) linkCounts() {
	s := p.store
	hosts := p.DSliceHosts()
	for i, n := range p.nodes {
		count := s.NewIntVar(n+".nbRunning", 0, len(hosts))
		cp.Count(hosts, i, count)
		offline := s.NewBoolVar(n + ".offline")
		cp.BoolNot(offline, p.nodeActions[i].state)
		propagator.NewImpliesEqual(offline, count, 0)
		p.counts = append(p.counts, count)
		p.offlines = append(p.offlines, offline)
	}
}

// buildDimensions creates one load variable per node and resource dimension.
func (p *Problem) buildDimensions() {
	for _, r := range p.model.Resources() {
		loads := make([]cp.IntVar, len(p.nodes))
		for i, n := range p.nodes {
			loads[i] = p.store.NewIntVar(n+"."+r.Name()+".load", 0, max(r.Capacity(n), 0))
		}
		p.dims = append(p.dims, r.Name())
		p.loads = append(p.loads, loads)
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Store returns the constraint store.
func (p *Problem) Store() *cp.Store { return p.store }

// Model returns the source model.
func (p *Problem) Model() *domain.Model { return p.model }

// Logger returns the problem logger.
func (p *Problem) Logger() *zap.Logger { return p.logger }

// Start returns the beginning of the horizon.
func (p *Problem) Start() cp.IntVar { return p.start }

// End returns the end of the horizon.
func (p *Problem) End() cp.IntVar { return p.end }

// MaxEnd returns the upper bound of the horizon.
func (p *Problem) MaxEnd() int { return p.maxEnd }

// Nodes returns the nodes by index.
func (p *Problem) Nodes() []string { return append([]string(nil), p.nodes...) }

// VMs returns the VMs by index.
func (p *Problem) VMs() []string { return append([]string(nil), p.vms...) }

// NodeIndex returns the index of node.
func (p *Problem) NodeIndex(node string) (int, error) {
	i, ok := p.nodeIndex[node]
	if !ok {
		return -1, fmt.Errorf("node %s: %w", node, domain.ErrUnknownNode)
	}
	return i, nil
}

// VMIndex returns the index of vm.
func (p *Problem) VMIndex(vm string) (int, error) {
	i, ok := p.vmIndex[vm]
	if !ok {
		return -1, fmt.Errorf("vm %s: %w", vm, domain.ErrUnknownVM)
	}
	return i, nil
}

// Node returns the node at index i.
func (p *Problem) Node(i int) string { return p.nodes[i] }

// VMAction returns the model of vm.
func (p *Problem) VMAction(vm string) (*ActionModel, error) {
	i, err := p.VMIndex(vm)
	if err != nil {
		return nil, err
	}
	return p.vmActions[i], nil
}

// NodeAction returns the model of node.
func (p *Problem) NodeAction(node string) (*ActionModel, error) {
	i, err := p.NodeIndex(node)
	if err != nil {
		return nil, err
	}
	return p.nodeActions[i], nil
}

// VMActions returns the VM models by index.
func (p *Problem) VMActions() []*ActionModel { return append([]*ActionModel(nil), p.vmActions...) }

// NodeActions returns the node models by index.
func (p *Problem) NodeActions() []*ActionModel {
	return append([]*ActionModel(nil), p.nodeActions...)
}

// NextState returns the state vm must reach.
func (p *Problem) NextState(vm string) domain.VMState { return p.nextStates[vm] }

// IsManageable reports whether a running VM may change host.
func (p *Problem) IsManageable(vm string) bool {
	return p.manageable == nil || p.manageable[vm]
}

// NbRunningVMs returns, per node, the number of VMs running at the end.
func (p *Problem) NbRunningVMs() []cp.IntVar { return append([]cp.IntVar(nil), p.counts...) }

// NodeStates returns, per node, the state variable: 1 when it ends online.
func (p *Problem) NodeStates() []cp.IntVar {
	out := make([]cp.IntVar, len(p.nodeActions))
	for i, a := range p.nodeActions {
		out[i] = a.state
	}
	return out
}

// Dimensions returns the resource dimension names.
func (p *Problem) Dimensions() []string { return append([]string(nil), p.dims...) }

// Loads returns the final load variables of dimension d, by node.
func (p *Problem) Loads(d int) []cp.IntVar { return append([]cp.IntVar(nil), p.loads[d]...) }

// DSliceHosts returns the host variables of the demanding slices, in VM order.
func (p *Problem) DSliceHosts() []cp.IntVar {
	var out []cp.IntVar
	for _, a := range p.vmActions {
		if a.dSlice != nil {
			out = append(out, a.dSlice.Host)
		}
	}
	return out
}

// NewHostVar creates a variable ranging over every node index.
func (p *Problem) NewHostVar(name string) cp.IntVar {
	return p.store.NewEnumRangeVar(name, 0, len(p.nodes)-1)
}

// ExemptFromAnticipation stops the scheduler from bringing the arrival of vm forward.
// Continuous constraints that order arrivals use it.
func (p *Problem) ExemptFromAnticipation(vm string) {
	p.exempt[vm] = true
}

// Objective returns the objective variable, valid once the problem is sealed.
func (p *Problem) Objective() cp.IntVar { return p.objective }

// ObjectiveSum returns the sum defining the objective.
func (p *Problem) ObjectiveSum() *cp.LinearSum { return p.objectiveSum }
