package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/placement"
	"github.com/limiquantix/planner/internal/reconfig"
	"github.com/limiquantix/planner/internal/scheduler"
	"github.com/limiquantix/planner/internal/solver"
)

// Scenario is a self-contained planning problem read from a YAML file.
type Scenario struct {
	Nodes       []*domain.Node           `yaml:"nodes"`
	VMs         []*domain.VirtualMachine `yaml:"vms"`
	Targets     Targets                  `yaml:"targets"`
	Constraints []placement.Spec         `yaml:"constraints"`
	// Durations maps an action kind to its duration.
	Durations map[string]int `yaml:"durations"`
	Capacity  Capacity       `yaml:"capacity"`
	Solver    SolverOptions  `yaml:"solver"`
}

// Targets lists the VMs that must reach each state. They add to the desired states
// declared on the VMs.
type Targets struct {
	Ready    []string `yaml:"ready"`
	Running  []string `yaml:"running"`
	Sleeping []string `yaml:"sleeping"`
	Killed   []string `yaml:"killed"`
}

// Capacity tunes how node hardware turns into schedulable capacity.
type Capacity struct {
	OvercommitCPU     float64 `yaml:"overcommitCPU"`
	OvercommitMemory  float64 `yaml:"overcommitMemory"`
	ReservedCPUCores  *int    `yaml:"reservedCPUCores"`
	ReservedMemoryMiB *int    `yaml:"reservedMemoryMiB"`
}

// SolverOptions overrides the default solver settings.
type SolverOptions struct {
	TimeLimit      time.Duration `yaml:"timeLimit"`
	NodeLimit      int           `yaml:"nodeLimit"`
	Optimize       *bool         `yaml:"optimize"`
	Repair         *bool         `yaml:"repair"`
	MaxEnd         int           `yaml:"maxEnd"`
	Strategy       string        `yaml:"strategy"`
	Seed           int64         `yaml:"seed"`
	DeferObjective *bool         `yaml:"deferObjective"`
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(sc.Nodes) == 0 {
		return nil, fmt.Errorf("scenario declares no node: %w", domain.ErrInvalidArgument)
	}
	return &sc, nil
}

// SchedulerConfig returns the capacity settings of the scenario.
func (sc *Scenario) SchedulerConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	if sc.Capacity.OvercommitCPU > 0 {
		cfg.OvercommitCPU = sc.Capacity.OvercommitCPU
	}
	if sc.Capacity.OvercommitMemory > 0 {
		cfg.OvercommitMemory = sc.Capacity.OvercommitMemory
	}
	if sc.Capacity.ReservedCPUCores != nil {
		cfg.ReservedCPUCores = *sc.Capacity.ReservedCPUCores
	}
	if sc.Capacity.ReservedMemoryMiB != nil {
		cfg.ReservedMemoryMiB = *sc.Capacity.ReservedMemoryMiB
	}
	return cfg
}

// SolverConfig returns the solver settings of the scenario.
func (sc *Scenario) SolverConfig() solver.Config {
	cfg := solver.DefaultConfig()
	o := sc.Solver
	if o.TimeLimit > 0 {
		cfg.TimeLimit = o.TimeLimit
	}
	cfg.NodeLimit = o.NodeLimit
	cfg.MaxEnd = o.MaxEnd
	if o.Optimize != nil {
		cfg.Optimize = *o.Optimize
	}
	if o.Repair != nil {
		cfg.Repair = *o.Repair
	}
	if o.DeferObjective != nil {
		cfg.DeferObjective = *o.DeferObjective
	}
	if o.Strategy != "" {
		cfg.PlacementStrategy = o.Strategy
	}
	if o.Seed != 0 {
		cfg.Seed = o.Seed
	}
	return cfg
}

// Instance builds the planning instance of the scenario.
func (sc *Scenario) Instance() (*solver.Instance, error) {
	m, err := scheduler.BuildModel(sc.Nodes, sc.VMs, sc.SchedulerConfig())
	if err != nil {
		return nil, err
	}

	constraints, err := scheduler.PolicyConstraints(m)
	if err != nil {
		return nil, err
	}
	explicit, err := placement.BuildAll(sc.Constraints)
	if err != nil {
		return nil, err
	}
	constraints = append(constraints, explicit...)

	var durations *reconfig.DurationEvaluators
	if len(sc.Durations) > 0 {
		if durations, err = reconfig.DurationsFromMap(sc.Durations); err != nil {
			return nil, err
		}
	}

	inst := &solver.Instance{
		Model:       m,
		Ready:       append([]string(nil), sc.Targets.Ready...),
		Running:     append([]string(nil), sc.Targets.Running...),
		Sleeping:    append([]string(nil), sc.Targets.Sleeping...),
		Killed:      append([]string(nil), sc.Targets.Killed...),
		Constraints: constraints,
		Durations:   durations,
	}

	targeted := make(map[string]bool)
	for _, ids := range [][]string{inst.Ready, inst.Running, inst.Sleeping, inst.Killed} {
		for _, id := range ids {
			targeted[id] = true
		}
	}
	for _, vm := range m.VMs() {
		want := vm.Spec.DesiredState
		if want == "" || want == vm.Status.State || targeted[vm.ID] {
			continue
		}
		switch want {
		case domain.VMStateReady:
			inst.Ready = append(inst.Ready, vm.ID)
		case domain.VMStateRunning:
			inst.Running = append(inst.Running, vm.ID)
		case domain.VMStateSleeping:
			inst.Sleeping = append(inst.Sleeping, vm.ID)
		case domain.VMStateKilled:
			inst.Killed = append(inst.Killed, vm.ID)
		default:
			return nil, fmt.Errorf("vm %s: unsupported desired state %q: %w", vm.ID, want, domain.ErrInvalidArgument)
		}
	}
	return inst, nil
}
