package scheduler

import (
	"fmt"
	"sort"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/placement"
)

// BuildModel assembles a model from the inventory. Capacities account for the
// hypervisor reservations and the overcommit ratios.
func BuildModel(nodes []*domain.Node, vms []*domain.VirtualMachine, config Config) (*domain.Model, error) {
	m := domain.NewModel()
	for _, n := range nodes {
		if err := m.AddNode(n.Clone()); err != nil {
			return nil, fmt.Errorf("failed to add node %s: %w", n.ID, err)
		}
	}
	for _, vm := range vms {
		if err := m.AddVM(vm.Clone()); err != nil {
			return nil, fmt.Errorf("failed to add vm %s: %w", vm.ID, err)
		}
	}

	cpu := domain.NewShareableResource(domain.ResourceCPU, 0, 0)
	mem := domain.NewShareableResource(domain.ResourceMemory, 0, 0)
	for _, n := range m.Nodes() {
		cpu.SetCapacity(n.ID, allocatable(float64(n.Spec.CPU.TotalThreads()), float64(config.ReservedCPUCores), config.OvercommitCPU))
		mem.SetCapacity(n.ID, allocatable(float64(n.Spec.Memory.Allocatable()), float64(config.ReservedMemoryMiB), config.OvercommitMemory))
	}
	for _, vm := range m.VMs() {
		cpu.SetConsumption(vm.ID, int(vm.Spec.CPU.TotalCores()))
		mem.SetConsumption(vm.ID, int(vm.Spec.Memory.SizeMiB))
	}
	m.AddResource(cpu)
	m.AddResource(mem)
	return m, nil
}

func allocatable(total, reserved, ratio float64) int {
	if ratio <= 0 {
		ratio = 1
	}
	free := total - reserved
	if free < 0 {
		free = 0
	}
	return int(free * ratio)
}

// PolicyConstraints translates the placement policies of the VMs into constraints:
// a pinned or allowed node list becomes a fence, banned nodes a ban and VMs sharing an
// anti-affinity group are spread. Node references may be IDs or hostnames.
func PolicyConstraints(m *domain.Model) ([]placement.Constraint, error) {
	var out []placement.Constraint
	groups := make(map[string][]string)
	for _, vm := range m.VMs() {
		policy := vm.Spec.Placement
		if policy == nil {
			continue
		}
		allowed := policy.AllowedNodeIDs
		if policy.NodeID != "" {
			allowed = []string{policy.NodeID}
		}
		if len(allowed) > 0 {
			nodes, err := resolveNodes(m, allowed)
			if err != nil {
				return nil, fmt.Errorf("vm %s: %w", vm.ID, err)
			}
			c, err := placement.NewFence([]string{vm.ID}, nodes)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		if len(policy.BannedNodeIDs) > 0 {
			nodes, err := resolveNodes(m, policy.BannedNodeIDs)
			if err != nil {
				return nil, fmt.Errorf("vm %s: %w", vm.ID, err)
			}
			c, err := placement.NewBan([]string{vm.ID}, nodes)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		if policy.AntiAffinity != "" {
			groups[policy.AntiAffinity] = append(groups[policy.AntiAffinity], vm.ID)
		}
	}

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	for _, g := range names {
		if len(groups[g]) < 2 {
			continue
		}
		c, err := placement.NewSpread(groups[g], false)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func resolveNodes(m *domain.Model, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, ok := resolveNode(m, ref)
		if !ok {
			return nil, fmt.Errorf("node %s: %w", ref, domain.ErrUnknownNode)
		}
		out = append(out, id)
	}
	return out, nil
}

func resolveNode(m *domain.Model, ref string) (string, bool) {
	if m.HasNode(ref) {
		return ref, true
	}
	for _, n := range m.Nodes() {
		if n.Hostname == ref {
			return n.ID, true
		}
	}
	return "", false
}
