// Package plan holds the concrete output of the planner: timed actions over a model.
package plan

import (
	"fmt"

	"github.com/limiquantix/planner/internal/domain"
)

// Kind identifies an action type.
type Kind string

const (
	KindBootVM       Kind = "boot"
	KindShutdownVM   Kind = "shutdown"
	KindMigrateVM    Kind = "migrate"
	KindSuspendVM    Kind = "suspend"
	KindResumeVM     Kind = "resume"
	KindForgeVM      Kind = "forge"
	KindKillVM       Kind = "kill"
	KindBootNode     Kind = "bootNode"
	KindShutdownNode Kind = "shutdownNode"
)

// Action is one timed step of a plan. Actions are immutable.
type Action interface {
	Kind() Kind
	// Subject is the VM or the node the action operates on.
	Subject() string
	Start() int
	End() int
	// Apply performs the action on m. It fails when m is not in the expected state.
	Apply(m *domain.Model) error
	// Record returns the stored form of the action.
	Record() domain.PlanAction
	String() string
}

type interval struct {
	start, end int
}

func (i interval) Start() int { return i.start }
func (i interval) End() int   { return i.end }

func expectVM(m *domain.Model, vm string, state domain.VMState, node string) error {
	st, ok := m.Mapping().VMState(vm)
	if !ok {
		return fmt.Errorf("vm %s: %w", vm, domain.ErrUnknownVM)
	}
	if st != state {
		return fmt.Errorf("vm %s is %s, expected %s: %w", vm, st, state, domain.ErrConflict)
	}
	if node != "" && m.Mapping().Location(vm) != node {
		return fmt.Errorf("vm %s is on %q, expected %s: %w", vm, m.Mapping().Location(vm), node, domain.ErrConflict)
	}
	return nil
}

// =============================================================================
// VM ACTIONS
// =============================================================================

// BootVM starts a ready VM on a node.
type BootVM struct {
	interval
	vm, dst string
}

// NewBootVM creates a boot action.
func NewBootVM(vm, dst string, start, end int) *BootVM {
	return &BootVM{interval: interval{start, end}, vm: vm, dst: dst}
}

func (a *BootVM) Kind() Kind          { return KindBootVM }
func (a *BootVM) Subject() string     { return a.vm }
func (a *BootVM) Destination() string { return a.dst }

// Apply implements Action.
func (a *BootVM) Apply(m *domain.Model) error {
	if err := expectVM(m, a.vm, domain.VMStateReady, ""); err != nil {
		return err
	}
	return m.SetVMState(a.vm, domain.VMStateRunning, a.dst)
}

// Record implements Action.
func (a *BootVM) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.vm, Destination: a.dst, Start: a.start, End: a.end}
}

func (a *BootVM) String() string {
	return fmt.Sprintf("%d:%d boot(vm=%s, on=%s)", a.start, a.end, a.vm, a.dst)
}

// ShutdownVM stops a running VM, which becomes ready.
type ShutdownVM struct {
	interval
	vm, src string
}

// NewShutdownVM creates a shutdown action.
func NewShutdownVM(vm, src string, start, end int) *ShutdownVM {
	return &ShutdownVM{interval: interval{start, end}, vm: vm, src: src}
}

func (a *ShutdownVM) Kind() Kind      { return KindShutdownVM }
func (a *ShutdownVM) Subject() string { return a.vm }
func (a *ShutdownVM) Source() string  { return a.src }

// Apply implements Action.
func (a *ShutdownVM) Apply(m *domain.Model) error {
	if err := expectVM(m, a.vm, domain.VMStateRunning, a.src); err != nil {
		return err
	}
	return m.SetVMState(a.vm, domain.VMStateReady, "")
}

// Record implements Action.
func (a *ShutdownVM) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.vm, Source: a.src, Start: a.start, End: a.end}
}

func (a *ShutdownVM) String() string {
	return fmt.Sprintf("%d:%d shutdown(vm=%s, on=%s)", a.start, a.end, a.vm, a.src)
}

// MigrateVM live-migrates a running VM between two nodes.
type MigrateVM struct {
	interval
	vm, src, dst string
}

// NewMigrateVM creates a migration.
func NewMigrateVM(vm, src, dst string, start, end int) *MigrateVM {
	return &MigrateVM{interval: interval{start, end}, vm: vm, src: src, dst: dst}
}

func (a *MigrateVM) Kind() Kind          { return KindMigrateVM }
func (a *MigrateVM) Subject() string     { return a.vm }
func (a *MigrateVM) Source() string      { return a.src }
func (a *MigrateVM) Destination() string { return a.dst }

// Apply implements Action.
func (a *MigrateVM) Apply(m *domain.Model) error {
	if err := expectVM(m, a.vm, domain.VMStateRunning, a.src); err != nil {
		return err
	}
	return m.SetVMState(a.vm, domain.VMStateRunning, a.dst)
}

// Record implements Action.
func (a *MigrateVM) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.vm, Source: a.src, Destination: a.dst, Start: a.start, End: a.end}
}

func (a *MigrateVM) String() string {
	return fmt.Sprintf("%d:%d migrate(vm=%s, from=%s, to=%s)", a.start, a.end, a.vm, a.src, a.dst)
}

// SuspendVM puts a running VM to sleep. The image is written on dst.
type SuspendVM struct {
	interval
	vm, src, dst string
}

// NewSuspendVM creates a suspend action.
func NewSuspendVM(vm, src, dst string, start, end int) *SuspendVM {
	return &SuspendVM{interval: interval{start, end}, vm: vm, src: src, dst: dst}
}

func (a *SuspendVM) Kind() Kind      { return KindSuspendVM }
func (a *SuspendVM) Subject() string { return a.vm }

// Apply implements Action.
func (a *SuspendVM) Apply(m *domain.Model) error {
	if err := expectVM(m, a.vm, domain.VMStateRunning, a.src); err != nil {
		return err
	}
	return m.SetVMState(a.vm, domain.VMStateSleeping, a.dst)
}

// Record implements Action.
func (a *SuspendVM) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.vm, Source: a.src, Destination: a.dst, Start: a.start, End: a.end}
}

func (a *SuspendVM) String() string {
	return fmt.Sprintf("%d:%d suspend(vm=%s, from=%s, to=%s)", a.start, a.end, a.vm, a.src, a.dst)
}

// ResumeVM wakes a sleeping VM up, possibly on another node.
type ResumeVM struct {
	interval
	vm, src, dst string
}

// NewResumeVM creates a resume action.
func NewResumeVM(vm, src, dst string, start, end int) *ResumeVM {
	return &ResumeVM{interval: interval{start, end}, vm: vm, src: src, dst: dst}
}

func (a *ResumeVM) Kind() Kind      { return KindResumeVM }
func (a *ResumeVM) Subject() string { return a.vm }

// Apply implements Action.
func (a *ResumeVM) Apply(m *domain.Model) error {
	if err := expectVM(m, a.vm, domain.VMStateSleeping, a.src); err != nil {
		return err
	}
	return m.SetVMState(a.vm, domain.VMStateRunning, a.dst)
}

// Record implements Action.
func (a *ResumeVM) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.vm, Source: a.src, Destination: a.dst, Start: a.start, End: a.end}
}

func (a *ResumeVM) String() string {
	return fmt.Sprintf("%d:%d resume(vm=%s, from=%s, to=%s)", a.start, a.end, a.vm, a.src, a.dst)
}

// ForgeVM creates a declared VM from its template. The VM becomes ready.
type ForgeVM struct {
	interval
	vm, template string
}

// NewForgeVM creates a forge action.
func NewForgeVM(vm, template string, start, end int) *ForgeVM {
	return &ForgeVM{interval: interval{start, end}, vm: vm, template: template}
}

func (a *ForgeVM) Kind() Kind       { return KindForgeVM }
func (a *ForgeVM) Subject() string  { return a.vm }
func (a *ForgeVM) Template() string { return a.template }

// Apply implements Action.
func (a *ForgeVM) Apply(m *domain.Model) error {
	if err := expectVM(m, a.vm, domain.VMStateInit, ""); err != nil {
		return err
	}
	return m.SetVMState(a.vm, domain.VMStateReady, "")
}

// Record implements Action.
func (a *ForgeVM) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.vm, Start: a.start, End: a.end}
}

func (a *ForgeVM) String() string {
	return fmt.Sprintf("%d:%d forge(vm=%s, template=%s)", a.start, a.end, a.vm, a.template)
}

// KillVM terminates a VM whatever its state. host is empty for VMs outside any node.
type KillVM struct {
	interval
	vm, host string
}

// NewKillVM creates a kill action.
func NewKillVM(vm, host string, start, end int) *KillVM {
	return &KillVM{interval: interval{start, end}, vm: vm, host: host}
}

func (a *KillVM) Kind() Kind      { return KindKillVM }
func (a *KillVM) Subject() string { return a.vm }

// Apply implements Action.
func (a *KillVM) Apply(m *domain.Model) error {
	st, ok := m.Mapping().VMState(a.vm)
	if !ok {
		return fmt.Errorf("vm %s: %w", a.vm, domain.ErrUnknownVM)
	}
	if st == domain.VMStateKilled {
		return fmt.Errorf("vm %s already killed: %w", a.vm, domain.ErrConflict)
	}
	return m.SetVMState(a.vm, domain.VMStateKilled, "")
}

// Record implements Action.
func (a *KillVM) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.vm, Source: a.host, Start: a.start, End: a.end}
}

func (a *KillVM) String() string {
	if a.host == "" {
		return fmt.Sprintf("%d:%d kill(vm=%s)", a.start, a.end, a.vm)
	}
	return fmt.Sprintf("%d:%d kill(vm=%s, on=%s)", a.start, a.end, a.vm, a.host)
}

// =============================================================================
// NODE ACTIONS
// =============================================================================

// BootNode powers a node on.
type BootNode struct {
	interval
	node string
}

// NewBootNode creates a node boot.
func NewBootNode(node string, start, end int) *BootNode {
	return &BootNode{interval: interval{start, end}, node: node}
}

func (a *BootNode) Kind() Kind      { return KindBootNode }
func (a *BootNode) Subject() string { return a.node }

// Apply implements Action.
func (a *BootNode) Apply(m *domain.Model) error {
	if st, _ := m.Mapping().NodeState(a.node); st != domain.NodeStateOffline {
		return fmt.Errorf("node %s is %q, expected %s: %w", a.node, st, domain.NodeStateOffline, domain.ErrConflict)
	}
	return m.SetNodeState(a.node, domain.NodeStateOnline)
}

// Record implements Action.
func (a *BootNode) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.node, Start: a.start, End: a.end}
}

func (a *BootNode) String() string {
	return fmt.Sprintf("%d:%d bootNode(node=%s)", a.start, a.end, a.node)
}

// ShutdownNode powers an empty node off.
type ShutdownNode struct {
	interval
	node string
}

// NewShutdownNode creates a node shutdown.
func NewShutdownNode(node string, start, end int) *ShutdownNode {
	return &ShutdownNode{interval: interval{start, end}, node: node}
}

func (a *ShutdownNode) Kind() Kind      { return KindShutdownNode }
func (a *ShutdownNode) Subject() string { return a.node }

// Apply implements Action.
func (a *ShutdownNode) Apply(m *domain.Model) error {
	if st, _ := m.Mapping().NodeState(a.node); st != domain.NodeStateOnline {
		return fmt.Errorf("node %s is %q, expected %s: %w", a.node, st, domain.NodeStateOnline, domain.ErrConflict)
	}
	return m.SetNodeState(a.node, domain.NodeStateOffline)
}

// Record implements Action.
func (a *ShutdownNode) Record() domain.PlanAction {
	return domain.PlanAction{Kind: string(a.Kind()), Subject: a.node, Start: a.start, End: a.end}
}

func (a *ShutdownNode) String() string {
	return fmt.Sprintf("%d:%d shutdownNode(node=%s)", a.start, a.end, a.node)
}
