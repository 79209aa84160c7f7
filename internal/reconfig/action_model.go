package reconfig

import (
	"github.com/limiquantix/planner/internal/cp"
	"github.com/limiquantix/planner/internal/domain"
)

// ModelKind identifies the transition an ActionModel encodes.
type ModelKind int

const (
	ModelBootVM ModelKind = iota
	ModelShutdownVM
	ModelSuspendVM
	ModelResumeVM
	ModelRelocatable
	ModelStayRunning
	ModelStayAway
	ModelForgeVM
	ModelKillVM
	ModelBootableNode
	ModelShutdownableNode
)

var modelKindNames = [...]string{
	ModelBootVM:           "bootVM",
	ModelShutdownVM:       "shutdownVM",
	ModelSuspendVM:        "suspendVM",
	ModelResumeVM:         "resumeVM",
	ModelRelocatable:      "relocatable",
	ModelStayRunning:      "stayRunning",
	ModelStayAway:         "stayAway",
	ModelForgeVM:          "forgeVM",
	ModelKillVM:           "killVM",
	ModelBootableNode:     "bootableNode",
	ModelShutdownableNode: "shutdownableNode",
}

func (k ModelKind) String() string {
	if int(k) < len(modelKindNames) {
		return modelKindNames[k]
	}
	return "unknown"
}

// ActionModel is the constraint encoding of the transition of one VM or one node.
//
// Every model exposes its start, end and duration and a state variable: for a VM, 1 when
// it ends running, for a node, 1 when it ends online. The slices, the relocation variables
// and the hosting window are only set for the kinds that need them.
type ActionModel struct {
	kind    ModelKind
	subject string

	from, to domain.VMState
	// source is the node currently hosting the VM, empty when there is none.
	source string

	start, end, duration cp.IntVar
	state                cp.IntVar

	cSlice, dSlice *Slice

	stay, method cp.IntVar
	template     string
	costs        relocationCosts

	hostingStart, hostingEnd cp.IntVar
}

type relocationCosts struct {
	migrate, forge, boot, shutdown int
	reinstantiable                 bool
}

// Kind returns the transition kind.
func (a *ActionModel) Kind() ModelKind { return a.kind }

// Subject returns the VM or node identifier.
func (a *ActionModel) Subject() string { return a.subject }

// Start returns the moment the action starts.
func (a *ActionModel) Start() cp.IntVar { return a.start }

// End returns the moment the action ends.
func (a *ActionModel) End() cp.IntVar { return a.end }

// Duration returns the action duration.
func (a *ActionModel) Duration() cp.IntVar { return a.duration }

// State returns the final state variable.
func (a *ActionModel) State() cp.IntVar { return a.state }

// CSlice returns the consuming slice, nil when the subject leaves no footprint.
func (a *ActionModel) CSlice() *Slice { return a.cSlice }

// DSlice returns the demanding slice, nil when the subject ends outside any node.
func (a *ActionModel) DSlice() *Slice { return a.dSlice }

// Stay returns the variable telling whether a relocatable VM keeps its host.
func (a *ActionModel) Stay() cp.IntVar { return a.stay }

// Method returns the relocation method variable: 0 migrates, 1 re-instantiates.
func (a *ActionModel) Method() cp.IntVar { return a.method }

// HostingStart returns the moment a node can start hosting VMs.
func (a *ActionModel) HostingStart() cp.IntVar { return a.hostingStart }

// HostingEnd returns the moment a node stops hosting VMs.
func (a *ActionModel) HostingEnd() cp.IntVar { return a.hostingEnd }

// Source returns the node currently hosting the VM.
func (a *ActionModel) Source() string { return a.source }

// Transition returns the current and next state of a VM.
func (a *ActionModel) Transition() (domain.VMState, domain.VMState) { return a.from, a.to }

// IsTrivial reports whether the action cannot last.
func (a *ActionModel) IsTrivial() bool { return a.duration.UB() == 0 }
