package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// PLAN RECORDS - stored reconfiguration plans
// =============================================================================

// PlanPriority represents the urgency of a stored plan.
type PlanPriority string

const (
	PlanPriorityCritical PlanPriority = "CRITICAL"
	PlanPriorityHigh     PlanPriority = "HIGH"
	PlanPriorityMedium   PlanPriority = "MEDIUM"
	PlanPriorityLow      PlanPriority = "LOW"
)

// PlanStatus represents the approval status of a stored plan.
type PlanStatus string

const (
	PlanStatusPending  PlanStatus = "PENDING"
	PlanStatusApproved PlanStatus = "APPROVED"
	PlanStatusApplied  PlanStatus = "APPLIED"
	PlanStatusRejected PlanStatus = "REJECTED"
)

// PlanAction is the stored form of one scheduled action.
type PlanAction struct {
	Kind        string `json:"kind" yaml:"kind"`
	Subject     string `json:"subject" yaml:"subject"`
	Source      string `json:"source,omitempty" yaml:"source,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Start       int    `json:"start" yaml:"start"`
	End         int    `json:"end" yaml:"end"`
}

// PlanRecord is a computed plan waiting for approval or already processed.
type PlanRecord struct {
	ID            string            `json:"id"`
	Priority      PlanPriority      `json:"priority"`
	Reason        string            `json:"reason"`
	Outcome       string            `json:"outcome"`
	Objective     int               `json:"objective"`
	Duration      int               `json:"duration"`
	Actions       []PlanAction      `json:"actions"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
	Status        PlanStatus        `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ApprovedAt    *time.Time        `json:"approved_at,omitempty"`
	AppliedAt     *time.Time        `json:"applied_at,omitempty"`
	AppliedBy     string            `json:"applied_by,omitempty"`
}

// IsEmpty returns true if the plan schedules nothing.
func (r *PlanRecord) IsEmpty() bool {
	return len(r.Actions) == 0
}

// Transition moves the record to status, enforcing PENDING -> APPROVED -> APPLIED and
// PENDING|APPROVED -> REJECTED.
func (r *PlanRecord) Transition(to PlanStatus, by string, now time.Time) error {
	switch {
	case r.Status == PlanStatusPending && to == PlanStatusApproved:
		r.ApprovedAt = &now
	case r.Status == PlanStatusApproved && to == PlanStatusApplied:
		r.AppliedAt = &now
		r.AppliedBy = by
	case (r.Status == PlanStatusPending || r.Status == PlanStatusApproved) && to == PlanStatusRejected:
	default:
		return fmt.Errorf("plan %s: %s -> %s: %w", r.ID, r.Status, to, ErrConflict)
	}
	r.Status = to
	return nil
}

// Clone creates a deep copy of the record.
func (r *PlanRecord) Clone() *PlanRecord {
	c := *r
	c.Actions = append([]PlanAction(nil), r.Actions...)
	if r.Substitutions != nil {
		c.Substitutions = make(map[string]string, len(r.Substitutions))
		for k, v := range r.Substitutions {
			c.Substitutions[k] = v
		}
	}
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		c.ApprovedAt = &t
	}
	if r.AppliedAt != nil {
		t := *r.AppliedAt
		c.AppliedAt = &t
	}
	return &c
}
