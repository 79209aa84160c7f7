package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// ScheduleResponse is the answer to a scheduling request.
type ScheduleResponse struct {
	NodeID   string     `json:"node_id"`
	Hostname string     `json:"hostname"`
	Reason   string     `json:"reason"`
	Plan     *plan.Plan `json:"plan"`
}

// AnalyzeResponse is the answer to an on-demand analysis. Plan is nil when the
// cluster needs no change.
type AnalyzeResponse struct {
	Plan *domain.PlanRecord `json:"plan"`
}

// =============================================================================
// Inventory
// =============================================================================

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.nodeRepo.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var n domain.Node
	if !s.decode(w, r, &n) {
		return
	}
	if n.Hostname == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_argument", "hostname is required")
		return
	}
	if n.Status.State == "" {
		n.Status.State = domain.NodeStateOnline
	}
	created, err := s.nodeRepo.Create(r.Context(), &n)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listVMs(w http.ResponseWriter, r *http.Request) {
	var (
		vms []*domain.VirtualMachine
		err error
	)
	if nodeID := r.URL.Query().Get("node_id"); nodeID != "" {
		vms, err = s.vmRepo.ListByNodeID(r.Context(), nodeID)
	} else {
		vms, err = s.vmRepo.List(r.Context())
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vms)
}

func (s *Server) createVM(w http.ResponseWriter, r *http.Request) {
	var vm domain.VirtualMachine
	if !s.decode(w, r, &vm) {
		return
	}
	if vm.Name == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_argument", "name is required")
		return
	}
	if vm.Status.State == "" {
		vm.Status.State = domain.VMStateReady
	}
	created, err := s.vmRepo.Create(r.Context(), &vm)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listLoads(w http.ResponseWriter, r *http.Request) {
	loads, err := s.engine.Loads(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loads)
}

// =============================================================================
// Planning
// =============================================================================

// schedule finds a node for a VM described in the body, or for a stored VM when the
// body only carries its id.
func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var vm domain.VirtualMachine
	if !s.decode(w, r, &vm) {
		return
	}
	if vm.ID != "" && vm.Spec.CPU.Cores == 0 && vm.Spec.Memory.SizeMiB == 0 {
		stored, err := s.vmRepo.Get(r.Context(), vm.ID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		vm = *stored
	}
	if vm.ID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_argument", "id is required")
		return
	}

	res, err := s.scheduler.Schedule(r.Context(), &vm)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ScheduleResponse{
		NodeID:   res.NodeID,
		Hostname: res.Hostname,
		Reason:   res.Reason,
		Plan:     res.Plan,
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	if !s.leadership.IsLeader() {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "this instance is not the leader")
		return
	}
	rec, err := s.engine.Analyze(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, AnalyzeResponse{Plan: rec})
}

// =============================================================================
// Plans
// =============================================================================

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := parseStatus(q.Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
	}

	plans, err := s.engine.ListPlans(r.Context(), status, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if plans == nil {
		plans = []*domain.PlanRecord{}
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) approvePlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.ApprovePlan(r.Context(), r.PathValue("id"), middleware.Subject(r.Context()))
	s.writePlan(w, rec, err)
}

func (s *Server) applyPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.ApplyPlan(r.Context(), r.PathValue("id"), middleware.Subject(r.Context()))
	s.writePlan(w, rec, err)
}

func (s *Server) rejectPlan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.RejectPlan(r.Context(), r.PathValue("id"))
	s.writePlan(w, rec, err)
}

func (s *Server) writePlan(w http.ResponseWriter, rec *domain.PlanRecord, err error) {
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func parseStatus(raw string) (domain.PlanStatus, error) {
	if raw == "" {
		return "", nil
	}
	status := domain.PlanStatus(strings.ToUpper(raw))
	switch status {
	case domain.PlanStatusPending, domain.PlanStatusApproved, domain.PlanStatusApplied, domain.PlanStatusRejected:
		return status, nil
	}
	return "", fmt.Errorf("unknown plan status %q", raw)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("failed to decode request body: %v", err))
		return false
	}
	return true
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrUnknownVM),
		errors.Is(err, domain.ErrUnknownNode),
		errors.Is(err, domain.ErrInvalidConstraint),
		errors.Is(err, domain.ErrMissingAttribute):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrResourceExhausted):
		return http.StatusUnprocessableEntity, "resource_exhausted"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	s.writeError(w, status, code, err.Error())
}

// writeError writes an error JSON response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.logger.Warn("API error",
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("message", message),
	)
	s.writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
