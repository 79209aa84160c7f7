package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/drs"
	"github.com/limiquantix/planner/internal/repository/redis"
	"github.com/limiquantix/planner/internal/scheduler"
	"github.com/limiquantix/planner/internal/server/middleware"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Scheduler = scheduler.DefaultConfig()
	cfg.Solver.TimeLimit = 10 * time.Second
	cfg.DRS.AutomationLevel = "manual"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

// seedOverloaded registers two nodes of 8 usable vCPUs and overloads the first one.
func seedOverloaded(t *testing.T, h http.Handler, token string) {
	t.Helper()
	for _, hostname := range []string{"hot", "cold"} {
		rec := do(t, h, http.MethodPost, "/api/v1/nodes", domain.Node{
			ID:       hostname,
			Hostname: hostname,
			Spec: domain.NodeSpec{
				CPU:    domain.NodeCPUInfo{Sockets: 1, CoresPerSocket: 9, ThreadsPerCore: 1},
				Memory: domain.NodeMemoryInfo{TotalMiB: 17408},
			},
		}, token)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	for _, vm := range []struct {
		id    string
		cores int32
	}{{"a", 4}, {"b", 2}, {"c", 1}} {
		rec := do(t, h, http.MethodPost, "/api/v1/vms", domain.VirtualMachine{
			ID:     vm.id,
			Name:   vm.id,
			Spec:   domain.VMSpec{CPU: domain.CPUConfig{Cores: vm.cores}, Memory: domain.MemoryConfig{SizeMiB: 1024}},
			Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "hot"},
		}, token)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

// =============================================================================
// Health
// =============================================================================

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()

	for _, path := range []string{"/health", "/healthz", "/ready", "/live", "/api/v1/info"} {
		rec := do(t, h, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}

	rec := do(t, h, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "planner_")
}

// =============================================================================
// Plans
// =============================================================================

func TestAnalyzeAndApprovalWorkflow(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()
	seedOverloaded(t, h, "")

	rec := do(t, h, http.MethodGet, "/api/v1/loads", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var loads []drs.NodeLoad
	decodeBody(t, rec, &loads)
	require.Len(t, loads, 2)

	rec = do(t, h, http.MethodPost, "/api/v1/analyze", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var analyzed AnalyzeResponse
	decodeBody(t, rec, &analyzed)
	require.NotNil(t, analyzed.Plan)
	assert.Equal(t, domain.PlanStatusPending, analyzed.Plan.Status)
	require.Len(t, analyzed.Plan.Actions, 1)
	assert.Equal(t, "migrate", analyzed.Plan.Actions[0].Kind)
	assert.Equal(t, "c", analyzed.Plan.Actions[0].Subject)
	id := analyzed.Plan.ID

	rec = do(t, h, http.MethodGet, "/api/v1/plans?status=pending&limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []*domain.PlanRecord
	decodeBody(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	rec = do(t, h, http.MethodPost, "/api/v1/plans/"+id+"/apply", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/plans/"+id+"/approve", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/plans/"+id+"/apply", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var applied domain.PlanRecord
	decodeBody(t, rec, &applied)
	assert.Equal(t, domain.PlanStatusApplied, applied.Status)
	assert.Equal(t, "anonymous", applied.AppliedBy)

	rec = do(t, h, http.MethodGet, "/api/v1/plans/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched domain.PlanRecord
	decodeBody(t, rec, &fetched)
	assert.Equal(t, domain.PlanStatusApplied, fetched.Status)
}

func TestPlanErrors(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown plan", http.MethodGet, "/api/v1/plans/missing", http.StatusNotFound},
		{"approve unknown plan", http.MethodPost, "/api/v1/plans/missing/approve", http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/v1/plans?status=done", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/plans?limit=-1", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/v1/plans/missing", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, nil, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAnalyzeBalancedCluster(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/analyze", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"plan":null}`, rec.Body.String())
}

// =============================================================================
// Scheduling
// =============================================================================

func TestSchedule(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()
	seedOverloaded(t, h, "")

	rec := do(t, h, http.MethodPost, "/api/v1/schedule", domain.VirtualMachine{
		ID:   "web",
		Name: "web",
		Spec: domain.VMSpec{CPU: domain.CPUConfig{Cores: 2}, Memory: domain.MemoryConfig{SizeMiB: 2048}},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		NodeID string          `json:"node_id"`
		Plan   json.RawMessage `json:"plan"`
	}
	decodeBody(t, rec, &res)
	assert.Equal(t, "cold", res.NodeID)
	assert.Contains(t, string(res.Plan), `"boot"`)

	rec = do(t, h, http.MethodPost, "/api/v1/schedule", domain.VirtualMachine{
		ID:   "huge",
		Name: "huge",
		Spec: domain.VMSpec{CPU: domain.CPUConfig{Cores: 64}, Memory: domain.MemoryConfig{SizeMiB: 2048}},
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/schedule", map[string]string{"id": "ghost"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRejectsInvalidBodies(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/nodes", map[string]string{"id": "n1"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/vms", map[string]string{"colour": "blue"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	node := domain.Node{ID: "n1", Hostname: "n1"}
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/nodes", node, "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/v1/nodes", node, "").Code)
}

// =============================================================================
// Authentication
// =============================================================================

func TestAuthentication(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	s := newTestServer(t, cfg)
	h := s.Handler()

	jwt := middleware.NewJWTManager(cfg.Auth)
	viewer, err := jwt.Generate("alice", middleware.RoleViewer)
	require.NoError(t, err)
	operator, err := jwt.Generate("bob", middleware.RoleOperator)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/plans", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/plans", nil, "garbage").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/plans", nil, viewer).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/analyze", nil, viewer).Code)

	seedOverloaded(t, h, operator)
	rec := do(t, h, http.MethodPost, "/api/v1/analyze", nil, operator)
	require.Equal(t, http.StatusOK, rec.Code)
	var analyzed AnalyzeResponse
	decodeBody(t, rec, &analyzed)
	require.NotNil(t, analyzed.Plan)

	id := analyzed.Plan.ID
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/plans/"+id+"/approve", nil, operator).Code)
	rec = do(t, h, http.MethodPost, "/api/v1/plans/"+id+"/apply", nil, operator)
	require.Equal(t, http.StatusOK, rec.Code)
	var applied domain.PlanRecord
	decodeBody(t, rec, &applied)
	assert.Equal(t, "bob", applied.AppliedBy)
}

// =============================================================================
// Events
// =============================================================================

func TestPlanEventsStream(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()
	seedOverloaded(t, h, "")

	ts := httptest.NewServer(h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/plans/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.size() == 1 }, 5*time.Second, 10*time.Millisecond)

	rec, err := s.Engine().Analyze(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event redis.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "plan.PENDING", event.Type)
	assert.Equal(t, rec.ID, event.ResourceID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestLeadershipWithoutEtcd(t *testing.T) {
	l := &leadership{}
	assert.True(t, l.IsLeader())

	l = &leadership{elected: true}
	assert.False(t, l.IsLeader())
}

func TestStatusOf(t *testing.T) {
	status, code := statusOf(domain.ErrResourceExhausted)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "resource_exhausted", code)

	status, _ = statusOf(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
}
