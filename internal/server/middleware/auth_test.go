package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
)

func testManager(expiry time.Duration) *JWTManager {
	return NewJWTManager(config.AuthConfig{
		Enabled:     true,
		JWTSecret:   "0123456789abcdef0123456789abcdef",
		TokenExpiry: expiry,
	})
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m := testManager(time.Hour)
	token, err := m.Generate("alice", RoleOperator)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "planner", claims.Issuer)
}

func TestJWTManager_RejectsExpiredToken(t *testing.T) {
	m := testManager(-time.Minute)
	token, err := m.Generate("alice", RoleViewer)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTManager_RejectsForeignSecret(t *testing.T) {
	token, err := testManager(time.Hour).Generate("alice", RoleViewer)
	require.NoError(t, err)

	other := NewJWTManager(config.AuthConfig{JWTSecret: "another-secret-of-enough-length", TokenExpiry: time.Hour})
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestAuth_Require(t *testing.T) {
	m := testManager(time.Hour)
	viewer, err := m.Generate("alice", RoleViewer)
	require.NoError(t, err)
	operator, err := m.Generate("bob", RoleOperator)
	require.NoError(t, err)

	var subject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	auth := NewAuth(m, zap.NewNop())

	tests := []struct {
		name    string
		role    Role
		header  string
		status  int
		subject string
	}{
		{"missing header", RoleViewer, "", http.StatusUnauthorized, ""},
		{"not bearer", RoleViewer, "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", RoleViewer, "Bearer abc", http.StatusUnauthorized, ""},
		{"viewer reads", RoleViewer, "Bearer " + viewer, http.StatusNoContent, "alice"},
		{"viewer cannot operate", RoleOperator, "Bearer " + viewer, http.StatusForbidden, ""},
		{"operator operates", RoleOperator, "Bearer " + operator, http.StatusNoContent, "bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			auth.Require(tt.role, next).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.subject, subject)
		})
	}
}

func TestAuth_Disabled(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "anonymous", Subject(r.Context()))
	})
	rec := httptest.NewRecorder()
	NewAuth(nil, zap.NewNop()).Require(RoleOperator, next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.True(t, called)
}

func TestSubjectWithoutClaims(t *testing.T) {
	assert.Equal(t, "anonymous", Subject(context.Background()))
}
