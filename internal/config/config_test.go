package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Solver.TimeLimit)
	assert.True(t, cfg.Solver.Optimize)
	assert.Equal(t, "worst-fit", cfg.Solver.PlacementStrategy)
	assert.Equal(t, 2.0, cfg.Scheduler.OvercommitCPU)
	assert.Equal(t, 45, cfg.Durations["migrate"])
	assert.Equal(t, "partial", cfg.DRS.AutomationLevel)
	assert.Equal(t, 5*time.Minute, cfg.DRS.Interval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())
	assert.Equal(t, "/planner/leader", cfg.Etcd.ElectionPrefix)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
solver:
  time_limit: 5s
  placement_strategy: quartile
durations:
  migrate: 12
drs:
  automation_level: full
  interval: 1m
`), 0o600))
	t.Setenv("PLANNER_SOLVER_NODE_LIMIT", "5000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Solver.TimeLimit)
	assert.Equal(t, "quartile", cfg.Solver.PlacementStrategy)
	assert.Equal(t, 5000, cfg.Solver.NodeLimit)
	assert.Equal(t, 12, cfg.Durations["migrate"])
	assert.Equal(t, "full", cfg.DRS.AutomationLevel)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("drs:\n  automation_level: reckless\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, Name: "planner", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/planner?sslmode=disable", c.URL())
	assert.Contains(t, c.DSN(), "dbname=planner")
}

func TestAuthRequiresSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  enabled: true\n  jwt_secret: short\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("auth:\n  enabled: true\n  jwt_secret: 0123456789abcdef\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}
