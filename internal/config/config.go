// Package config provides configuration management for the planner.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/planner/internal/scheduler"
	"github.com/limiquantix/planner/internal/solver"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Solver    solver.Config    `mapstructure:"solver"`
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	// Durations maps an action kind to its duration.
	Durations map[string]int `mapstructure:"durations"`
	DRS       DRSConfig      `mapstructure:"drs"`
	Database  DatabaseConfig `mapstructure:"database"`
	Etcd      EtcdConfig     `mapstructure:"etcd"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Auth      AuthConfig     `mapstructure:"auth"`
	CORS      CORSConfig     `mapstructure:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL used by migrations.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	// ElectionPrefix is the key prefix of the planning loop election.
	ElectionPrefix string `mapstructure:"election_prefix"`
	// SessionTTL is the lease TTL of the election session, in seconds.
	SessionTTL int `mapstructure:"session_ttl"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PlanTTL  time.Duration `mapstructure:"plan_ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DRSConfig holds the periodic planning loop configuration.
type DRSConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// AutomationLevel is manual, partial or full. Partial approves critical plans, full
	// approves every plan.
	AutomationLevel string        `mapstructure:"automation_level"`
	Interval        time.Duration `mapstructure:"interval"`
	ThresholdCPU    int           `mapstructure:"threshold_cpu"`
	ThresholdMemory int           `mapstructure:"threshold_memory"`
	// Retention is how long processed plans are kept.
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AuthConfig holds the operator token configuration. Without it the plan workflow
// endpoints are open.
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values viper cannot type check.
func (c *Config) Validate() error {
	switch c.DRS.AutomationLevel {
	case "manual", "partial", "full":
	default:
		return fmt.Errorf("drs.automation_level %q: expected manual, partial or full", c.DRS.AutomationLevel)
	}
	if c.DRS.Enabled && c.DRS.Interval <= 0 {
		return fmt.Errorf("drs.interval must be positive, got %s", c.DRS.Interval)
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 bytes when auth is enabled")
	}
	if c.Solver.TimeLimit < 0 {
		return fmt.Errorf("solver.time_limit must not be negative, got %s", c.Solver.TimeLimit)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Solver
	sd := solver.DefaultConfig()
	v.SetDefault("solver.time_limit", sd.TimeLimit.String())
	v.SetDefault("solver.node_limit", sd.NodeLimit)
	v.SetDefault("solver.optimize", sd.Optimize)
	v.SetDefault("solver.repair", sd.Repair)
	v.SetDefault("solver.max_end", sd.MaxEnd)
	v.SetDefault("solver.placement_strategy", sd.PlacementStrategy)
	v.SetDefault("solver.seed", sd.Seed)
	v.SetDefault("solver.defer_objective", sd.DeferObjective)

	// Scheduler
	v.SetDefault("scheduler.overcommit_cpu", 2.0)
	v.SetDefault("scheduler.overcommit_memory", 1.5)
	v.SetDefault("scheduler.reserved_cpu_cores", 1)
	v.SetDefault("scheduler.reserved_memory_mib", 1024)

	// Durations, in seconds
	v.SetDefault("durations", map[string]int{
		"boot":         60,
		"shutdown":     30,
		"migrate":      45,
		"suspend":      20,
		"resume":       20,
		"forge":        120,
		"kill":         5,
		"bootnode":     300,
		"shutdownnode": 120,
	})

	// DRS
	v.SetDefault("drs.enabled", true)
	v.SetDefault("drs.automation_level", "partial")
	v.SetDefault("drs.interval", "5m")
	v.SetDefault("drs.threshold_cpu", 80)
	v.SetDefault("drs.threshold_memory", 85)
	v.SetDefault("drs.retention", "24h")

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "planner")
	v.SetDefault("database.user", "planner")
	v.SetDefault("database.password", "planner")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.election_prefix", "/planner/leader")
	v.SetDefault("etcd.session_ttl", 15)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.plan_ttl", "1h")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiry", "12h")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type"})
	v.SetDefault("cors.allow_credentials", true)
}
