package solver

import "time"

// Config holds the settings of a solve.
type Config struct {
	// TimeLimit bounds the search. Zero means no limit.
	TimeLimit time.Duration `mapstructure:"time_limit"`
	// NodeLimit bounds the number of search nodes. Zero means no limit.
	NodeLimit int `mapstructure:"node_limit"`
	// Optimize keeps searching for shorter plans after the first one.
	Optimize bool `mapstructure:"optimize"`
	// Repair only lets the VMs that need it change host.
	Repair bool `mapstructure:"repair"`
	// MaxEnd bounds the plan duration. Zero computes a bound from the durations.
	MaxEnd int `mapstructure:"max_end"`
	// PlacementStrategy is worst-fit, random or quartile.
	PlacementStrategy string `mapstructure:"placement_strategy"`
	Seed              int64  `mapstructure:"seed"`
	// DeferObjective keeps the objective idle until every action is scheduled.
	DeferObjective bool `mapstructure:"defer_objective"`
}

// DefaultConfig returns the default solver settings.
func DefaultConfig() Config {
	return Config{
		TimeLimit:         30 * time.Second,
		Optimize:          true,
		Repair:            true,
		PlacementStrategy: "worst-fit",
		Seed:              1,
		DeferObjective:    true,
	}
}
