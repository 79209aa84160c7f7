// Package metrics exposes the Prometheus metrics of the planner.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Solver metrics
	SolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_solves_total",
			Help: "Total number of reconfiguration problems solved, by outcome",
		},
		[]string{"outcome"},
	)

	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_solve_duration_seconds",
			Help:    "Time taken to solve a reconfiguration problem in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_search_nodes",
			Help:    "Number of search nodes explored per solve",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	PlanActions = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_plan_actions",
			Help:    "Number of actions in the computed plans",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		},
	)

	PlanMakespan = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "planner_plan_makespan",
			Help: "Completion time of the last computed plan",
		},
	)

	// Planning loop metrics
	PlansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_plans_total",
			Help: "Total number of plan records by status",
		},
		[]string{"status"},
	)

	Leader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "planner_is_leader",
			Help: "Whether this instance runs the planning loop (1 = leader, 0 = follower)",
		},
	)
)

func init() {
	prometheus.MustRegister(SolvesTotal)
	prometheus.MustRegister(SolveDuration)
	prometheus.MustRegister(SearchNodes)
	prometheus.MustRegister(PlanActions)
	prometheus.MustRegister(PlanMakespan)
	prometheus.MustRegister(PlansTotal)
	prometheus.MustRegister(Leader)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds into o.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
