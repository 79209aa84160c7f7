package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/limiquantix/planner/internal/solver"
)

var solveCmd = &cobra.Command{
	Use:   "solve <scenario.yaml>",
	Short: "Compute the reconfiguration plan of a scenario",
	Long: `Compute the reconfiguration plan of a scenario file.

Examples:
  # Print the plan, one action per line
  planctl solve cluster.yaml

  # Machine-readable output
  planctl solve cluster.yaml -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().StringP("output", "o", "text", "Output format: text or json")
}

// solveOutput is the JSON rendering of a solve.
type solveOutput struct {
	Outcome    string         `json:"outcome"`
	Nodes      int            `json:"search_nodes"`
	Backtracks int            `json:"backtracks"`
	Solutions  int            `json:"solutions"`
	Plan       json.Marshaler `json:"plan,omitempty"`
	Manageable []string       `json:"manageable,omitempty"`
}

func runSolve(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown output format %q", format)
	}

	sc, err := LoadScenario(args[0])
	if err != nil {
		return err
	}
	inst, err := sc.Instance()
	if err != nil {
		return err
	}

	logger := newLogger(cmd)
	defer logger.Sync()
	res, err := solver.New(sc.SolverConfig(), logger).Solve(cmd.Context(), inst)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		writeText(out, res)
	}
	if res.Plan == nil {
		return fmt.Errorf("no plan found: %s", res.Outcome)
	}
	return nil
}

func writeJSON(w io.Writer, res *solver.Result) error {
	o := solveOutput{
		Outcome:    res.Outcome.String(),
		Nodes:      res.Statistics.Nodes,
		Backtracks: res.Statistics.Backtracks,
		Solutions:  len(res.Statistics.Solutions),
		Manageable: res.Manageable,
	}
	if res.Plan != nil {
		o.Plan = res.Plan
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}

func writeText(w io.Writer, res *solver.Result) {
	fmt.Fprintf(w, "Outcome: %s\n", res.Outcome)
	fmt.Fprintf(w, "Search: %d nodes, %d backtracks, %d solutions in %s\n",
		res.Statistics.Nodes, res.Statistics.Backtracks, len(res.Statistics.Solutions), res.Statistics.Elapsed)
	if res.Plan == nil {
		return
	}
	fmt.Fprintf(w, "Plan: %d actions, duration %d, cost %d\n", res.Plan.Size(), res.Plan.Duration(), res.Plan.Objective())
	subs := res.Plan.Substitutions()
	vms := make([]string, 0, len(subs))
	for vm := range subs {
		vms = append(vms, vm)
	}
	sort.Strings(vms)
	for _, vm := range vms {
		fmt.Fprintf(w, "  %s forged from %s\n", vm, subs[vm])
	}
	fmt.Fprint(w, res.Plan.String())
}
