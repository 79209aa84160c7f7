// Package main is planctl, the command line companion of the planner.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/placement"
	"github.com/limiquantix/planner/internal/reconfig"
	"github.com/limiquantix/planner/internal/server/middleware"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "planctl",
	Short: "planctl - offline reconfiguration planning",
	Long: `planctl computes reconfiguration plans for scenario files and
manages access tokens of the planner API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"planctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log the search progress")

	tokenCmd.Flags().String("config", "", "Path to the planner config file")
	tokenCmd.Flags().String("subject", "", "Subject of the token (required)")
	tokenCmd.Flags().String("role", string(middleware.RoleViewer), "Role of the token: viewer or operator")
	if err := tokenCmd.MarkFlagRequired("subject"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(kindsCmd)
	rootCmd.AddCommand(tokenCmd)
}

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the constraint and action kinds scenarios may use",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Constraints:")
		for _, k := range placement.Kinds() {
			fmt.Fprintf(out, "  %s\n", k)
		}
		fmt.Fprintln(out, "Action durations:")
		for _, k := range reconfig.AllKinds {
			fmt.Fprintf(out, "  %s\n", k)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an API token",
	Long: `Generate a signed API token with the secret of the planner configuration.

Examples:
  # Token for a dashboard
  planctl token --subject dashboard

  # Token allowed to approve and apply plans
  planctl token --subject ops --role operator --config /etc/planner/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		subject, _ := cmd.Flags().GetString("subject")
		role, _ := cmd.Flags().GetString("role")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if len(cfg.Auth.JWTSecret) < 16 {
			return fmt.Errorf("auth.jwt_secret must be at least 16 bytes")
		}
		r := middleware.Role(role)
		if r != middleware.RoleViewer && r != middleware.RoleOperator {
			return fmt.Errorf("unknown role %q", role)
		}

		token, err := middleware.NewJWTManager(cfg.Auth).Generate(subject, r)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
