// Package main provides the taskpilot CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/graph"
	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/metrics"
	"github.com/joss/taskpilot/internal/render"
)

var (
	version         = "0.1.0"
	db              graph.Driver
	pretty          = true
	jsonOutput      bool
	auditLogger     *audit.Logger
	shutdownTracing func(context.Context) error
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	err := logging.NewRecoveryHandler("cli").WrapError(func() error {
		return rootCmd.ExecuteContext(ctx)
	})
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskpilot",
		Short: "Backlog orchestration for autonomous coding agents",
		Long: `taskpilot picks the next work item from a project board, runs prompts
against tiered model chains with fallback, applies triage decisions and
keeps a per-issue cost ledger.

Backend:
  TASKPILOT_BACKEND=github   GitHub Projects v2 board (default)
  TASKPILOT_BACKEND=local    sqlite backlog at TASKPILOT_DB`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			runID := logging.NewRunID()
			ctx := logging.WithRunID(cmd.Context(), runID)
			cmd.SetContext(ctx)

			env := config.Env()
			shutdown, err := metrics.InitTracing("taskpilot", env.OtelExporter, os.Stderr)
			if err != nil {
				return &config.ConfigError{Var: "TASKPILOT_OTEL_EXPORTER", Reason: err.Error()}
			}
			shutdownTracing = shutdown

			// Audit persistence is optional; an unreachable graph only loses history.
			opts := []audit.LoggerOption{audit.WithRun(runID)}
			if cfg := graph.ConfigFromEnv(); cfg.Enabled() {
				if mg, err := graph.Connect(ctx, cfg, 3*time.Second); err == nil {
					db = mg
					opts = append(opts, audit.WithStore(audit.NewStore(db)))
				}
			}
			auditLogger = audit.NewLogger(opts...)

			if !cmd.Flags().Changed("pretty") {
				pretty = render.IsTerminal(os.Stdout)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "work", Title: "Work:"},
		&cobra.Group{ID: "cost", Title: "Cost:"},
		&cobra.Group{ID: "admin", Title: "Admin:"},
	)

	for _, c := range []struct {
		group string
		cmd   *cobra.Command
	}{
		{"work", selectCmd()},
		{"work", runCmd()},
		{"work", triageCmd()},
		{"cost", usageCmd()},
		{"cost", pricingCmd()},
		{"admin", localCmd()},
		{"admin", auditCmd()},
	} {
		c.cmd.GroupID = c.group
		rootCmd.AddCommand(c.cmd)
	}

	return rootCmd
}

// cleanup releases the graph connection, writes the metrics textfile and
// flushes spans. Safe to call more than once.
func cleanup() {
	log := logging.New("cli")
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn("graph_close_failed", nil, err)
		}
		db = nil
	}
	if path := config.Env().MetricsFile; path != "" {
		if err := metrics.Global().WriteTextfile(path); err != nil {
			log.Warn("metrics_write_failed", map[string]interface{}{"path": path}, err)
		}
	}
	if shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracing_shutdown_failed", nil, err)
		}
		shutdownTracing = nil
	}
}
