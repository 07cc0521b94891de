package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/render"
)

var errNoGraph = errors.New("not connected to graph")

// requireDB returns the audit store or an error naming NEO4J_URI.
func requireDB() (*audit.Store, error) {
	if db == nil {
		if config.Env().Neo4jURI == "" {
			return nil, &config.ConfigError{Var: "NEO4J_URI", Reason: "audit queries need a graph database"}
		}
		return nil, errNoGraph
	}
	return audit.NewStore(db), nil
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		Long: `Every taskpilot command emits an audit event with git context, timing
and status. With NEO4J_URI set the events are also stored in the graph and
can be queried here.`,
	}
	cmd.AddCommand(auditLogCmd(), auditStatsCmd())
	return cmd
}

func auditLogCmd() *cobra.Command {
	var (
		category, status, run string
		since                 time.Duration
		limit                 int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent audit events",
		Example: `  taskpilot audit log --category run --status error
  taskpilot audit log --issue 42 --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireDB()
			if err != nil {
				return err
			}
			issue, _ := cmd.Flags().GetInt("issue")
			filter := audit.QueryFilter{
				Category: audit.Category(category),
				Status:   audit.Status(status),
				Issue:    issue,
				RunID:    run,
				Limit:    limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			events, err := s.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return output(events, func(r *render.Renderer) { r.AuditEvents(events) })
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (success, noop, error)")
	cmd.Flags().Int("issue", 0, "Filter by issue")
	cmd.Flags().StringVar(&run, "run", "", "Filter by run id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum events")
	return cmd
}

func auditStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-category statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireDB()
			if err != nil {
				return err
			}
			stats, err := s.GetStatsByCategory(cmd.Context())
			if err != nil {
				return err
			}
			return output(stats, func(r *render.Renderer) { r.AuditStats(stats) })
		},
	}
}
