package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/render"
)

func usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Per-issue model usage ledger",
		Long: `Read and append to the usage ledger kept as a comment on each issue.

The ledger comment is machine-owned. Totals are always the sum of the
recorded operations; the running cost is mirrored to the board's Cost field.`,
	}
	cmd.AddCommand(usageAddCmd(), usageShowCmd())
	return cmd
}

func usageAddCmd() *cobra.Command {
	var (
		operation string
		model     string
		in, out   int
	)

	cmd := newCommand(CommandConfig{
		Use:      "add",
		Short:    "Price a model call and append it to the ledger",
		Example:  `  taskpilot usage add --issue 42 --operation triage --model gemini-2.5-flash --input 1200 --output 300`,
		Args:     cobra.NoArgs,
		Category: audit.CategoryUsage,
		Action:   "usage add",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			issue, err := requireIssue(cmd)
			if err != nil {
				return err
			}
			event.Issue = issue
			if in < 0 || out < 0 {
				return fmt.Errorf("token counts must not be negative")
			}

			table, err := loadPricing()
			if err != nil {
				return err
			}
			b, err := openBacklog()
			if err != nil {
				return err
			}
			defer b.Close()

			l, err := newLedger(table, b).Accumulate(cmd.Context(), issue, operation, model, in, out)
			if err != nil {
				return err
			}
			return output(l, func(r *render.Renderer) { r.Ledger(issue, l) })
		},
	})

	cmd.Flags().Int("issue", 0, "Issue number (default TASKPILOT_ISSUE_NUMBER)")
	cmd.Flags().StringVar(&operation, "operation", "", "Operation name")
	cmd.Flags().StringVar(&model, "model", "", "Model id")
	cmd.Flags().IntVar(&in, "input", 0, "Input tokens")
	cmd.Flags().IntVar(&out, "output", 0, "Output tokens")
	_ = cmd.MarkFlagRequired("operation")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func usageShowCmd() *cobra.Command {
	cmd := newCommand(CommandConfig{
		Use:      "show",
		Short:    "Show an issue's usage ledger",
		Args:     cobra.NoArgs,
		Category: audit.CategoryUsage,
		Action:   "usage show",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			issue, err := requireIssue(cmd)
			if err != nil {
				return err
			}
			event.Issue = issue

			table, err := loadPricing()
			if err != nil {
				return err
			}
			b, err := openBacklog()
			if err != nil {
				return err
			}
			defer b.Close()

			l, err := newLedger(table, b).Get(cmd.Context(), issue)
			if err != nil {
				return err
			}
			return output(l, func(r *render.Renderer) { r.Ledger(issue, l) })
		},
	})

	cmd.Flags().Int("issue", 0, "Issue number (default TASKPILOT_ISSUE_NUMBER)")
	return cmd
}
