package main

import (
	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/render"
	"github.com/joss/taskpilot/internal/selector"
)

func selectCmd() *cobra.Command {
	var block []string

	cmd := newCommand(CommandConfig{
		Use:   "select",
		Short: "Pick the next work item and move it to In Progress",
		Long: `Select the highest-ranked eligible item from the board.

Paused items rank above Todo, then P0 > P1 > P2 > unset. Items with open
sub-issues dispatch their best unblocked child instead. A top-level pick is
moved to In Progress; a sub-issue pick leaves the board untouched.

Exits 0 with no output when nothing is eligible.`,
		Example: `  taskpilot select
  taskpilot select --block 'blocked*' --block 'waiting/**' --json`,
		Args:     cobra.NoArgs,
		Category: audit.CategorySelect,
		Action:   "select",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			b, err := openBacklog()
			if err != nil {
				return err
			}
			defer b.Close()

			patterns := block
			if len(patterns) == 0 {
				patterns = config.Env().BlockLabels
			}
			sel, err := selector.NewService(b, selector.WithBlockPatterns(patterns...)).Next(cmd.Context())
			if err != nil {
				return err
			}
			if sel == nil {
				if err := output(sel, func(r *render.Renderer) { r.Selection(nil) }); err != nil {
					return err
				}
				return errNoop
			}
			event.Issue = sel.Item.Number
			return output(sel, func(r *render.Renderer) { r.Selection(sel) })
		},
	})

	cmd.Flags().StringSliceVar(&block, "block", nil, "Label patterns that block an item (default TASKPILOT_BLOCK_LABELS)")
	return cmd
}
