package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/render"
	"github.com/joss/taskpilot/internal/triage"
)

func triageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Apply triage decisions to the board",
	}
	cmd.AddCommand(triageApplyCmd())
	return cmd
}

func triageApplyCmd() *cobra.Command {
	var (
		file     string
		preserve bool
		strict   bool
	)

	cmd := newCommand(CommandConfig{
		Use:   "apply",
		Short: "Sync a decision (or a list of them) onto the board",
		Long: `Apply a triage decision: ensure the issue is on the board, set Status to
Todo, then set Priority and the Model tier, add labels and record usage when
present. The decision's model is a tier name; usage.model is a model id.

Each step runs independently; a failed step is reported and the rest still
run. Applying the same decision twice leaves the board unchanged.

Decision JSON:
  {"issueNumber": 42, "priority": "P1", "model": "flash",
   "labels": ["bug"], "usage": {"model": "gemini-2.5-flash", "inputTokens": 900, "outputTokens": 120}}`,
		Example: `  taskpilot triage apply --file decision.json
  taskpilot triage apply --file decisions.json --preserve-priority --strict`,
		Args:     cobra.NoArgs,
		Category: audit.CategoryTriage,
		Action:   "triage apply",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			decisions, err := readDecisions(file)
			if err != nil {
				return err
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

			opts := []triage.Option{
				triage.WithDefaultIssue(issueFlag(cmd)),
				triage.WithUsageRecorder(newLedger(table, b)),
			}
			if preserve {
				opts = append(opts, triage.PreserveHumanPriority())
			}

			reports, applyErr := triage.NewSyncer(b, opts...).ApplyAll(cmd.Context(), decisions)
			if len(reports) == 1 {
				event.Issue = reports[0].IssueNumber
			}
			if err := output(reports, func(r *render.Renderer) { r.TriageReports(reports) }); err != nil {
				return err
			}
			if applyErr != nil {
				return applyErr
			}
			if strict {
				for _, rep := range reports {
					if err := rep.Err(); err != nil {
						return fmt.Errorf("triage #%d: %w", rep.IssueNumber, err)
					}
				}
			}
			return nil
		},
	})

	cmd.Flags().StringVar(&file, "file", "", "Decision JSON file, - for stdin")
	cmd.Flags().Int("issue", 0, "Issue for decisions without issueNumber (default TASKPILOT_ISSUE_NUMBER)")
	cmd.Flags().BoolVar(&preserve, "preserve-priority", false, "Keep a priority already set on the board")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any step fails")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readDecisions accepts a single decision object or an array of them.
func readDecisions(path string) ([]triage.Decision, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = readAllStdin()
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	return parseDecisions(data)
}

func parseDecisions(data []byte) ([]triage.Decision, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no decisions in input")
	}
	if data[0] == '[' {
		var ds []triage.Decision
		if err := json.Unmarshal(data, &ds); err != nil {
			return nil, fmt.Errorf("parse decisions: %w", err)
		}
		return ds, nil
	}
	var d triage.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse decision: %w", err)
	}
	return []triage.Decision{d}, nil
}
