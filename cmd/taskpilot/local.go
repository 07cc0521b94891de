package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/render"
	"github.com/joss/taskpilot/internal/store"
)

func localCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Manage the local sqlite backlog",
		Long: `The local backend (TASKPILOT_BACKEND=local) keeps the board, labels and
comments in a sqlite file at TASKPILOT_DB.`,
	}
	cmd.AddCommand(localImportCmd())
	return cmd
}

func localImportCmd() *cobra.Command {
	var file string

	cmd := newCommand(CommandConfig{
		Use:   "import",
		Short: "Seed the local backlog from a JSON snapshot",
		Long: `Upsert board items and issues from a snapshot:

  {"items": [{"number": 1, "title": "...", "status": "Todo", "priority": "P1",
              "labels": ["bug"], "subIssues": [...]}],
   "issues": [{"number": 9, "title": "not on the board"}]}`,
		Example:  `  TASKPILOT_BACKEND=local taskpilot local import --file backlog.json`,
		Args:     cobra.NoArgs,
		Category: audit.CategoryLocal,
		Action:   "local import",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			snap, err := store.LoadSnapshot(file)
			if err != nil {
				return err
			}

			path := config.Env().DBPath
			if err := config.EnsureDir(filepath.Dir(path)); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			s, err := store.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Import(cmd.Context(), snap); err != nil {
				return err
			}

			v := map[string]any{"path": s.Path(), "items": len(snap.Items), "issues": len(snap.Issues)}
			return output(v, func(r *render.Renderer) { r.Imported(s.Path(), len(snap.Items), len(snap.Issues)) })
		},
	})

	cmd.Flags().StringVar(&file, "file", "", "Snapshot JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
