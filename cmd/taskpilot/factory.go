package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
)

// errNoop marks a command that finished without doing anything. It is
// audited as a noop and exits 0.
var errNoop = errors.New("nothing to do")

// CommandFunc runs a command. It may fill event fields such as Issue.
type CommandFunc func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error

// CommandConfig holds configuration for creating standardized commands.
type CommandConfig struct {
	Use     string
	Short   string
	Long    string
	Example string
	Aliases []string
	Args    cobra.PositionalArgs

	Category audit.Category
	Action   string
	RunFunc  CommandFunc
}

// newCommand creates a cobra command wrapped in an audit event.
func newCommand(cfg CommandConfig) *cobra.Command {
	return &cobra.Command{
		Use:     cfg.Use,
		Short:   cfg.Short,
		Long:    cfg.Long,
		Example: cfg.Example,
		Aliases: cfg.Aliases,
		Args:    cfg.Args,
		RunE: func(cmd *cobra.Command, args []string) error {
			event := auditLogger.Start(cfg.Category, cfg.Action)
			event.Command = cmd.CommandPath()

			err := cfg.RunFunc(cmd, args, event)
			switch {
			case errors.Is(err, errNoop):
				_ = auditLogger.LogNoop(event)
				return nil
			case err != nil:
				_ = auditLogger.LogError(event, err)
				return err
			}
			_ = auditLogger.LogSuccess(event)
			return nil
		},
	}
}
