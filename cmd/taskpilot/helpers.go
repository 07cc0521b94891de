package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/executor"
	"github.com/joss/taskpilot/internal/github"
	"github.com/joss/taskpilot/internal/ledger"
	"github.com/joss/taskpilot/internal/pricing"
	"github.com/joss/taskpilot/internal/provider"
	"github.com/joss/taskpilot/internal/render"
	"github.com/joss/taskpilot/internal/store"
)

// backlogStore is a board plus comment stream that owns a connection.
type backlogStore interface {
	backlog.Board
	backlog.CommentStream
	Close() error
}

type githubBacklog struct {
	*github.Client
}

func (githubBacklog) Close() error { return nil }

// openBacklog returns the configured backend.
func openBacklog() (backlogStore, error) {
	env := config.Env()
	switch env.Backend {
	case config.BackendLocal:
		if err := config.EnsureDir(filepath.Dir(env.DBPath)); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return store.OpenSQLite(env.DBPath)
	case config.BackendGitHub:
		cfg, err := github.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return githubBacklog{github.New(cfg)}, nil
	default:
		return nil, &config.ConfigError{Var: "TASKPILOT_BACKEND", Reason: fmt.Sprintf("unknown backend %q", env.Backend)}
	}
}

func loadPricing() (*pricing.Table, error) {
	return pricing.Load(config.Env().PricingFile)
}

func newExecutor(table *pricing.Table) (*executor.Executor, error) {
	env := config.Env()
	if err := env.RequireModel(); err != nil {
		return nil, err
	}
	policy := executor.DefaultRetryPolicy()
	policy.MaxAttempts = env.MaxRetries
	policy.BaseDelay = env.BaseDelay
	return executor.New(table, provider.NewRegistry(), executor.WithRetryPolicy(policy)), nil
}

func newLedger(table *pricing.Table, b backlogStore) *ledger.Service {
	return ledger.NewService(table, b, ledger.WithBoard(b))
}

// issueFlag resolves --issue, falling back to TASKPILOT_ISSUE_NUMBER.
func issueFlag(cmd *cobra.Command) int {
	n, _ := cmd.Flags().GetInt("issue")
	if n == 0 {
		n = config.Env().IssueNumber
	}
	return n
}

func requireIssue(cmd *cobra.Command) (int, error) {
	n := issueFlag(cmd)
	if n <= 0 {
		return 0, &config.ConfigError{Var: "TASKPILOT_ISSUE_NUMBER", Reason: "no issue given (use --issue)"}
	}
	return n, nil
}

// stdout receives command output.
var stdout io.Writer = os.Stdout

func renderer() *render.Renderer {
	return render.New(stdout, pretty)
}

// output writes v as JSON when --json is set, else calls human.
func output(v any, human func(r *render.Renderer)) error {
	if jsonOutput {
		return render.NewWriter(stdout).JSON(v)
	}
	human(renderer())
	return nil
}

// outputThenFail writes what was produced before err and returns err,
// joined with any write failure.
func outputThenFail(v any, human func(r *render.Renderer), err error) error {
	if outErr := output(v, human); outErr != nil {
		return errors.Join(err, outErr)
	}
	return err
}

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}
