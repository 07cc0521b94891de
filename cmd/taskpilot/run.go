package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/executor"
	"github.com/joss/taskpilot/internal/ledger"
	"github.com/joss/taskpilot/internal/render"
)

type runOutput struct {
	Result *executor.Result `json:"result"`
	Issue  int              `json:"issue,omitempty"`
	Ledger *ledger.Ledger   `json:"ledger,omitempty"`
}

func runCmd() *cobra.Command {
	var (
		tier        string
		promptFile  string
		schemaFile  string
		operation   string
		maxRetries  int
		maxOutput   int
		temperature float64
	)

	cmd := newCommand(CommandConfig{
		Use:   "run",
		Short: "Run a prompt on a tier with model fallback",
		Long: `Run a prompt against the tier's model chain, cheapest first.

Quota errors fall through to the next model at once; other failures are
retried on the same model with exponential backoff. With --schema-file the
response must be JSON.

With --issue (or TASKPILOT_ISSUE_NUMBER) the call is priced and appended to
the issue's usage ledger.`,
		Example: `  taskpilot run --tier flash --prompt-file prompt.md
  taskpilot run --tier pro --prompt-file - --schema-file triage.schema.json --issue 42 --operation triage`,
		Args:     cobra.NoArgs,
		Category: audit.CategoryRun,
		Action:   "run",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			prompt, err := readPrompt(promptFile)
			if err != nil {
				return err
			}

			var opts []executor.RunOption
			if schemaFile != "" {
				data, err := os.ReadFile(schemaFile)
				if err != nil {
					return fmt.Errorf("read schema: %w", err)
				}
				if !json.Valid(data) {
					return fmt.Errorf("schema %s is not valid JSON", schemaFile)
				}
				opts = append(opts, executor.WithSchema(data))
			}
			if maxRetries > 0 {
				opts = append(opts, executor.WithMaxRetries(maxRetries))
			}
			if maxOutput > 0 {
				opts = append(opts, executor.WithMaxOutputTokens(maxOutput))
			}
			if cmd.Flags().Changed("temperature") {
				opts = append(opts, executor.WithTemperature(temperature))
			}

			table, err := loadPricing()
			if err != nil {
				return err
			}
			exec, err := newExecutor(table)
			if err != nil {
				return err
			}

			// The backlog is opened before the model call so missing
			// credentials fail without spending tokens.
			issue := issueFlag(cmd)
			var usage *ledger.Service
			if issue > 0 {
				event.Issue = issue
				b, err := openBacklog()
				if err != nil {
					return err
				}
				defer b.Close()
				usage = newLedger(table, b)
			}

			res, err := exec.Run(cmd.Context(), tier, prompt, opts...)
			if err != nil {
				return err
			}

			out := runOutput{Result: res}
			if usage != nil {
				l, err := usage.Accumulate(cmd.Context(), issue, operation, res.ModelUsed, res.InputTokens, res.OutputTokens)
				if err != nil {
					return outputThenFail(out, func(r *render.Renderer) { r.Result(res) },
						fmt.Errorf("record usage for #%d: %w", issue, err))
				}
				out.Issue, out.Ledger = issue, l
			}

			return output(out, func(r *render.Renderer) {
				r.Result(res)
				if out.Ledger != nil {
					r.Line()
					r.Ledger(out.Issue, out.Ledger)
				}
			})
		},
	})

	cmd.Flags().StringVar(&tier, "tier", "flash", "Model tier")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "Prompt file, - for stdin")
	cmd.Flags().StringVar(&schemaFile, "schema-file", "", "JSON schema for structured output")
	cmd.Flags().Int("issue", 0, "Record usage on this issue")
	cmd.Flags().StringVar(&operation, "operation", "run", "Operation name recorded in the ledger")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Attempts per model (default TASKPILOT_MAX_RETRIES)")
	cmd.Flags().IntVar(&maxOutput, "max-output-tokens", 0, "Output token limit")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	_ = cmd.MarkFlagRequired("prompt-file")
	return cmd
}

func readPrompt(path string) (string, error) {
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
		return "", fmt.Errorf("read prompt: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("prompt is empty")
	}
	return string(data), nil
}
