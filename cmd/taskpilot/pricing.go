package main

import (
	"github.com/spf13/cobra"

	"github.com/joss/taskpilot/internal/audit"
	"github.com/joss/taskpilot/internal/pricing"
	"github.com/joss/taskpilot/internal/render"
	"github.com/joss/taskpilot/internal/tokens"
)

func pricingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Model prices, tier chains and cost estimates",
		Long: `Inspect the price table. Built-in Gemini list prices can be overridden
with a YAML file named by TASKPILOT_PRICING_FILE.`,
	}
	cmd.AddCommand(pricingListCmd(), pricingCostCmd(), pricingEstimateCmd())
	return cmd
}

func pricingListCmd() *cobra.Command {
	return newCommand(CommandConfig{
		Use:      "list",
		Short:    "List models and tier chains",
		Args:     cobra.NoArgs,
		Category: audit.CategoryPricing,
		Action:   "pricing list",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			table, err := loadPricing()
			if err != nil {
				return err
			}
			chains := map[string][]string{}
			for _, tier := range table.Tiers() {
				specs, err := table.Chain(tier)
				if err != nil {
					return err
				}
				for _, m := range specs {
					chains[tier] = append(chains[tier], m.ID)
				}
			}
			v := struct {
				Models []pricing.ModelSpec `json:"models"`
				Chains map[string][]string `json:"chains"`
			}{table.Models(), chains}
			return output(v, func(r *render.Renderer) { r.Models(table) })
		},
	})
}

func pricingCostCmd() *cobra.Command {
	var (
		model   string
		in, out int
	)

	cmd := newCommand(CommandConfig{
		Use:      "cost",
		Short:    "Price a call from token counts",
		Example:  `  taskpilot pricing cost --model gemini-2.5-pro --input 10000 --output 2000`,
		Args:     cobra.NoArgs,
		Category: audit.CategoryPricing,
		Action:   "pricing cost",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			table, err := loadPricing()
			if err != nil {
				return err
			}
			c, err := table.Cost(model, in, out)
			if err != nil {
				return err
			}
			return output(c, func(r *render.Renderer) { r.Cost(model, in, out, c) })
		},
	})

	cmd.Flags().StringVar(&model, "model", "", "Model id")
	cmd.Flags().IntVar(&in, "input", 0, "Input tokens")
	cmd.Flags().IntVar(&out, "output", 0, "Output tokens")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

type estimateOutput struct {
	tokens.Estimate
	Model string        `json:"model,omitempty"`
	Cost  *pricing.Cost `json:"cost,omitempty"`
}

func pricingEstimateCmd() *cobra.Command {
	var (
		promptFile string
		model      string
	)

	cmd := newCommand(CommandConfig{
		Use:   "estimate",
		Short: "Estimate prompt tokens and input cost",
		Long: `Size a prompt with the cl100k encoder and with the 4-characters-per-token
heuristic. With --model the encoder count (or the heuristic when the encoder
is unavailable) is priced as input.`,
		Example:  `  taskpilot pricing estimate --prompt-file prompt.md --model gemini-2.5-flash`,
		Args:     cobra.NoArgs,
		Category: audit.CategoryPricing,
		Action:   "pricing estimate",
		RunFunc: func(cmd *cobra.Command, args []string, event *audit.AuditEvent) error {
			prompt, err := readPrompt(promptFile)
			if err != nil {
				return err
			}
			out := estimateOutput{Estimate: tokens.EstimatePrompt(prompt)}
			if model != "" {
				table, err := loadPricing()
				if err != nil {
					return err
				}
				n := out.Heuristic
				if out.Exact {
					n = out.Counted
				}
				c, err := table.Cost(model, n, 0)
				if err != nil {
					return err
				}
				out.Model, out.Cost = model, &c
			}
			return output(out, func(r *render.Renderer) { r.Estimate(out.Estimate, out.Model, out.Cost) })
		},
	})

	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "Prompt file, - for stdin")
	cmd.Flags().StringVar(&model, "model", "", "Price the prompt as input on this model")
	_ = cmd.MarkFlagRequired("prompt-file")
	return cmd
}
