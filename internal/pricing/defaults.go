package pricing

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultModels are the published Gemini list prices (USD per 1M tokens).
var DefaultModels = []ModelSpec{
	{ID: "gemini-2.0-flash-lite", Tier: TierProduction, InputPerMillion: 0.075, OutputPerMillion: 0.30},
	{ID: "gemini-2.5-flash-lite", Tier: TierProduction, InputPerMillion: 0.10, OutputPerMillion: 0.40},
	{ID: "gemini-2.5-flash", Tier: TierProduction, InputPerMillion: 0.30, OutputPerMillion: 2.50},
	{ID: "gemini-2.5-pro", Tier: TierProduction, InputPerMillion: 1.25, OutputPerMillion: 10.00},
	{ID: "gemini-3-pro-preview", Tier: TierPreview, InputPerMillion: 2.00, OutputPerMillion: 12.00},
	{ID: "gemini-2.5-flash-image", Tier: TierProduction, InputPerMillion: 0.30, OutputPerMillion: 30.00},
	{ID: "gemini-3-pro-image-preview", Tier: TierPreview, InputPerMillion: 2.00, OutputPerMillion: 120.00},
}

// DefaultChains order each tier cheapest first.
var DefaultChains = map[string][]string{
	"flash": {"gemini-2.0-flash-lite", "gemini-2.5-flash-lite", "gemini-2.5-flash"},
	"pro":   {"gemini-2.5-flash", "gemini-2.5-pro", "gemini-3-pro-preview"},
	"image": {"gemini-2.5-flash-image", "gemini-3-pro-image-preview"},
}

var (
	defaultTable *Table
	defaultOnce  sync.Once
)

// Default returns the built-in table.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := New(DefaultModels, DefaultChains)
		if err != nil {
			panic(fmt.Sprintf("built-in pricing table is invalid: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}

// Override is the YAML shape of a pricing file.
//
//	models:
//	  - id: gemini-2.5-flash
//	    tier: production
//	    input_per_million: 0.30
//	    output_per_million: 2.50
//	chains:
//	  flash: [gemini-2.5-flash-lite, gemini-2.5-flash]
type Override struct {
	Models []ModelSpec          `yaml:"models"`
	Chains map[string][]string `yaml:"chains"`
}

// Load merges a YAML override over the defaults. An empty path returns Default().
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	return Parse(data)
}

// Parse merges YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Table, error) {
	var o Override
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	byID := make(map[string]ModelSpec, len(DefaultModels)+len(o.Models))
	var order []string
	for _, m := range DefaultModels {
		byID[m.ID] = m
		order = append(order, m.ID)
	}
	for _, m := range o.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("parse pricing file: model without id")
		}
		if m.Tier == "" {
			m.Tier = TierProduction
		}
		if _, seen := byID[m.ID]; !seen {
			order = append(order, m.ID)
		}
		byID[m.ID] = m
	}
	models := make([]ModelSpec, 0, len(order))
	for _, id := range order {
		models = append(models, byID[id])
	}

	chains := make(map[string][]string, len(DefaultChains)+len(o.Chains))
	for name, ids := range DefaultChains {
		chains[name] = ids
	}
	for name, ids := range o.Chains {
		chains[name] = ids
	}

	return New(models, chains)
}
