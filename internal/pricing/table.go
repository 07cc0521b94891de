// Package pricing holds per-model prices and the tiered fallback chains.
// It is pure lookup: no network, no mutable state after load.
package pricing

import (
	"fmt"
	"sort"
)

// Tier marks a model as generally available or preview.
type Tier string

const (
	TierProduction Tier = "production"
	TierPreview    Tier = "preview"
)

// ModelSpec prices a single model in USD per 1M tokens.
type ModelSpec struct {
	ID               string  `yaml:"id" json:"id"`
	Tier             Tier    `yaml:"tier" json:"tier"`
	InputPerMillion  float64 `yaml:"input_per_million" json:"inputPerMillion"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"outputPerMillion"`
}

// Blended is the average of input and output price, used to order chains.
func (m ModelSpec) Blended() float64 {
	return (m.InputPerMillion + m.OutputPerMillion) / 2
}

// Cost is the priced consumption of one call.
type Cost struct {
	InputCost  float64 `json:"inputCost"`
	OutputCost float64 `json:"outputCost"`
	TotalCost  float64 `json:"totalCost"`
}

// Table maps model ids to prices and tier names to fallback chains.
type Table struct {
	models map[string]ModelSpec
	chains map[string][]string
}

// New builds a table and validates every chain.
func New(models []ModelSpec, chains map[string][]string) (*Table, error) {
	t := &Table{
		models: make(map[string]ModelSpec, len(models)),
		chains: make(map[string][]string, len(chains)),
	}
	for _, m := range models {
		t.models[m.ID] = m
	}
	for name, ids := range chains {
		t.chains[name] = append([]string(nil), ids...)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that prices are non-negative and that chains only
// reference known models, ordered by ascending blended cost.
func (t *Table) Validate() error {
	for id, m := range t.models {
		if m.InputPerMillion < 0 || m.OutputPerMillion < 0 {
			return fmt.Errorf("model %s: negative price", id)
		}
	}
	for name, ids := range t.chains {
		if len(ids) == 0 {
			return fmt.Errorf("chain %q is empty", name)
		}
		prev := -1.0
		for _, id := range ids {
			spec, ok := t.models[id]
			if !ok {
				return fmt.Errorf("chain %q: %w", name, t.unknown(id))
			}
			if spec.Blended() < prev {
				return fmt.Errorf("chain %q: %s is cheaper than its predecessor", name, id)
			}
			prev = spec.Blended()
		}
	}
	return nil
}

// Model returns the spec for a model id.
func (t *Table) Model(modelID string) (ModelSpec, error) {
	spec, ok := t.models[modelID]
	if !ok {
		return ModelSpec{}, t.unknown(modelID)
	}
	return spec, nil
}

// Cost prices a call. Negative token counts are treated as zero.
func (t *Table) Cost(modelID string, inputTokens, outputTokens int) (Cost, error) {
	spec, ok := t.models[modelID]
	if !ok {
		return Cost{}, t.unknown(modelID)
	}
	in := float64(max(inputTokens, 0)) / 1_000_000 * spec.InputPerMillion
	out := float64(max(outputTokens, 0)) / 1_000_000 * spec.OutputPerMillion
	return Cost{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in + out,
	}, nil
}

// Chain returns the ordered models of a tier, cheapest first.
func (t *Table) Chain(tier string) ([]ModelSpec, error) {
	ids, ok := t.chains[tier]
	if !ok {
		return nil, &UnknownTierError{Tier: tier}
	}
	out := make([]ModelSpec, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.models[id])
	}
	return out, nil
}

// Cheapest returns the first model of a tier's chain.
func (t *Table) Cheapest(tier string) (string, error) {
	ids, ok := t.chains[tier]
	if !ok || len(ids) == 0 {
		return "", &UnknownTierError{Tier: tier}
	}
	return ids[0], nil
}

// Tiers lists chain names in sorted order.
func (t *Table) Tiers() []string {
	names := make([]string, 0, len(t.chains))
	for name := range t.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models lists every priced model ordered by blended cost, then id.
func (t *Table) Models() []ModelSpec {
	out := make([]ModelSpec, 0, len(t.models))
	for _, m := range t.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Blended() != out[j].Blended() {
			return out[i].Blended() < out[j].Blended()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EstimateTokens is a coarse ceil(len/4) heuristic for pre-flight sizing.
// Not for billing.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
