package pricing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCost(t *testing.T) {
	table := Default()

	tests := []struct {
		name  string
		model string
		in    int
		out   int
		want  Cost
	}{
		{"zero tokens", "gemini-2.5-flash", 0, 0, Cost{}},
		{"one million each", "gemini-2.5-pro", 1_000_000, 1_000_000, Cost{InputCost: 1.25, OutputCost: 10, TotalCost: 11.25}},
		{"small call", "gemini-2.5-flash", 250, 50, Cost{InputCost: 0.000075, OutputCost: 0.000125, TotalCost: 0.0002}},
		{"negative clamps", "gemini-2.5-flash", -10, -10, Cost{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Cost(tt.model, tt.in, tt.out)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.InputCost, got.InputCost, 1e-12)
			assert.InDelta(t, tt.want.OutputCost, got.OutputCost, 1e-12)
			assert.InDelta(t, tt.want.TotalCost, got.TotalCost, 1e-12)
		})
	}
}

func TestCostTotalIsSumForEveryModel(t *testing.T) {
	table := Default()
	samples := [][2]int{{0, 0}, {1, 1}, {250, 50}, {1000, 200}, {123456, 7890}, {5_000_000, 0}}

	for _, m := range table.Models() {
		for _, s := range samples {
			c, err := table.Cost(m.ID, s[0], s[1])
			require.NoError(t, err)
			assert.Equal(t, c.InputCost+c.OutputCost, c.TotalCost, "%s %v", m.ID, s)
			assert.GreaterOrEqual(t, c.InputCost, 0.0)
			assert.GreaterOrEqual(t, c.OutputCost, 0.0)
		}
	}
}

func TestUnknownModel(t *testing.T) {
	_, err := Default().Cost("gemini-2.5-flsh", 10, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownModel)

	var unknown *UnknownModelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "gemini-2.5-flsh", unknown.Model)
	assert.Contains(t, unknown.Suggestions, "gemini-2.5-flash")

	_, err = Default().Cost("", 0, 0)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestCheapest(t *testing.T) {
	table := Default()

	got, err := table.Cheapest("flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-lite", got)

	got, err = table.Cheapest("pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", got)

	_, err = table.Cheapest("ultra")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestDefaultChainsAscending(t *testing.T) {
	table := Default()
	for _, tier := range table.Tiers() {
		chain, err := table.Chain(tier)
		require.NoError(t, err)
		for i := 1; i < len(chain); i++ {
			assert.LessOrEqual(t, chain[i-1].Blended(), chain[i].Blended(), "tier %s position %d", tier, i)
		}
	}
}

func TestValidateRejectsUnorderedChain(t *testing.T) {
	_, err := New(DefaultModels, map[string][]string{
		"bad": {"gemini-2.5-pro", "gemini-2.5-flash"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cheaper than its predecessor")

	_, err = New(DefaultModels, map[string][]string{"ghost": {"nope"}})
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = New(DefaultModels, map[string][]string{"empty": {}})
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 250, EstimateTokens(string(make([]byte, 1000))))
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	yml := `
models:
  - id: gemini-2.5-flash
    input_per_million: 0.35
    output_per_million: 2.75
  - id: local-llama
    tier: preview
    input_per_million: 0
    output_per_million: 0
chains:
  local: [local-llama]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	table, err := Load(path)
	require.NoError(t, err)

	spec, err := table.Model("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, 0.35, spec.InputPerMillion)
	assert.Equal(t, TierProduction, spec.Tier)

	cheapest, err := table.Cheapest("local")
	require.NoError(t, err)
	assert.Equal(t, "local-llama", cheapest)

	_, err = table.Cheapest("flash")
	assert.NoError(t, err, "default chains survive an override")
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)
	assert.Same(t, Default(), table)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("models: [ {"))
	assert.Error(t, err)

	_, err = Parse([]byte("chains:\n  flash: [gemini-2.5-pro, gemini-2.0-flash-lite]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("models: [{id: cheap, input_per_million: -1, output_per_million: -2}]"))
	assert.ErrorContains(t, err, "negative price")

	_, err = Parse([]byte("models: [{id: gemini-2.5-flash, input_per_million: 0.30, output_per_million: -2.50}]"))
	assert.ErrorContains(t, err, "negative price")
}
