package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

var (
	// ErrUnknownModel indicates a model id absent from the table.
	ErrUnknownModel = errors.New("unknown model")

	// ErrUnknownTier indicates a tier with no fallback chain.
	ErrUnknownTier = errors.New("unknown tier")
)

// UnknownModelError carries the requested id and close matches.
type UnknownModelError struct {
	Model       string
	Suggestions []string
}

func (e *UnknownModelError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown model: %s", e.Model)
	}
	return fmt.Sprintf("unknown model: %s (did you mean %s?)", e.Model, strings.Join(e.Suggestions, ", "))
}

func (e *UnknownModelError) Unwrap() error {
	return ErrUnknownModel
}

// UnknownTierError names the missing tier.
type UnknownTierError struct {
	Tier string
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown tier: %s", e.Tier)
}

func (e *UnknownTierError) Unwrap() error {
	return ErrUnknownTier
}

const maxSuggestions = 3

func (t *Table) unknown(modelID string) error {
	ids := make([]string, 0, len(t.models))
	for _, m := range t.Models() {
		ids = append(ids, m.ID)
	}
	var suggestions []string
	for _, match := range fuzzy.Find(modelID, ids) {
		suggestions = append(suggestions, match.Str)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return &UnknownModelError{Model: modelID, Suggestions: suggestions}
}
