package executor

import (
	"errors"
	"fmt"
)

// ErrAllModelsExhausted means every model of a tier failed.
var ErrAllModelsExhausted = errors.New("all models exhausted")

// ExhaustedError carries the tier and the last failure seen.
type ExhaustedError struct {
	Tier string
	Last error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("tier %s: %s", e.Tier, ErrAllModelsExhausted)
	}
	return fmt.Sprintf("tier %s: %s: %v", e.Tier, ErrAllModelsExhausted, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllModelsExhausted}
	}
	return []error{ErrAllModelsExhausted, e.Last}
}
