// Package tokens provides token counting using tiktoken-go.
// Used for pre-flight prompt sizing reports; billing always uses provider counts.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/joss/taskpilot/internal/pricing"
)

// Counter provides token counting for text.
// Uses cl100k_base encoding as a model-agnostic approximation.
type Counter struct {
	enc  *tiktoken.Tiktoken
	once sync.Once
	err  error
}

// Global counter instance
var defaultCounter = &Counter{}

// Count returns the number of tokens in the given text.
func Count(text string) int {
	return defaultCounter.Count(text)
}

// Exact reports whether counts come from the BPE encoder rather than the fallback.
func Exact() bool {
	return defaultCounter.Exact()
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	c.init()
	if c.err != nil || c.enc == nil {
		return pricing.EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Exact reports whether the encoder loaded.
func (c *Counter) Exact() bool {
	c.init()
	return c.err == nil && c.enc != nil
}

func (c *Counter) init() {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
}

// Estimate compares the encoder count with the coarse heuristic for one prompt.
type Estimate struct {
	Heuristic int  `json:"heuristic"`
	Counted   int  `json:"counted"`
	Exact     bool `json:"exact"`
}

// EstimatePrompt sizes a prompt both ways.
func EstimatePrompt(text string) Estimate {
	return Estimate{
		Heuristic: pricing.EstimateTokens(text),
		Counted:   Count(text),
		Exact:     Exact(),
	}
}

// Fits reports whether text fits a token budget according to the counter.
func Fits(text string, budget int) bool {
	return Count(text) <= budget
}
