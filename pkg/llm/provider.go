// Package llm defines the boundary between the executor and model backends.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Backend is the interface all model backends must implement
type Backend interface {
	ID() string

	// Generate sends a single non-streaming request.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a request to a model
type Request struct {
	Model           string
	Prompt          string
	MaxOutputTokens int
	// Temperature is nil to use the backend default.
	Temperature *float64

	// Schema, when set, asks the backend for JSON matching it.
	Schema json.RawMessage
}

// Structured reports whether the caller expects a JSON payload.
func (r *Request) Structured() bool {
	return len(r.Schema) > 0
}

// Usage is the provider-reported token consumption.
type Usage struct {
	PromptTokens    int `json:"promptTokenCount"`
	CandidateTokens int `json:"candidatesTokenCount"`
}

// Response is what a backend returns on success.
type Response struct {
	Content Content
	Usage   Usage
}

// ContentKind tags how a backend delivered its payload.
type ContentKind int

const (
	KindRaw ContentKind = iota
	KindParsed
)

func (k ContentKind) String() string {
	if k == KindParsed {
		return "parsed"
	}
	return "raw"
}

// Content is either structured data the backend already decoded, or raw text.
type Content struct {
	kind   ContentKind
	text   string
	parsed json.RawMessage
}

// Parsed wraps structured data delivered by the backend. text is the
// original response text, kept for logging.
func Parsed(data json.RawMessage, text string) Content {
	return Content{kind: KindParsed, parsed: data, text: text}
}

// Raw wraps unstructured response text.
func Raw(text string) Content {
	return Content{kind: KindRaw, text: text}
}

func (c Content) Kind() ContentKind { return c.kind }

// Text returns the response text as delivered.
func (c Content) Text() string { return c.text }

// Data returns the structured payload; nil for raw content.
func (c Content) Data() json.RawMessage { return c.parsed }

// Registry routes model ids to backends by longest matching prefix.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register serves every model whose id starts with prefix from b.
func (r *Registry) Register(prefix string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[prefix] = b
}

// For returns the backend serving modelID.
func (r *Registry) For(modelID string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	for prefix := range r.backends {
		if strings.HasPrefix(modelID, prefix) && len(prefix) >= len(best) {
			best = prefix
		}
	}
	b, ok := r.backends[best]
	if !ok {
		return nil, fmt.Errorf("no backend registered for model %s", modelID)
	}
	return b, nil
}

// Prefixes lists registered prefixes, sorted.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for p := range r.backends {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
