// Package executor runs a prompt against a tier's fallback chain.
//
// Models are tried cheapest first. A quota error moves on to the next model
// at once; any other failure is retried on the same model after a backoff.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/metrics"
	"github.com/joss/taskpilot/internal/pricing"
	"github.com/joss/taskpilot/pkg/llm"
)

// Resolver finds the backend serving a model id. *llm.Registry satisfies it.
type Resolver interface {
	For(modelID string) (llm.Backend, error)
}

// Result is the outcome of a successful run.
type Result struct {
	ModelUsed    string          `json:"modelUsed"`
	InputTokens  int             `json:"inputTokens"`
	OutputTokens int             `json:"outputTokens"`
	Data         json.RawMessage `json:"data,omitempty"`
	RawText      string          `json:"rawText"`
	Attempts     int             `json:"attempts"`
}

// Executor is safe for sequential use; it holds no per-run state.
type Executor struct {
	pricing  *pricing.Table
	backends Resolver
	policy   RetryPolicy
	sleep    SleepFunc
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithSleep replaces the wall-clock wait, for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func New(table *pricing.Table, backends Resolver, opts ...Option) *Executor {
	e := &Executor{
		pricing:  table,
		backends: backends,
		policy:   DefaultRetryPolicy(),
		sleep:    Sleep,
		log:      logging.New("executor"),
		metrics:  metrics.Global(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runConfig struct {
	schema          json.RawMessage
	maxRetries      int
	maxOutputTokens int
	temperature     *float64
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

// WithSchema requests structured output matching schema.
func WithSchema(schema json.RawMessage) RunOption {
	return func(c *runConfig) { c.schema = schema }
}

// WithMaxRetries overrides the per-model attempt count.
func WithMaxRetries(n int) RunOption {
	return func(c *runConfig) { c.maxRetries = n }
}

func WithMaxOutputTokens(n int) RunOption {
	return func(c *runConfig) { c.maxOutputTokens = n }
}

func WithTemperature(t float64) RunOption {
	return func(c *runConfig) { c.temperature = &t }
}

// Run executes prompt against tier's chain and returns the first success.
func (e *Executor) Run(ctx context.Context, tier, prompt string, opts ...RunOption) (*Result, error) {
	cfg := runConfig{maxRetries: e.policy.attempts()}
	for _, opt := range opts {
		opt(&cfg)
	}
	policy := e.policy
	policy.MaxAttempts = cfg.maxRetries
	maxAttempts := policy.attempts()

	chain, err := e.pricing.Chain(tier)
	if err != nil {
		return nil, err
	}

	ctx, span := metrics.StartSpan(ctx, "executor.run",
		attribute.String("tier", tier),
		attribute.Int("chain.length", len(chain)),
		attribute.Bool("structured", len(cfg.schema) > 0),
	)
	defer span.End()

	log := e.log.FromContext(ctx)
	var last error
	total := 0

	for _, model := range chain {
		backend, err := e.backends.For(model.ID)
		if err != nil {
			last = err
			log.Warn("backend_missing", map[string]interface{}{"model": model.ID}, err)
			continue
		}

		req := &llm.Request{
			Model:           model.ID,
			Prompt:          prompt,
			MaxOutputTokens: cfg.maxOutputTokens,
			Temperature:     cfg.temperature,
			Schema:          cfg.schema,
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			total++

			res, err := e.attempt(ctx, backend, req, attempt)
			if err == nil {
				res.Attempts = total
				span.SetAttributes(attribute.String("model.used", res.ModelUsed), attribute.Int("attempts", total))
				log.Info("run_complete", map[string]interface{}{
					"tier":          tier,
					"model":         res.ModelUsed,
					"attempts":      total,
					"input_tokens":  res.InputTokens,
					"output_tokens": res.OutputTokens,
				})
				return res, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, ctxErr.Error())
				return nil, ctxErr
			}
			last = err

			if llm.IsQuota(err) {
				e.metrics.RecordQuotaFallback()
				log.Warn("quota_fallback", map[string]interface{}{"model": model.ID, "attempt": attempt + 1}, err)
				break
			}

			if attempt+1 < maxAttempts {
				delay := policy.Delay(attempt)
				log.Warn("attempt_failed", map[string]interface{}{
					"model":    model.ID,
					"attempt":  attempt + 1,
					"retry_in": delay.String(),
				}, err)
				if err := e.sleep(ctx, delay); err != nil {
					span.SetStatus(codes.Error, err.Error())
					return nil, err
				}
			} else {
				log.Warn("model_failed", map[string]interface{}{"model": model.ID, "attempts": maxAttempts}, err)
			}
		}
	}

	e.metrics.RecordExhausted()
	exhausted := &ExhaustedError{Tier: tier, Last: last}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, ErrAllModelsExhausted.Error())
	log.Error("models_exhausted", map[string]interface{}{"tier": tier, "attempts": total}, last)
	return nil, exhausted
}

func (e *Executor) attempt(ctx context.Context, backend llm.Backend, req *llm.Request, attempt int) (*Result, error) {
	ctx, span := metrics.StartSpan(ctx, "executor.attempt",
		attribute.String("model", req.Model),
		attribute.Int("attempt", attempt+1),
	)
	defer span.End()

	start := time.Now()
	resp, err := backend.Generate(ctx, req)
	if err == nil && req.Structured() {
		var data json.RawMessage
		data, err = Normalize(resp.Content)
		if err == nil {
			resp.Content = llm.Parsed(data, resp.Content.Text())
		}
	}
	e.metrics.RecordAttempt(err == nil, time.Since(start).Milliseconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CandidateTokens)
	span.SetAttributes(
		attribute.Int("tokens.input", resp.Usage.PromptTokens),
		attribute.Int("tokens.output", resp.Usage.CandidateTokens),
	)
	return &Result{
		ModelUsed:    req.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CandidateTokens,
		Data:         resp.Content.Data(),
		RawText:      resp.Content.Text(),
	}, nil
}

// Normalize turns backend content into a JSON payload. Parsed content is
// used as is; raw text is parsed directly, then again with any markdown
// code fence removed.
func Normalize(c llm.Content) (json.RawMessage, error) {
	if c.Kind() == llm.KindParsed {
		return c.Data(), nil
	}

	text := strings.TrimSpace(c.Text())
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}

	stripped := stripFence(text)
	if json.Valid([]byte(stripped)) {
		return json.RawMessage(stripped), nil
	}

	return nil, fmt.Errorf("%w: %s", llm.ErrMalformedOutput, preview(text))
}

func stripFence(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	// drop the language tag line
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func preview(s string) string {
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

// IsExhausted reports whether err means every model of a tier failed.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrAllModelsExhausted)
}
