// Package triage applies model-produced classification to the board.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/ledger"
	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/metrics"
)

// Operation is the ledger operation name for triage usage.
const Operation = "triage"

// ErrNoIssue means neither the decision nor the syncer names an issue.
var ErrNoIssue = errors.New("no issue number in decision and no default configured")

// Usage is the token spend of the classification call.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// Decision is a classification result. Every field except the issue is
// optional.
type Decision struct {
	IssueNumber int      `json:"issueNumber,omitempty"`
	Model       string   `json:"model,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Usage       *Usage   `json:"usage,omitempty"`
}

// Step names.
const (
	StepEnsure   = "ensure"
	StepStatus   = "status"
	StepPriority = "priority"
	StepModel    = "model"
	StepLabels   = "labels"
	StepUsage    = "usage"
)

// StepResult is the outcome of one board call.
type StepResult struct {
	Name    string `json:"name"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// Report lists every step attempted for one decision.
type Report struct {
	IssueNumber int          `json:"issueNumber"`
	Steps       []StepResult `json:"steps"`
}

// Failed returns the steps that returned an error.
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Err joins the errors of failed steps; nil when all succeeded or were skipped.
func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Failed() {
		errs = append(errs, fmt.Errorf("#%d %s: %w", r.IssueNumber, s.Name, s.Err))
	}
	return errors.Join(errs...)
}

// Step returns the named step result.
func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// UsageRecorder is satisfied by *ledger.Service.
type UsageRecorder interface {
	Accumulate(ctx context.Context, number int, operation, modelID string, inputTokens, outputTokens int) (*ledger.Ledger, error)
}

// Syncer writes decisions to the board.
type Syncer struct {
	board                 backlog.Board
	usage                 UsageRecorder
	defaultIssue          int
	preserveHumanPriority bool
	log                   *logging.Logger
	metrics               *metrics.Metrics
}

type Option func(*Syncer)

// WithDefaultIssue is used when a decision carries no issue number.
func WithDefaultIssue(n int) Option {
	return func(s *Syncer) { s.defaultIssue = n }
}

// WithUsageRecorder enables recording classification usage.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(s *Syncer) { s.usage = r }
}

// PreserveHumanPriority keeps a priority that is already set on the board.
func PreserveHumanPriority() Option {
	return func(s *Syncer) { s.preserveHumanPriority = true }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

func NewSyncer(board backlog.Board, opts ...Option) *Syncer {
	s := &Syncer{
		board:   board,
		log:     logging.New("triage"),
		metrics: metrics.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply writes one decision. Steps run independently: a failed step is
// logged and reported, and the rest still run. The returned error is only
// non-nil when no issue can be resolved; use Report.Err for step failures.
func (s *Syncer) Apply(ctx context.Context, d Decision) (*Report, error) {
	number := d.IssueNumber
	if number <= 0 {
		number = s.defaultIssue
	}
	if number <= 0 {
		return nil, ErrNoIssue
	}

	log := s.log.FromContext(ctx).WithIssue(number)
	rep := &Report{IssueNumber: number}
	record := func(name string, err error) {
		r := StepResult{Name: name, Err: err}
		if err != nil {
			r.Error = err.Error()
			log.Warn("step_failed", map[string]interface{}{"step": name}, err)
		}
		s.metrics.RecordTriageStep(err == nil)
		rep.Steps = append(rep.Steps, r)
	}
	skip := func(name, reason string) {
		rep.Steps = append(rep.Steps, StepResult{Name: name, Skipped: true, Reason: reason})
		log.Debug("step_skipped", map[string]interface{}{"step": name, "reason": reason})
	}

	item, err := s.board.EnsureItem(ctx, number)
	record(StepEnsure, err)

	setOption := func(name string, field backlog.Field, value string) {
		if item == nil {
			skip(name, "item not on board")
			return
		}
		record(name, s.board.SetField(ctx, item.ID, field, backlog.OptionValue(value)))
	}

	setOption(StepStatus, backlog.FieldStatus, string(backlog.StatusTodo))

	switch {
	case strings.TrimSpace(d.Priority) == "":
		skip(StepPriority, "not in decision")
	default:
		p, ok := backlog.ParsePriority(d.Priority)
		switch {
		case !ok:
			record(StepPriority, fmt.Errorf("unknown priority %q", d.Priority))
		case s.preserveHumanPriority && item != nil && item.Priority != backlog.PriorityNone:
			skip(StepPriority, "already set to "+string(item.Priority))
		default:
			setOption(StepPriority, backlog.FieldPriority, string(p))
		}
	}

	if model := strings.TrimSpace(d.Model); model != "" {
		setOption(StepModel, backlog.FieldModel, model)
	} else {
		skip(StepModel, "not in decision")
	}

	if labels := backlog.DedupeLabels(d.Labels); len(labels) > 0 {
		record(StepLabels, s.board.AddLabels(ctx, number, labels))
	} else {
		skip(StepLabels, "not in decision")
	}

	switch {
	case d.Usage == nil:
		skip(StepUsage, "not in decision")
	case s.usage == nil:
		skip(StepUsage, "no ledger configured")
	case d.Usage.Model == "":
		record(StepUsage, errors.New("usage has no model id"))
	default:
		_, err := s.usage.Accumulate(ctx, number, Operation, d.Usage.Model, d.Usage.InputTokens, d.Usage.OutputTokens)
		record(StepUsage, err)
	}

	log.Info("decision_applied", map[string]interface{}{
		"steps":  len(rep.Steps),
		"failed": len(rep.Failed()),
	})
	return rep, nil
}

// ApplyAll applies decisions in order. Decisions that resolve to no issue
// are collected as errors and the rest still run.
func (s *Syncer) ApplyAll(ctx context.Context, decisions []Decision) ([]*Report, error) {
	reports := make([]*Report, 0, len(decisions))
	var errs []error
	for i, d := range decisions {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := s.Apply(ctx, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("decision %d: %w", i+1, err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}
