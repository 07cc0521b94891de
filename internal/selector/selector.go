// Package selector picks the next work item to dispatch from the board.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/metrics"
)

// DefaultBlockPatterns excludes items labelled "blocked".
var DefaultBlockPatterns = []string{"blocked"}

// Options control candidate filtering.
type Options struct {
	// BlockPatterns are doublestar patterns matched case-insensitively
	// against labels. Empty means DefaultBlockPatterns.
	BlockPatterns []string
}

// Selection is the unit chosen for dispatch.
type Selection struct {
	// Item is the dispatched unit: the board item itself or, for a
	// sub-issue, a work item built from the child.
	Item backlog.WorkItem `json:"item"`

	// Parent is set when Item is a sub-issue.
	Parent *backlog.WorkItem `json:"parent,omitempty"`

	IsSubIssue bool `json:"isSubIssue"`

	// StatusUpdated reports whether the board status was set to In Progress.
	StatusUpdated bool `json:"statusUpdated"`
}

func statusRank(s backlog.Status) int {
	if s == backlog.StatusPaused {
		return 0
	}
	return 1
}

// Select returns the next unit of work, or nil when nothing is eligible.
// It does not touch the board.
func Select(items []backlog.WorkItem, opts Options) *Selection {
	m := newMatcher(opts.BlockPatterns)

	var candidates []backlog.WorkItem
	for _, it := range items {
		if it.Status != backlog.StatusTodo && it.Status != backlog.StatusPaused {
			continue
		}
		if m.blocked(it.Labels) {
			continue
		}
		candidates = append(candidates, it)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		return a.Priority.Rank() < b.Priority.Rank()
	})

	for i := range candidates {
		it := candidates[i]
		open := it.OpenSubIssues()
		if len(open) == 0 {
			return &Selection{Item: it}
		}
		child, ok := pickChild(open, m)
		if !ok {
			// every open child is blocked
			continue
		}
		parent := it
		return &Selection{Item: childItem(child), Parent: &parent, IsSubIssue: true}
	}
	return nil
}

// pickChild returns the most important unblocked child; ties keep
// declaration order.
func pickChild(open []backlog.SubIssue, m matcher) (backlog.SubIssue, bool) {
	var (
		best  backlog.SubIssue
		found bool
	)
	for _, c := range open {
		if m.blocked(c.Labels) {
			continue
		}
		if !found || c.Priority().Rank() < best.Priority().Rank() {
			best, found = c, true
		}
	}
	return best, found
}

func childItem(c backlog.SubIssue) backlog.WorkItem {
	return backlog.WorkItem{
		ContentID: c.ID,
		Number:    c.Number,
		Title:     c.Title,
		Priority:  c.Priority(),
		Labels:    append([]string(nil), c.Labels...),
	}
}

type matcher struct {
	patterns []string
}

func newMatcher(patterns []string) matcher {
	if len(patterns) == 0 {
		patterns = DefaultBlockPatterns
	}
	m := matcher{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

func (m matcher) blocked(labels []string) bool {
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		for _, p := range m.patterns {
			ok, err := doublestar.Match(p, l)
			if err != nil {
				// invalid pattern: compare literally
				ok = p == l
			}
			if ok {
				return true
			}
		}
	}
	return false
}

// Service reads the board, selects and promotes.
type Service struct {
	board   backlog.Board
	opts    Options
	log     *logging.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithBlockPatterns(patterns ...string) Option {
	return func(s *Service) { s.opts.BlockPatterns = patterns }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(board backlog.Board, opts ...Option) *Service {
	s := &Service{
		board:   board,
		log:     logging.New("selector"),
		metrics: metrics.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next selects one unit of work. A top-level item is moved to In Progress;
// a sub-issue leaves its parent untouched. Nil with no error means nothing
// is eligible. Board errors are returned as-is for the caller to retry on a
// later run.
func (s *Service) Next(ctx context.Context) (*Selection, error) {
	log := s.log.FromContext(ctx)

	items, err := s.board.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("read board: %w", err)
	}

	sel := Select(items, s.opts)
	if sel == nil {
		s.metrics.RecordSelection(false, false)
		log.Info("no_eligible_item", map[string]interface{}{"items": len(items)})
		return nil, nil
	}

	if !sel.IsSubIssue {
		if err := s.board.SetField(ctx, sel.Item.ID, backlog.FieldStatus, backlog.OptionValue(string(backlog.StatusInProgress))); err != nil {
			return nil, fmt.Errorf("promote #%d: %w", sel.Item.Number, err)
		}
		sel.StatusUpdated = true
		sel.Item.Status = backlog.StatusInProgress
	}
	s.metrics.RecordSelection(true, sel.StatusUpdated)

	extra := map[string]interface{}{
		"number":     sel.Item.Number,
		"priority":   string(sel.Item.Priority),
		"sub_issue":  sel.IsSubIssue,
		"promoted":   sel.StatusUpdated,
		"candidates": len(items),
	}
	if sel.Parent != nil {
		extra["parent"] = sel.Parent.Number
	}
	log.Info("item_selected", extra)
	return sel, nil
}
