package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/backlog/backlogtest"
	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/metrics"
)

func item(n int, status backlog.Status, p backlog.Priority, labels ...string) backlog.WorkItem {
	return backlog.WorkItem{Number: n, Status: status, Priority: p, Labels: labels}
}

func newService(f *backlogtest.Fake, opts ...Option) (*Service, *metrics.Metrics) {
	m := metrics.New()
	base := []Option{WithLogger(logging.Discard("selector")), WithMetrics(m)}
	return NewService(f, append(base, opts...)...), m
}

func TestSelectEmpty(t *testing.T) {
	assert.Nil(t, Select(nil, Options{}))

	items := []backlog.WorkItem{
		item(1, backlog.StatusDone, backlog.P0),
		item(2, backlog.StatusInProgress, backlog.P0),
		item(3, backlog.StatusTodo, backlog.P0, "blocked"),
	}
	assert.Nil(t, Select(items, Options{}))
}

func TestSelectPausedBeatsTodo(t *testing.T) {
	items := []backlog.WorkItem{
		item(1, backlog.StatusTodo, backlog.P1),
		item(2, backlog.StatusPaused, backlog.P2),
	}
	sel := Select(items, Options{})
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.Item.Number)
	assert.False(t, sel.IsSubIssue)
}

func TestSelectOrdering(t *testing.T) {
	tests := []struct {
		name  string
		items []backlog.WorkItem
		want  int
	}{
		{
			name: "lower priority rank wins",
			items: []backlog.WorkItem{
				item(1, backlog.StatusTodo, backlog.P2),
				item(2, backlog.StatusTodo, backlog.P0),
				item(3, backlog.StatusTodo, backlog.P1),
			},
			want: 2,
		},
		{
			name: "unset sorts last",
			items: []backlog.WorkItem{
				item(1, backlog.StatusTodo, backlog.PriorityNone),
				item(2, backlog.StatusTodo, backlog.P2),
			},
			want: 2,
		},
		{
			name: "ties keep input order",
			items: []backlog.WorkItem{
				item(7, backlog.StatusTodo, backlog.P1),
				item(3, backlog.StatusTodo, backlog.P1),
			},
			want: 7,
		},
		{
			name: "blocked paused item is skipped",
			items: []backlog.WorkItem{
				item(1, backlog.StatusPaused, backlog.P0, "Blocked"),
				item(2, backlog.StatusTodo, backlog.P2),
			},
			want: 2,
		},
		{
			name: "backlog and review are not candidates",
			items: []backlog.WorkItem{
				item(1, backlog.StatusBacklog, backlog.P0),
				item(2, backlog.StatusReview, backlog.P0),
				item(3, backlog.StatusTodo, backlog.PriorityNone),
			},
			want: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Select(tt.items, Options{})
			require.NotNil(t, sel)
			assert.Equal(t, tt.want, sel.Item.Number)
		})
	}
}

func TestSelectBlockPatterns(t *testing.T) {
	items := []backlog.WorkItem{
		item(1, backlog.StatusTodo, backlog.P0, "blocked-by-infra"),
		item(2, backlog.StatusTodo, backlog.P1, "waiting/review"),
		item(3, backlog.StatusTodo, backlog.P2, "blocked"),
		item(4, backlog.StatusTodo, backlog.PriorityNone),
	}

	// default only matches the exact label
	sel := Select(items, Options{})
	require.NotNil(t, sel)
	assert.Equal(t, 1, sel.Item.Number)

	sel = Select(items, Options{BlockPatterns: []string{"blocked*", "waiting/**"}})
	require.NotNil(t, sel)
	assert.Equal(t, 4, sel.Item.Number)
}

func TestSelectSubIssue(t *testing.T) {
	parent := item(10, backlog.StatusTodo, backlog.P0)
	parent.SubIssues = []backlog.SubIssue{
		{ID: "I_1", Number: 11, Title: "done", State: "CLOSED", Labels: []string{"P0"}},
		{ID: "I_2", Number: 12, Title: "low", State: "OPEN", Labels: []string{"priority:P2"}},
		{ID: "I_3", Number: 13, Title: "high", State: "OPEN", Labels: []string{"P1"}},
		{ID: "I_4", Number: 14, Title: "also high", State: "OPEN", Labels: []string{"p1"}},
	}

	sel := Select([]backlog.WorkItem{parent}, Options{})
	require.NotNil(t, sel)
	assert.True(t, sel.IsSubIssue)
	assert.Equal(t, 13, sel.Item.Number)
	assert.Equal(t, "I_3", sel.Item.ContentID)
	assert.Equal(t, backlog.P1, sel.Item.Priority)
	require.NotNil(t, sel.Parent)
	assert.Equal(t, 10, sel.Parent.Number)
}

func TestSelectSubIssueWithoutPrioritiesTakesFirstOpen(t *testing.T) {
	parent := item(10, backlog.StatusTodo, backlog.P0)
	parent.SubIssues = []backlog.SubIssue{
		{Number: 11, State: "closed"},
		{Number: 12, State: "open"},
		{Number: 13, State: "open"},
	}

	sel := Select([]backlog.WorkItem{parent}, Options{})
	require.NotNil(t, sel)
	assert.Equal(t, 12, sel.Item.Number)
}

func TestSelectSkipsParentWithOnlyBlockedChildren(t *testing.T) {
	stuck := item(10, backlog.StatusPaused, backlog.P0)
	stuck.SubIssues = []backlog.SubIssue{
		{Number: 11, State: "OPEN", Labels: []string{"blocked"}},
	}
	next := item(20, backlog.StatusTodo, backlog.P2)

	sel := Select([]backlog.WorkItem{stuck, next}, Options{})
	require.NotNil(t, sel)
	assert.Equal(t, 20, sel.Item.Number)
	assert.False(t, sel.IsSubIssue)
}

func TestSelectAllChildrenClosedDispatchesParent(t *testing.T) {
	parent := item(10, backlog.StatusTodo, backlog.P1)
	parent.SubIssues = []backlog.SubIssue{{Number: 11, State: "CLOSED"}}

	sel := Select([]backlog.WorkItem{parent}, Options{})
	require.NotNil(t, sel)
	assert.Equal(t, 10, sel.Item.Number)
	assert.False(t, sel.IsSubIssue)
}

func TestNextPromotesTopLevelItem(t *testing.T) {
	f := backlogtest.New(
		item(1, backlog.StatusTodo, backlog.P1),
		item(2, backlog.StatusPaused, backlog.P2),
	)
	svc, m := newService(f)

	sel, err := svc.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.Item.Number)
	assert.True(t, sel.StatusUpdated)
	assert.Equal(t, backlog.StatusInProgress, sel.Item.Status)

	got, _ := f.Snapshot(2)
	assert.Equal(t, backlog.StatusInProgress, got.Status)
	untouched, _ := f.Snapshot(1)
	assert.Equal(t, backlog.StatusTodo, untouched.Status)

	assert.Equal(t, int64(1), m.Selections.Load())
	assert.Equal(t, int64(1), m.StatusPromotions.Load())
}

func TestNextSubIssueLeavesParentStatus(t *testing.T) {
	parent := item(10, backlog.StatusTodo, backlog.P0)
	parent.SubIssues = []backlog.SubIssue{{Number: 11, State: "OPEN"}}
	f := backlogtest.New(parent)
	svc, m := newService(f)

	sel, err := svc.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.True(t, sel.IsSubIssue)
	assert.False(t, sel.StatusUpdated)
	assert.NotContains(t, f.Calls, "SetField")

	got, _ := f.Snapshot(10)
	assert.Equal(t, backlog.StatusTodo, got.Status)
	assert.Zero(t, m.StatusPromotions.Load())
}

func TestNextNothingEligible(t *testing.T) {
	f := backlogtest.New(item(1, backlog.StatusDone, backlog.P0))
	svc, m := newService(f)

	sel, err := svc.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sel)
	assert.Equal(t, int64(1), m.SelectionsEmpty.Load())
	assert.Equal(t, []string{"Items"}, f.Calls)
}

func TestNextBoardUnreachable(t *testing.T) {
	f := backlogtest.New(item(1, backlog.StatusTodo, backlog.P0))
	f.Fail["Items"] = errors.New("dial tcp: connection refused")
	svc, _ := newService(f)

	sel, err := svc.Next(context.Background())
	require.Error(t, err)
	assert.Nil(t, sel)
	assert.Contains(t, err.Error(), "read board")
	assert.Equal(t, []string{"Items"}, f.Calls, "no in-process retry")
}

func TestNextPromotionFailure(t *testing.T) {
	f := backlogtest.New(item(1, backlog.StatusTodo, backlog.P0))
	f.Fail["SetField"] = errors.New("HTTP 403")
	svc, _ := newService(f)

	_, err := svc.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "promote #1")
}

func TestNextCustomBlockPatterns(t *testing.T) {
	f := backlogtest.New(
		item(1, backlog.StatusTodo, backlog.P0, "needs-design"),
		item(2, backlog.StatusTodo, backlog.P1),
	)
	svc, _ := newService(f, WithBlockPatterns("needs-*"))

	sel, err := svc.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.Item.Number)
}
