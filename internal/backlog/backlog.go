// Package backlog defines work items and the board and comment interfaces
// the selector, ledger and triage packages run against.
package backlog

import (
	"context"
	"strconv"
	"strings"
)

// Status is a board status option name.
type Status string

const (
	StatusBacklog    Status = "Backlog"
	StatusTodo       Status = "Todo"
	StatusPaused     Status = "Paused"
	StatusInProgress Status = "In Progress"
	StatusReview     Status = "Review"
	StatusDone       Status = "Done"
)

var statuses = []Status{StatusBacklog, StatusTodo, StatusPaused, StatusInProgress, StatusReview, StatusDone}

// ParseStatus matches a board option name, ignoring case and surrounding space.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range statuses {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

// Priority is P0 (highest) to P2, or unset.
type Priority string

const (
	PriorityNone Priority = ""
	P0           Priority = "P0"
	P1           Priority = "P1"
	P2           Priority = "P2"
)

// Rank orders priorities: P0=0, P1=1, P2=2, unset=3.
func (p Priority) Rank() int {
	switch p {
	case P0:
		return 0
	case P1:
		return 1
	case P2:
		return 2
	default:
		return 3
	}
}

// ParsePriority accepts "P1", "p1", "priority:P1" and "priority/p1".
func ParsePriority(s string) (Priority, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "PRIORITY:")
	s = strings.TrimPrefix(s, "PRIORITY/")
	switch Priority(strings.TrimSpace(s)) {
	case P0:
		return P0, true
	case P1:
		return P1, true
	case P2:
		return P2, true
	}
	return PriorityNone, false
}

// PriorityFromLabels returns the most important priority among labels.
func PriorityFromLabels(labels []string) Priority {
	best := PriorityNone
	for _, l := range labels {
		if p, ok := ParsePriority(l); ok && p.Rank() < best.Rank() {
			best = p
		}
	}
	return best
}

// SubIssue is a child issue of a work item. Children are not board items;
// their priority comes from labels.
type SubIssue struct {
	ID     string   `json:"id"`
	Number int      `json:"number"`
	Title  string   `json:"title"`
	State  string   `json:"state"`
	Labels []string `json:"labels,omitempty"`
}

func (s SubIssue) Open() bool {
	return strings.EqualFold(s.State, "OPEN")
}

func (s SubIssue) Priority() Priority {
	return PriorityFromLabels(s.Labels)
}

// WorkItem is an issue on the project board.
type WorkItem struct {
	ID        string     `json:"id"`
	ContentID string     `json:"contentId,omitempty"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Status    Status     `json:"status,omitempty"`
	Priority  Priority   `json:"priority,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	SubIssues []SubIssue `json:"subIssues,omitempty"`
	Model     string     `json:"model,omitempty"`
	Cost      *float64   `json:"cost,omitempty"`
}

// HasLabel compares case-insensitively.
func (w *WorkItem) HasLabel(name string) bool {
	for _, l := range w.Labels {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

// OpenSubIssues returns open children in declaration order.
func (w *WorkItem) OpenSubIssues() []SubIssue {
	var out []SubIssue
	for _, s := range w.SubIssues {
		if s.Open() {
			out = append(out, s)
		}
	}
	return out
}

// Field is a project board field.
type Field string

const (
	FieldStatus   Field = "Status"
	FieldPriority Field = "Priority"
	FieldModel    Field = "Model"
	FieldCost     Field = "Cost"
)

// FieldValue is a single-select option name or a number.
type FieldValue struct {
	Option string
	Number *float64
}

func OptionValue(name string) FieldValue {
	return FieldValue{Option: name}
}

func NumberValue(n float64) FieldValue {
	return FieldValue{Number: &n}
}

// IsNumber reports whether v carries a number.
func (v FieldValue) IsNumber() bool {
	return v.Number != nil
}

func (v FieldValue) String() string {
	if v.Number != nil {
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	}
	return v.Option
}

// Board is the backlog store.
type Board interface {
	// Items lists every item on the board.
	Items(ctx context.Context) ([]WorkItem, error)
	// Item returns the board item for an issue number.
	Item(ctx context.Context, number int) (*WorkItem, error)
	// EnsureItem adds the issue to the board if absent and returns the item.
	EnsureItem(ctx context.Context, number int) (*WorkItem, error)
	SetField(ctx context.Context, itemID string, field Field, value FieldValue) error
	// AddLabels is additive; labels already present are kept.
	AddLabels(ctx context.Context, number int, labels []string) error
}

// Comment is an issue comment. Key is the structured identity of
// machine-owned comments and empty otherwise; Version is opaque and changes
// on every update.
type Comment struct {
	ID      string `json:"id"`
	Key     string `json:"key,omitempty"`
	Body    string `json:"body"`
	Version string `json:"version"`
}

// CommentStream is the per-issue comment store.
type CommentStream interface {
	Comments(ctx context.Context, number int) ([]Comment, error)
	CreateComment(ctx context.Context, number int, key, body string) (*Comment, error)
	// UpdateComment fails with a conflict error when ifVersion is set and
	// no longer matches the stored version.
	UpdateComment(ctx context.Context, id, body, ifVersion string) (*Comment, error)
}

// FindByKey returns the first comment carrying key, or nil.
func FindByKey(comments []Comment, key string) *Comment {
	for i := range comments {
		if comments[i].Key == key {
			return &comments[i]
		}
	}
	return nil
}

// DedupeLabels drops empty and repeated labels, keeping first occurrence.
func DedupeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	var out []string
	for _, l := range labels {
		l = strings.TrimSpace(l)
		key := strings.ToLower(l)
		if l == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}
