// Package backlogtest provides an in-memory Board and CommentStream for tests.
package backlogtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/store"
)

// Fake is an in-memory board with issue comments. Errors set in Fail are
// returned by the method of the same name.
type Fake struct {
	mu       sync.Mutex
	items    []backlog.WorkItem
	issues   map[int][]string
	comments map[int][]backlog.Comment
	nextID   int

	Fail  map[string]error
	Calls []string

	// BeforeUpdate runs inside UpdateComment before the version check,
	// letting a test simulate a concurrent writer.
	BeforeUpdate func(f *Fake, id string)
}

var (
	_ backlog.Board         = (*Fake)(nil)
	_ backlog.CommentStream = (*Fake)(nil)
)

func New(items ...backlog.WorkItem) *Fake {
	f := &Fake{
		issues:   map[int][]string{},
		comments: map[int][]backlog.Comment{},
		Fail:     map[string]error{},
	}
	for _, it := range items {
		if it.ID == "" {
			it.ID = fmt.Sprintf("item-%d", it.Number)
		}
		f.items = append(f.items, it)
		f.issues[it.Number] = append([]string(nil), it.Labels...)
	}
	return f
}

// AddIssue registers an issue that is not on the board.
func (f *Fake) AddIssue(number int, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues[number] = labels
}

// Snapshot returns a copy of the board item for number.
func (f *Fake) Snapshot(number int) (backlog.WorkItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(number)
	if i < 0 {
		return backlog.WorkItem{}, false
	}
	return f.copyItem(i), true
}

// Labels returns the current labels of an issue.
func (f *Fake) Labels(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.issues[number]...)
}

// SetComments replaces the comments of an issue.
func (f *Fake) SetComments(number int, comments ...backlog.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[number] = comments
}

// Bump rewrites a comment out of band, as another process would. It does
// not lock; call it from BeforeUpdate.
func (f *Fake) Bump(id, body string) {
	for n, cs := range f.comments {
		for i := range cs {
			if cs[i].ID == id {
				v, _ := strconv.Atoi(cs[i].Version)
				cs[i].Version = strconv.Itoa(v + 1)
				cs[i].Body = body
				f.comments[n] = cs
				return
			}
		}
	}
}

func (f *Fake) record(call string) error {
	f.Calls = append(f.Calls, call)
	return f.Fail[call]
}

func (f *Fake) index(number int) int {
	for i := range f.items {
		if f.items[i].Number == number {
			return i
		}
	}
	return -1
}

func (f *Fake) copyItem(i int) backlog.WorkItem {
	it := f.items[i]
	it.Labels = append([]string(nil), f.issues[it.Number]...)
	it.SubIssues = append([]backlog.SubIssue(nil), it.SubIssues...)
	return it
}

func (f *Fake) Items(ctx context.Context) ([]backlog.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Items"); err != nil {
		return nil, err
	}
	out := make([]backlog.WorkItem, 0, len(f.items))
	for i := range f.items {
		out = append(out, f.copyItem(i))
	}
	return out, nil
}

func (f *Fake) Item(ctx context.Context, number int) (*backlog.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Item"); err != nil {
		return nil, err
	}
	i := f.index(number)
	if i < 0 {
		return nil, store.NewNotFoundError("item", "#"+strconv.Itoa(number))
	}
	it := f.copyItem(i)
	return &it, nil
}

func (f *Fake) EnsureItem(ctx context.Context, number int) (*backlog.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EnsureItem"); err != nil {
		return nil, err
	}
	if i := f.index(number); i >= 0 {
		it := f.copyItem(i)
		return &it, nil
	}
	if _, ok := f.issues[number]; !ok {
		return nil, store.NewNotFoundError("issue", "#"+strconv.Itoa(number))
	}
	f.items = append(f.items, backlog.WorkItem{ID: fmt.Sprintf("item-%d", number), Number: number})
	it := f.copyItem(len(f.items) - 1)
	return &it, nil
}

func (f *Fake) SetField(ctx context.Context, itemID string, field backlog.Field, value backlog.FieldValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetField"); err != nil {
		return err
	}
	if err := f.Fail["SetField:"+string(field)]; err != nil {
		return err
	}
	for i := range f.items {
		if f.items[i].ID != itemID {
			continue
		}
		switch field {
		case backlog.FieldStatus:
			f.items[i].Status = backlog.Status(value.Option)
		case backlog.FieldPriority:
			f.items[i].Priority = backlog.Priority(value.Option)
		case backlog.FieldModel:
			f.items[i].Model = value.Option
		case backlog.FieldCost:
			if value.Number == nil {
				return fmt.Errorf("field %s needs a number", field)
			}
			c := *value.Number
			f.items[i].Cost = &c
		}
		return nil
	}
	return store.NewNotFoundError("item", itemID)
}

func (f *Fake) AddLabels(ctx context.Context, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddLabels"); err != nil {
		return err
	}
	if _, ok := f.issues[number]; !ok {
		return store.NewNotFoundError("issue", "#"+strconv.Itoa(number))
	}
	f.issues[number] = backlog.DedupeLabels(append(f.issues[number], labels...))
	return nil
}

func (f *Fake) Comments(ctx context.Context, number int) ([]backlog.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Comments"); err != nil {
		return nil, err
	}
	return append([]backlog.Comment(nil), f.comments[number]...), nil
}

func (f *Fake) CreateComment(ctx context.Context, number int, key, body string) (*backlog.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateComment"); err != nil {
		return nil, err
	}
	f.nextID++
	c := backlog.Comment{ID: fmt.Sprintf("c%d", f.nextID), Key: key, Body: body, Version: "1"}
	f.comments[number] = append(f.comments[number], c)
	return &c, nil
}

func (f *Fake) UpdateComment(ctx context.Context, id, body, ifVersion string) (*backlog.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateComment"); err != nil {
		return nil, err
	}
	if f.BeforeUpdate != nil {
		f.BeforeUpdate(f, id)
	}
	for n, cs := range f.comments {
		for i := range cs {
			if cs[i].ID != id {
				continue
			}
			if ifVersion != "" && cs[i].Version != ifVersion {
				return nil, &store.ConflictError{Entity: "comment", ID: id, Expected: ifVersion}
			}
			v, _ := strconv.Atoi(cs[i].Version)
			cs[i].Version = strconv.Itoa(v + 1)
			cs[i].Body = body
			f.comments[n] = cs
			c := cs[i]
			return &c, nil
		}
	}
	return nil, store.NewNotFoundError("comment", id)
}
