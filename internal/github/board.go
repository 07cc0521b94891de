package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/store"
)

// projectMeta caches the board id and field ids; it is fetched once per client.
type projectMeta struct {
	id     string
	fields map[string]fieldNode
}

func (c *Client) vars(extra map[string]interface{}) map[string]interface{} {
	v := map[string]interface{}{"owner": c.cfg.ProjectOwner, "number": c.cfg.ProjectNumber}
	for k, x := range extra {
		v[k] = x
	}
	return v
}

func (c *Client) meta(ctx context.Context) (*projectMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.project != nil {
		return c.project, nil
	}

	var data ownerData
	if err := c.graphql(ctx, projectFieldsQuery, c.vars(nil), &data); err != nil {
		return nil, fmt.Errorf("load project fields: %w", err)
	}
	if data.RepositoryOwner == nil || data.RepositoryOwner.ProjectV2 == nil {
		return nil, store.NewNotFoundError("project", fmt.Sprintf("%s/%d", c.cfg.ProjectOwner, c.cfg.ProjectNumber))
	}

	p := data.RepositoryOwner.ProjectV2
	m := &projectMeta{id: p.ID, fields: make(map[string]fieldNode, len(p.Fields.Nodes))}
	for _, f := range p.Fields.Nodes {
		if f.ID != "" {
			m.fields[strings.ToLower(f.Name)] = f
		}
	}
	c.project = m
	return m, nil
}

// Items lists every issue on the board, following pagination.
func (c *Client) Items(ctx context.Context) ([]backlog.WorkItem, error) {
	var (
		out    []backlog.WorkItem
		cursor interface{}
	)
	for {
		var data ownerData
		if err := c.graphql(ctx, projectItemsQuery, c.vars(map[string]interface{}{"cursor": cursor}), &data); err != nil {
			return nil, fmt.Errorf("list project items: %w", err)
		}
		if data.RepositoryOwner == nil || data.RepositoryOwner.ProjectV2 == nil {
			return nil, store.NewNotFoundError("project", fmt.Sprintf("%s/%d", c.cfg.ProjectOwner, c.cfg.ProjectNumber))
		}
		page := data.RepositoryOwner.ProjectV2.Items
		for _, n := range page.Nodes {
			if n.Content == nil || n.Content.Number == 0 {
				// draft issues and pull requests
				continue
			}
			out = append(out, toWorkItem(n))
		}
		if !page.PageInfo.HasNextPage {
			return out, nil
		}
		cursor = page.PageInfo.EndCursor
	}
}

func toWorkItem(n itemNode) backlog.WorkItem {
	it := backlog.WorkItem{
		ID:        n.ID,
		ContentID: n.Content.ID,
		Number:    n.Content.Number,
		Title:     n.Content.Title,
		Body:      n.Content.Body,
		Labels:    n.Content.Labels.names(),
	}
	for _, s := range n.Content.SubIssues.Nodes {
		it.SubIssues = append(it.SubIssues, backlog.SubIssue{
			ID:     s.ID,
			Number: s.Number,
			Title:  s.Title,
			State:  s.State,
			Labels: s.Labels.names(),
		})
	}
	for _, v := range n.FieldValues.Nodes {
		switch backlog.Field(v.Field.Name) {
		case backlog.FieldStatus:
			if v.Name != nil {
				if st, ok := backlog.ParseStatus(*v.Name); ok {
					it.Status = st
				}
			}
		case backlog.FieldPriority:
			if v.Name != nil {
				it.Priority, _ = backlog.ParsePriority(*v.Name)
			}
		case backlog.FieldModel:
			if v.Name != nil {
				it.Model = *v.Name
			} else if v.Text != nil {
				it.Model = *v.Text
			}
		case backlog.FieldCost:
			if v.Number != nil {
				cost := *v.Number
				it.Cost = &cost
			}
		}
	}
	return it
}

func (c *Client) Item(ctx context.Context, number int) (*backlog.WorkItem, error) {
	items, err := c.Items(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Number == number {
			return &items[i], nil
		}
	}
	return nil, store.NewNotFoundError("item", "#"+strconv.Itoa(number))
}

// EnsureItem adds the issue to the board when absent. addProjectV2ItemById
// returns the existing item for content already on the board.
func (c *Client) EnsureItem(ctx context.Context, number int) (*backlog.WorkItem, error) {
	it, err := c.Item(ctx, number)
	if err == nil {
		return it, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	m, err := c.meta(ctx)
	if err != nil {
		return nil, err
	}

	var issue struct {
		Repository *struct {
			Issue *struct {
				ID string `json:"id"`
			} `json:"issue"`
		} `json:"repository"`
	}
	vars := map[string]interface{}{"owner": c.cfg.Owner, "repo": c.cfg.Repo, "number": number}
	if err := c.graphql(ctx, issueIDQuery, vars, &issue); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, store.NewNotFoundError("issue", "#"+strconv.Itoa(number))
		}
		return nil, fmt.Errorf("resolve issue #%d: %w", number, err)
	}
	if issue.Repository == nil || issue.Repository.Issue == nil {
		return nil, store.NewNotFoundError("issue", "#"+strconv.Itoa(number))
	}

	var added struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"addProjectV2ItemById"`
	}
	contentID := issue.Repository.Issue.ID
	if err := c.graphql(ctx, addItemMutation, map[string]interface{}{"project": m.id, "content": contentID}, &added); err != nil {
		return nil, fmt.Errorf("add #%d to project: %w", number, err)
	}
	c.log.FromContext(ctx).WithIssue(number).Info("item_added", map[string]interface{}{"item": added.AddProjectV2ItemByID.Item.ID})
	return &backlog.WorkItem{ID: added.AddProjectV2ItemByID.Item.ID, ContentID: contentID, Number: number}, nil
}

// SetField writes one field. Single-select values are matched to option
// ids by name; text fields take the option string as-is.
func (c *Client) SetField(ctx context.Context, itemID string, field backlog.Field, value backlog.FieldValue) error {
	m, err := c.meta(ctx)
	if err != nil {
		return err
	}
	f, ok := m.fields[strings.ToLower(string(field))]
	if !ok {
		return store.NewNotFoundError("field", string(field))
	}

	var v map[string]interface{}
	switch f.DataType {
	case "SINGLE_SELECT":
		for _, o := range f.Options {
			if strings.EqualFold(o.Name, value.Option) {
				v = map[string]interface{}{"singleSelectOptionId": o.ID}
				break
			}
		}
		if v == nil {
			return store.NewNotFoundError("option", fmt.Sprintf("%s=%s", field, value.Option))
		}
	case "NUMBER":
		if !value.IsNumber() {
			return fmt.Errorf("field %s needs a number, got %q", field, value.Option)
		}
		v = map[string]interface{}{"number": *value.Number}
	default:
		v = map[string]interface{}{"text": value.String()}
	}

	vars := map[string]interface{}{"project": m.id, "item": itemID, "field": f.ID, "value": v}
	if err := c.graphql(ctx, setFieldMutation, vars, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return store.NewNotFoundError("item", itemID)
		}
		return fmt.Errorf("set %s on %s: %w", field, itemID, err)
	}
	return nil
}

// AddLabels is additive on the REST API.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	labels = backlog.DedupeLabels(labels)
	if len(labels) == 0 {
		return nil
	}
	err := c.do(ctx, http.MethodPost, c.repoPath("/issues/%d/labels", number), map[string][]string{"labels": labels}, nil)
	if isStatus(err, http.StatusNotFound) {
		return store.NewNotFoundError("issue", "#"+strconv.Itoa(number))
	}
	if err != nil {
		return fmt.Errorf("add labels to #%d: %w", number, err)
	}
	return nil
}
