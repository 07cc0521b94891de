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

// Keys of machine-owned comments are stored as a first-line HTML comment,
// invisible in the rendered issue.
const (
	keyOpen  = "<!-- "
	keyClose = " -->"
)

type restComment struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updated_at"`
}

func withKey(key, body string) string {
	if key == "" {
		return body
	}
	return keyOpen + key + keyClose + "\n" + body
}

// splitKey returns the key header and the remaining body. Only a first line
// holding a single space-free token counts as a key.
func splitKey(body string) (key, rest string) {
	line, rest, _ := strings.Cut(body, "\n")
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, keyOpen) || !strings.HasSuffix(line, keyClose) {
		return "", body
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, keyOpen), keyClose)
	if inner == "" || strings.ContainsAny(inner, " \t") || !strings.Contains(inner, ":") {
		return "", body
	}
	return inner, rest
}

func toComment(rc restComment) backlog.Comment {
	key, body := splitKey(rc.Body)
	return backlog.Comment{
		ID:      strconv.FormatInt(rc.ID, 10),
		Key:     key,
		Body:    body,
		Version: rc.UpdatedAt,
	}
}

// Comments lists every comment of an issue in creation order.
func (c *Client) Comments(ctx context.Context, number int) ([]backlog.Comment, error) {
	var out []backlog.Comment
	for page := 1; ; page++ {
		var batch []restComment
		path := c.repoPath("/issues/%d/comments?per_page=%d&page=%d", number, pageSize, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			if isStatus(err, http.StatusNotFound) {
				return nil, store.NewNotFoundError("issue", "#"+strconv.Itoa(number))
			}
			return nil, fmt.Errorf("list comments of #%d: %w", number, err)
		}
		for _, rc := range batch {
			out = append(out, toComment(rc))
		}
		if len(batch) < pageSize {
			return out, nil
		}
	}
}

func (c *Client) CreateComment(ctx context.Context, number int, key, body string) (*backlog.Comment, error) {
	var rc restComment
	err := c.do(ctx, http.MethodPost, c.repoPath("/issues/%d/comments", number), map[string]string{"body": withKey(key, body)}, &rc)
	if isStatus(err, http.StatusNotFound) {
		return nil, store.NewNotFoundError("issue", "#"+strconv.Itoa(number))
	}
	if err != nil {
		return nil, fmt.Errorf("create comment on #%d: %w", number, err)
	}
	cm := toComment(rc)
	return &cm, nil
}

// UpdateComment compares updated_at before patching. GitHub has no
// conditional write for comments, so a writer landing between the read and
// the patch is not detected.
func (c *Client) UpdateComment(ctx context.Context, id, body, ifVersion string) (*backlog.Comment, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return nil, fmt.Errorf("comment id %q: %w", id, store.ErrInvalidID)
	}
	path := c.repoPath("/issues/comments/%s", id)

	var current restComment
	if err := c.do(ctx, http.MethodGet, path, nil, &current); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, store.NewNotFoundError("comment", id)
		}
		return nil, fmt.Errorf("read comment %s: %w", id, err)
	}
	if ifVersion != "" && current.UpdatedAt != ifVersion {
		return nil, &store.ConflictError{Entity: "comment", ID: id, Expected: ifVersion}
	}

	key, _ := splitKey(current.Body)
	var rc restComment
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"body": withKey(key, body)}, &rc); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, store.NewNotFoundError("comment", id)
		}
		return nil, fmt.Errorf("update comment %s: %w", id, err)
	}
	cm := toComment(rc)
	return &cm, nil
}
