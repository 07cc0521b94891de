// Package github implements the backlog board on GitHub Projects v2 and the
// comment stream on issue comments.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/store"
)

const (
	defaultAPIURL  = "https://api.github.com"
	defaultTimeout = 30 * time.Second
	pageSize       = 100
)

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// APIError is a non-2xx REST response or a GraphQL error payload.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "github: " + e.Message
	}
	return fmt.Sprintf("github: HTTP %d: %s", e.StatusCode, e.Message)
}

// Config selects the repository and board.
type Config struct {
	Token         string
	Owner         string
	Repo          string
	ProjectOwner  string
	ProjectNumber int
	APIURL        string
	HTTPClient    HTTPClient
}

// ConfigFromEnv builds a Config from the taskpilot environment.
func ConfigFromEnv() (Config, error) {
	e := config.Env()
	if err := e.RequireGitHub(); err != nil {
		return Config{}, err
	}
	owner, repo, _ := e.RepoParts()
	return Config{
		Token:         e.GitHubToken,
		Owner:         owner,
		Repo:          repo,
		ProjectOwner:  e.Owner(),
		ProjectNumber: e.ProjectNumber,
	}, nil
}

// Client talks to the REST and GraphQL APIs.
type Client struct {
	cfg    Config
	client HTTPClient
	log    *logging.Logger

	mu      sync.Mutex
	project *projectMeta
}

var (
	_ backlog.Board         = (*Client)(nil)
	_ backlog.CommentStream = (*Client)(nil)
)

type Option func(*Client)

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.ProjectOwner == "" {
		cfg.ProjectOwner = cfg.Owner
	}
	c := &Client{cfg: cfg, client: cfg.HTTPClient, log: logging.New("github")}
	if c.client == nil {
		c.client = &http.Client{Timeout: defaultTimeout}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one request and decodes a JSON response into out when out is
// non-nil. Transport failures wrap store.ErrConnection.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, store.ErrConnection, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	c.log.FromContext(ctx).Debug("api_call", map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func apiMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func (c *Client) repoPath(format string, args ...interface{}) string {
	return fmt.Sprintf("/repos/%s/%s", c.cfg.Owner, c.cfg.Repo) + fmt.Sprintf(format, args...)
}
