package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joss/taskpilot/internal/graph"
)

// Store persists audit events to the graph.
type Store struct {
	db graph.Driver
}

var _ Saver = (*Store)(nil)

// NewStore creates a new audit store.
func NewStore(db graph.Driver) *Store {
	return &Store{db: db}
}

// Save persists an event under its run and links it to the issue it touched.
func (s *Store) Save(ctx context.Context, event *AuditEvent) error {
	query := `
		MERGE (run:Run {run_id: $run_id})
		CREATE (e:AuditEvent {
			event_id: $event_id,
			category: $category,
			operation: $operation,
			command: $command,
			issue: $issue,
			status: $status,
			exit_code: $exit_code,
			error_message: $error_message,
			started_at: $started_at,
			completed_at: $completed_at,
			duration_ms: $duration_ms,
			commit_hash: $commit_hash,
			commit_short: $commit_short,
			branch: $branch,
			is_dirty: $is_dirty,
			repo: $repo
		})
		CREATE (run)-[:LOGGED]->(e)
	`
	if event.Issue > 0 {
		query += `
		MERGE (i:Issue {repo: $repo, number: $issue})
		CREATE (e)-[:TOUCHED]->(i)
	`
	}

	return s.db.ExecuteWrite(ctx, query, map[string]any{
		"run_id":        event.RunID,
		"event_id":      event.EventID,
		"category":      string(event.Category),
		"operation":     event.Operation,
		"command":       event.Command,
		"issue":         event.Issue,
		"status":        string(event.Status),
		"exit_code":     event.ExitCode,
		"error_message": event.ErrorMessage,
		"started_at":    event.StartedAt.UTC().Format(time.RFC3339),
		"completed_at":  event.CompletedAt.UTC().Format(time.RFC3339),
		"duration_ms":   event.DurationMs,
		"commit_hash":   event.Git.CommitHash,
		"commit_short":  event.Git.CommitShort,
		"branch":        event.Git.Branch,
		"is_dirty":      event.Git.IsDirty,
		"repo":          event.Repo,
	})
}

// QueryFilter defines filters for querying audit events.
type QueryFilter struct {
	Category Category
	Status   Status
	Issue    int
	RunID    string
	Since    time.Time
	Limit    int
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]AuditEvent, error) {
	var conditions []string
	params := map[string]any{}

	if filter.Category != "" {
		conditions = append(conditions, "e.category = $category")
		params["category"] = string(filter.Category)
	}
	if filter.Status != "" {
		conditions = append(conditions, "e.status = $status")
		params["status"] = string(filter.Status)
	}
	if filter.Issue > 0 {
		conditions = append(conditions, "e.issue = $issue")
		params["issue"] = filter.Issue
	}
	if filter.RunID != "" {
		conditions = append(conditions, "run.run_id = $run_id")
		params["run_id"] = filter.RunID
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "e.started_at >= $since")
		params["since"] = filter.Since.UTC().Format(time.RFC3339)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	params["limit"] = limit

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		MATCH (run:Run)-[:LOGGED]->(e:AuditEvent)
		%s
		RETURN e.event_id as event_id,
		       run.run_id as run_id,
		       e.category as category,
		       e.operation as operation,
		       e.command as command,
		       e.issue as issue,
		       e.status as status,
		       e.exit_code as exit_code,
		       e.error_message as error_message,
		       e.started_at as started_at,
		       e.completed_at as completed_at,
		       e.duration_ms as duration_ms,
		       e.commit_hash as commit_hash,
		       e.commit_short as commit_short,
		       e.branch as branch,
		       e.is_dirty as is_dirty,
		       e.repo as repo
		ORDER BY e.started_at DESC
		LIMIT $limit
	`, whereClause)

	records, err := s.db.Execute(ctx, query, params)
	if err != nil {
		return nil, err
	}

	events := make([]AuditEvent, 0, len(records))
	for _, r := range records {
		event := AuditEvent{
			EventID:      graph.GetString(r, "event_id"),
			RunID:        graph.GetString(r, "run_id"),
			Category:     Category(graph.GetString(r, "category")),
			Operation:    graph.GetString(r, "operation"),
			Command:      graph.GetString(r, "command"),
			Issue:        graph.GetInt(r, "issue"),
			Status:       Status(graph.GetString(r, "status")),
			ExitCode:     graph.GetInt(r, "exit_code"),
			ErrorMessage: graph.GetString(r, "error_message"),
			DurationMs:   graph.GetInt64(r, "duration_ms"),
			Repo:         graph.GetString(r, "repo"),
			StartedAt:    graph.GetTime(r, "started_at"),
			CompletedAt:  graph.GetTime(r, "completed_at"),
			Git: GitContext{
				CommitHash:  graph.GetString(r, "commit_hash"),
				CommitShort: graph.GetString(r, "commit_short"),
				Branch:      graph.GetString(r, "branch"),
				IsDirty:     graph.GetBool(r, "is_dirty"),
			},
		}

		event.Duration = time.Duration(event.DurationMs) * time.Millisecond

		events = append(events, event)
	}

	return events, nil
}

// Stats summarizes events per category.
type Stats struct {
	Category      Category `json:"category"`
	Total         int      `json:"total"`
	Errors        int      `json:"errors"`
	AvgDurationMs float64  `json:"avg_duration_ms"`
}

// GetStatsByCategory returns stats grouped by category.
func (s *Store) GetStatsByCategory(ctx context.Context) ([]Stats, error) {
	query := `
		MATCH (:Run)-[:LOGGED]->(e:AuditEvent)
		RETURN e.category as category,
		       count(e) as total,
		       sum(CASE WHEN e.status = 'error' THEN 1 ELSE 0 END) as errors,
		       avg(e.duration_ms) as avg_duration_ms
		ORDER BY total DESC
	`

	records, err := s.db.Execute(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	var stats []Stats
	for _, r := range records {
		cat := graph.GetString(r, "category")
		if cat == "" {
			continue
		}
		stats = append(stats, Stats{
			Category:      Category(cat),
			Total:         graph.GetInt(r, "total"),
			Errors:        graph.GetInt(r, "errors"),
			AvgDurationMs: graph.GetFloat(r, "avg_duration_ms"),
		})
	}
	return stats, nil
}
