// Package audit records one event per CLI operation, to stderr and optionally
// to the graph database.
package audit

import (
	"os/exec"
	"strings"
	"time"
)

// Category represents the type of operation being audited.
type Category string

const (
	CategorySelect  Category = "select"
	CategoryRun     Category = "run"
	CategoryUsage   Category = "usage"
	CategoryTriage  Category = "triage"
	CategoryPricing Category = "pricing"
	CategoryLocal   Category = "local"
	CategorySystem  Category = "system"
)

// Status represents the outcome of an operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoop    Status = "noop"
	StatusError   Status = "error"
)

// AuditEvent represents a single auditable operation.
type AuditEvent struct {
	EventID string `json:"event_id"`

	Category  Category `json:"category"`
	Operation string   `json:"operation"`
	Command   string   `json:"command,omitempty"`
	Issue     int      `json:"issue,omitempty"`

	Status       Status `json:"status"`
	ExitCode     int    `json:"exit_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	DurationMs  int64         `json:"duration_ms,omitempty"`
	Duration    time.Duration `json:"-"`

	Git GitContext `json:"git"`

	RunID string `json:"run_id,omitempty"`
	Repo  string `json:"repo,omitempty"`
}

// GitContext holds git-related context for an audit event.
type GitContext struct {
	CommitHash  string `json:"commit_hash,omitempty"`
	CommitShort string `json:"commit_short,omitempty"`
	Branch      string `json:"branch,omitempty"`
	IsDirty     bool   `json:"is_dirty"`
}

// GetGitContext captures git state of dir; empty dir means the working
// directory. Outside a repository every field is empty.
func GetGitContext(dir string) GitContext {
	ctx := GitContext{}

	if out, ok := gitOutput(dir, "rev-parse", "HEAD"); ok {
		ctx.CommitHash = out
		if len(out) >= 7 {
			ctx.CommitShort = out[:7]
		}
	}
	if out, ok := gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD"); ok {
		ctx.Branch = out
	}
	if out, ok := gitOutput(dir, "status", "--porcelain"); ok {
		ctx.IsDirty = out != ""
	}
	return ctx
}

func gitOutput(dir string, args ...string) (string, bool) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

// Complete finalizes the event with timing and status.
func (e *AuditEvent) Complete(status Status, err error) {
	e.CompletedAt = time.Now()
	e.Duration = e.CompletedAt.Sub(e.StartedAt)
	e.DurationMs = e.Duration.Milliseconds()
	e.Status = status

	if err != nil {
		e.ErrorMessage = err.Error()
		if status == "" || status == StatusSuccess {
			e.Status = StatusError
		}
		if e.ExitCode == 0 {
			e.ExitCode = 1
		}
	}
}
