// Package config provides centralized configuration management.
// All environment lookups for taskpilot go through Env().
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Backend selects where the backlog lives.
type Backend string

const (
	BackendGitHub Backend = "github"
	BackendLocal  Backend = "local"
)

// TaskpilotEnv holds all taskpilot environment variables.
type TaskpilotEnv struct {
	// GitHubToken authenticates board, label and comment calls (GITHUB_TOKEN or GH_TOKEN)
	GitHubToken string

	// GeminiKey authenticates model calls (GEMINI_API_KEY or GOOGLE_API_KEY)
	GeminiKey string

	// GeminiBaseURL overrides the Gemini API base URL (GEMINI_BASE_URL)
	GeminiBaseURL string

	// Repo is "owner/name" of the tracked repository (TASKPILOT_REPO, then GITHUB_REPOSITORY)
	Repo string

	// ProjectOwner is the login owning the Projects v2 board (TASKPILOT_PROJECT_OWNER)
	ProjectOwner string

	// ProjectNumber is the board number (TASKPILOT_PROJECT_NUMBER)
	ProjectNumber int

	// Backend is github or local (TASKPILOT_BACKEND)
	Backend Backend

	// DBPath is the sqlite file used by the local backend (TASKPILOT_DB)
	DBPath string

	// PricingFile is an optional YAML price/chain override (TASKPILOT_PRICING_FILE)
	PricingFile string

	// MaxRetries is the per-model attempt budget (TASKPILOT_MAX_RETRIES)
	MaxRetries int

	// BaseDelay is the backoff base (TASKPILOT_BASE_DELAY_MS)
	BaseDelay time.Duration

	// BlockLabels are label patterns that exclude an item from selection (TASKPILOT_BLOCK_LABELS)
	BlockLabels []string

	// IssueNumber is the default work item for single-item commands (TASKPILOT_ISSUE_NUMBER)
	IssueNumber int

	// MetricsFile receives a Prometheus textfile at exit (TASKPILOT_METRICS_FILE)
	MetricsFile string

	// OtelExporter is none or stdout (TASKPILOT_OTEL_EXPORTER)
	OtelExporter string

	// Neo4jURI enables audit persistence when set (NEO4J_URI)
	Neo4jURI string

	// Neo4jUser is the graph database user (NEO4J_USER)
	Neo4jUser string

	// Neo4jPassword is the graph database password (NEO4J_PASSWORD)
	Neo4jPassword string
}

var (
	env     *TaskpilotEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *TaskpilotEnv {
	envOnce.Do(func() {
		env = &TaskpilotEnv{
			GitHubToken:   firstEnv("GITHUB_TOKEN", "GH_TOKEN"),
			GeminiKey:     firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			GeminiBaseURL: os.Getenv("GEMINI_BASE_URL"),
			Repo:          firstEnv("TASKPILOT_REPO", "GITHUB_REPOSITORY"),
			ProjectOwner:  os.Getenv("TASKPILOT_PROJECT_OWNER"),
			ProjectNumber: getEnvInt("TASKPILOT_PROJECT_NUMBER", 0),
			Backend:       Backend(strings.ToLower(getEnvDefault("TASKPILOT_BACKEND", string(BackendGitHub)))),
			DBPath:        getEnvDefault("TASKPILOT_DB", filepath.Join(GetPaths().Data, "backlog.db")),
			PricingFile:   os.Getenv("TASKPILOT_PRICING_FILE"),
			MaxRetries:    getEnvInt("TASKPILOT_MAX_RETRIES", 3),
			BaseDelay:     time.Duration(getEnvInt("TASKPILOT_BASE_DELAY_MS", 1000)) * time.Millisecond,
			BlockLabels:   splitList(getEnvDefault("TASKPILOT_BLOCK_LABELS", "blocked")),
			IssueNumber:   getEnvInt("TASKPILOT_ISSUE_NUMBER", 0),
			MetricsFile:   os.Getenv("TASKPILOT_METRICS_FILE"),
			OtelExporter:  strings.ToLower(getEnvDefault("TASKPILOT_OTEL_EXPORTER", "none")),
			Neo4jURI:      os.Getenv("NEO4J_URI"),
			Neo4jUser:     os.Getenv("NEO4J_USER"),
			Neo4jPassword: os.Getenv("NEO4J_PASSWORD"),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

// RepoParts splits Repo into owner and name.
func (e *TaskpilotEnv) RepoParts() (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(e.Repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// RequireGitHub checks the variables needed to talk to the board.
func (e *TaskpilotEnv) RequireGitHub() error {
	if e.Backend == BackendLocal {
		return nil
	}
	if e.GitHubToken == "" {
		return &ConfigError{Var: "GITHUB_TOKEN", Reason: "required for the github backend"}
	}
	if _, _, ok := e.RepoParts(); !ok {
		return &ConfigError{Var: "TASKPILOT_REPO", Reason: "must be owner/name"}
	}
	if e.ProjectNumber <= 0 {
		return &ConfigError{Var: "TASKPILOT_PROJECT_NUMBER", Reason: "must be a positive board number"}
	}
	return nil
}

// RequireModel checks the variables needed to call the model backend.
func (e *TaskpilotEnv) RequireModel() error {
	if e.GeminiKey == "" {
		return &ConfigError{Var: "GEMINI_API_KEY", Reason: "required for model execution"}
	}
	return nil
}

// Owner returns the board owner, defaulting to the repository owner.
func (e *TaskpilotEnv) Owner() string {
	if e.ProjectOwner != "" {
		return e.ProjectOwner
	}
	owner, _, _ := e.RepoParts()
	return owner
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Paths holds standard taskpilot directory paths.
type Paths struct {
	// Home is the taskpilot home directory (~/.taskpilot)
	Home string

	// Data is the data directory (~/.taskpilot/data)
	Data string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		tpHome := filepath.Join(home, ".taskpilot")

		paths = &Paths{
			Home: tpHome,
			Data: filepath.Join(tpHome, "data"),
		}
	})
	return paths
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
