package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnv(t *testing.T) {
	ResetEnv()
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("TASKPILOT_REPO", "acme/game")
	t.Setenv("TASKPILOT_PROJECT_NUMBER", "7")
	t.Setenv("TASKPILOT_MAX_RETRIES", "5")
	t.Setenv("TASKPILOT_BASE_DELAY_MS", "250")
	t.Setenv("TASKPILOT_BLOCK_LABELS", "blocked, on-hold ,")
	defer ResetEnv()

	env := Env()

	assert.Equal(t, "ghp_test", env.GitHubToken)
	assert.Equal(t, "gem-key", env.GeminiKey)
	assert.Equal(t, "acme/game", env.Repo)
	assert.Equal(t, 7, env.ProjectNumber)
	assert.Equal(t, 5, env.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, env.BaseDelay)
	assert.Equal(t, []string{"blocked", "on-hold"}, env.BlockLabels)
	assert.Equal(t, "acme", env.Owner())
}

func TestEnvDefaults(t *testing.T) {
	ResetEnv()
	for _, k := range []string{"TASKPILOT_BACKEND", "TASKPILOT_MAX_RETRIES", "TASKPILOT_BASE_DELAY_MS",
		"TASKPILOT_BLOCK_LABELS", "TASKPILOT_OTEL_EXPORTER", "TASKPILOT_DB"} {
		t.Setenv(k, "")
	}
	defer ResetEnv()

	env := Env()

	assert.Equal(t, BackendGitHub, env.Backend)
	assert.Equal(t, 3, env.MaxRetries)
	assert.Equal(t, time.Second, env.BaseDelay)
	assert.Equal(t, []string{"blocked"}, env.BlockLabels)
	assert.Equal(t, "none", env.OtelExporter)
	assert.Equal(t, filepath.Join(GetPaths().Data, "backlog.db"), env.DBPath)
}

func TestEnvFallbackKeys(t *testing.T) {
	ResetEnv()
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "gh-cli-token")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("TASKPILOT_REPO", "")
	t.Setenv("GITHUB_REPOSITORY", "octo/repo")
	defer ResetEnv()

	env := Env()

	assert.Equal(t, "gh-cli-token", env.GitHubToken)
	assert.Equal(t, "google-key", env.GeminiKey)
	assert.Equal(t, "octo/repo", env.Repo)
}

func TestEnvSingleton(t *testing.T) {
	ResetEnv()
	defer ResetEnv()

	assert.Same(t, Env(), Env())
}

func TestRequireGitHub(t *testing.T) {
	tests := []struct {
		name    string
		env     TaskpilotEnv
		wantVar string
	}{
		{"missing token", TaskpilotEnv{Repo: "a/b", ProjectNumber: 1}, "GITHUB_TOKEN"},
		{"bad repo", TaskpilotEnv{GitHubToken: "t", Repo: "nope", ProjectNumber: 1}, "TASKPILOT_REPO"},
		{"no project", TaskpilotEnv{GitHubToken: "t", Repo: "a/b"}, "TASKPILOT_PROJECT_NUMBER"},
		{"ok", TaskpilotEnv{GitHubToken: "t", Repo: "a/b", ProjectNumber: 3}, ""},
		{"local backend needs nothing", TaskpilotEnv{Backend: BackendLocal}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.RequireGitHub()
			if tt.wantVar == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsConfig(err))
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantVar, cfgErr.Var)
		})
	}
}

func TestRequireModel(t *testing.T) {
	err := (&TaskpilotEnv{}).RequireModel()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")

	assert.NoError(t, (&TaskpilotEnv{GeminiKey: "k"}).RequireModel())
}
