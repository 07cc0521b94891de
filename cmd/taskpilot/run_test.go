package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/executor"
	"github.com/joss/taskpilot/internal/ledger"
	"github.com/joss/taskpilot/internal/pricing"
	"github.com/joss/taskpilot/internal/render"
)

type fakeGemini struct {
	calls  atomic.Int32
	mu     sync.Mutex
	models []string
}

// startGemini serves generateContent with the given status and body and
// points the provider at it.
func startGemini(t *testing.T, status int, body string) *fakeGemini {
	t.Helper()
	g := &fakeGemini{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.calls.Add(1)
		g.mu.Lock()
		g.models = append(g.models, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ":generateContent"))
		g.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_BASE_URL", server.URL)
	t.Setenv("TASKPILOT_MAX_RETRIES", "1")
	t.Setenv("TASKPILOT_BASE_DELAY_MS", "1")
	config.ResetEnv()
	return g
}

const geminiOK = `{
  "candidates": [{"content": {"parts": [{"text": "patched"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 1200, "candidatesTokenCount": 300}
}`

func TestRunRecordsUsageOnIssue(t *testing.T) {
	db := localEnv(t)
	gemini := startGemini(t, http.StatusOK, geminiOK)
	require.NoError(t, execute(t, "local", "import", "--file", writeFile(t, "backlog.json", snapshot)))

	prompt := writeFile(t, "prompt.md", "fix the login bug")
	require.NoError(t, execute(t, "run", "--tier", "flash", "--prompt-file", prompt, "--issue", "2", "--operation", "implement"))

	assert.Equal(t, int32(1), gemini.calls.Load())
	assert.Equal(t, []string{"gemini-2.0-flash-lite"}, gemini.models)

	s := openLocal(t, db)
	l, err := ledger.NewService(pricing.Default(), s).Get(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, l.Operations, 1)
	op := l.Operations[0]
	assert.Equal(t, "implement", op.Operation)
	assert.Equal(t, "gemini-2.0-flash-lite", op.Model)
	assert.Equal(t, 1200, op.InputTokens)
	assert.Equal(t, 300, op.OutputTokens)

	want, err := pricing.Default().Cost("gemini-2.0-flash-lite", 1200, 300)
	require.NoError(t, err)
	assert.InDelta(t, want.TotalCost, l.TotalCost, 1e-12)
}

func TestRunMissingBacklogCredentialsSkipsModel(t *testing.T) {
	localEnv(t)
	gemini := startGemini(t, http.StatusOK, geminiOK)
	t.Setenv("TASKPILOT_BACKEND", "github")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	config.ResetEnv()

	err := execute(t, "run", "--prompt-file", writeFile(t, "prompt.md", "hi"), "--issue", "42")
	require.Error(t, err)
	assert.True(t, config.IsConfig(err), "got %v", err)
	assert.Equal(t, int32(0), gemini.calls.Load())
}

func TestRunExhaustedChainFails(t *testing.T) {
	localEnv(t)
	gemini := startGemini(t, http.StatusInternalServerError, `{"error":{"code":500,"status":"INTERNAL"}}`)

	err := execute(t, "run", "--tier", "flash", "--prompt-file", writeFile(t, "prompt.md", "hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrAllModelsExhausted)
	assert.True(t, executor.IsExhausted(err))

	chain, err := pricing.Default().Chain("flash")
	require.NoError(t, err)
	assert.Equal(t, int32(len(chain)), gemini.calls.Load())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestOutputThenFailJoinsWriteError(t *testing.T) {
	prevOut, prevJSON := stdout, jsonOutput
	t.Cleanup(func() { stdout, jsonOutput = prevOut, prevJSON })
	stdout, jsonOutput = failingWriter{}, true

	cause := errors.New("record usage for #7: conflict")
	err := outputThenFail(map[string]int{"a": 1}, func(*render.Renderer) {}, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorContains(t, err, "stdout closed")

	stdout = &strings.Builder{}
	err = outputThenFail(map[string]int{"a": 1}, func(*render.Renderer) {}, cause)
	assert.Equal(t, cause, err)
}
