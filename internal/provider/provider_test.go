package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joss/taskpilot/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleGenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Error("Missing or wrong API key header")
		}
		if r.URL.Path != "/gemini-2.5-flash:generateContent" {
			t.Errorf("Path = %q", r.URL.Path)
		}

		var body googleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hi", body.Contents[0].Parts[0].Text)
		assert.Empty(t, body.GenerationConfig.ResponseMimeType)

		w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"Hello"},{"text":" world"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":3,"totalTokenCount":15}
		}`))
	}))
	defer server.Close()

	g := NewGoogleWithClient("test-key", server.URL, server.Client())

	resp, err := g.Generate(context.Background(), &llm.Request{Model: "gemini-2.5-flash", Prompt: "Hi"})
	require.NoError(t, err)

	assert.Equal(t, llm.KindRaw, resp.Content.Kind())
	assert.Equal(t, "Hello world", resp.Content.Text())
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CandidateTokens)
}

func TestGoogleGenerateStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body googleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "application/json", body.GenerationConfig.ResponseMimeType)
		assert.JSONEq(t, `{"type":"object"}`, string(body.GenerationConfig.ResponseSchema))

		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"priority\":\"P1\"}"}]}}]}`))
	}))
	defer server.Close()

	g := NewGoogleWithClient("k", server.URL, server.Client())

	resp, err := g.Generate(context.Background(), &llm.Request{
		Model:  "gemini-2.5-flash",
		Prompt: "classify",
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, llm.KindParsed, resp.Content.Kind())
	assert.JSONEq(t, `{"priority":"P1"}`, string(resp.Content.Data()))
}

func TestGoogleTemperature(t *testing.T) {
	zero := 0.0
	tests := []struct {
		name    string
		temp    *float64
		present bool
	}{
		{"unset uses server default", nil, false},
		{"zero is sent", &zero, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					GenerationConfig map[string]json.RawMessage `json:"generationConfig"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				got, ok := body.GenerationConfig["temperature"]
				assert.Equal(t, tt.present, ok)
				if tt.present {
					assert.JSONEq(t, "0", string(got))
				}
				w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
			}))
			defer server.Close()

			g := NewGoogleWithClient("k", server.URL, server.Client())
			_, err := g.Generate(context.Background(), &llm.Request{Model: "gemini-2.5-flash", Prompt: "p", Temperature: tt.temp})
			require.NoError(t, err)
		})
	}
}

func TestGoogleStructuredFallsBackToRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"` + "```json\\n{}\\n```" + `"}]}}]}`))
	}))
	defer server.Close()

	g := NewGoogleWithClient("k", server.URL, server.Client())

	resp, err := g.Generate(context.Background(), &llm.Request{
		Model:  "gemini-2.5-flash",
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, llm.KindRaw, resp.Content.Kind())
	assert.True(t, strings.HasPrefix(resp.Content.Text(), "```json"))
}

func TestGoogleErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`, llm.ErrQuotaExceeded},
		{"server", http.StatusInternalServerError, `{"error":{"code":500,"status":"INTERNAL"}}`, llm.ErrTransient},
		{"server with request id", http.StatusBadGateway, `{"error":{"code":502,"message":"backend 10.0.4.29 reset, request 4290017"}}`, llm.ErrTransient},
		{"no candidates", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, llm.ErrTransient},
		{"garbage", http.StatusOK, `not json`, llm.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g := NewGoogleWithClient("k", server.URL, server.Client())
			_, err := g.Generate(context.Background(), &llm.Request{Model: "gemini-2.5-pro"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type failingClient struct{ err error }

func (f failingClient) Do(*http.Request) (*http.Response, error) { return nil, f.err }

func TestGoogleNetworkErrorIsTransient(t *testing.T) {
	g := NewGoogleWithClient("k", "http://unused", failingClient{err: io.ErrUnexpectedEOF})

	_, err := g.Generate(context.Background(), &llm.Request{Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, llm.ErrTransient)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestGoogleCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGoogleWithClient("k", "http://unused", failingClient{err: context.Canceled})
	_, err := g.Generate(ctx, &llm.Request{Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, llm.ErrTransient)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(WithAPIKey("k"), WithBaseURL("http://localhost"))

	b, err := reg.For("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "google", b.ID())

	_, err = reg.For("claude-3")
	assert.Error(t, err)
}
