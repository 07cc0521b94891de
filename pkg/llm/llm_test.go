package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct{ id string }

func (s stubBackend) ID() string { return s.id }
func (s stubBackend) Generate(ctx context.Context, req *Request) (*Response, error) {
	return &Response{Content: Raw(s.id)}, nil
}

func TestRegistryLongestPrefix(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini", stubBackend{"google"})
	r.Register("gemini-3", stubBackend{"preview"})

	b, err := r.For("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "google", b.ID())

	b, err = r.For("gemini-3-pro-preview")
	require.NoError(t, err)
	assert.Equal(t, "preview", b.ID())

	_, err = r.For("gpt-4o")
	assert.Error(t, err)

	assert.Equal(t, []string{"gemini", "gemini-3"}, r.Prefixes())
}

func TestRegistryCatchAll(t *testing.T) {
	r := NewRegistry()
	r.Register("", stubBackend{"any"})

	b, err := r.For("whatever")
	require.NoError(t, err)
	assert.Equal(t, "any", b.ID())
}

func TestContent(t *testing.T) {
	raw := Raw("```json\n{}\n```")
	assert.Equal(t, KindRaw, raw.Kind())
	assert.Nil(t, raw.Data())
	assert.Equal(t, "raw", raw.Kind().String())

	parsed := Parsed(json.RawMessage(`{"a":1}`), `{"a":1}`)
	assert.Equal(t, KindParsed, parsed.Kind())
	assert.JSONEq(t, `{"a":1}`, string(parsed.Data()))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"429", http.StatusTooManyRequests, "slow down", ErrQuotaExceeded},
		{"resource exhausted body", http.StatusForbidden, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, ErrQuotaExceeded},
		{"quota text", http.StatusBadRequest, "Quota exceeded for metric", ErrQuotaExceeded},
		{"server error", http.StatusInternalServerError, "internal", ErrTransient},
		{"unavailable", http.StatusServiceUnavailable, "overloaded", ErrTransient},
		{"digits in body", http.StatusInternalServerError, `{"error":{"message":"internal","requestId":"a429f-84291"}}`, ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("m1", tt.status, tt.body)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "m1")
		})
	}
}

func TestIsQuota(t *testing.T) {
	assert.False(t, IsQuota(nil))
	assert.True(t, IsQuota(Classify("m", 429, "")))
	assert.False(t, IsQuota(Classify("m", 500, "")))
	assert.True(t, IsQuota(errors.New("googleapi: Error 429: too many requests")))
	assert.False(t, IsQuota(errors.New("connection reset by peer")))
	assert.False(t, IsQuota(errors.New("upstream error, trace 4291-0007")))
}

func TestProviderErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := &ProviderError{Model: "m", Kind: ErrTransient, Err: cause}

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
}
