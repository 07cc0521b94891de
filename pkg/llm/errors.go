package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrQuotaExceeded means the model is throttled; retrying it is pointless.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTransient covers network failures and 5xx responses.
	ErrTransient = errors.New("transient provider error")

	// ErrMalformedOutput means a structured response could not be decoded.
	ErrMalformedOutput = errors.New("malformed structured output")
)

// ProviderError is a classified backend failure.
type ProviderError struct {
	Model      string
	StatusCode int
	Message    string
	Kind       error // one of the sentinels above
	Err        error
}

func (e *ProviderError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Model)
	sb.WriteString(": ")
	sb.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ProviderError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Classify maps an HTTP status and body to a ProviderError.
// 429, RESOURCE_EXHAUSTED and explicit quota messages are quota errors;
// everything else is transient.
func Classify(model string, status int, body string) *ProviderError {
	kind := ErrTransient
	if status == http.StatusTooManyRequests || IsQuotaMessage(body) {
		kind = ErrQuotaExceeded
	}
	return &ProviderError{
		Model:      model,
		StatusCode: status,
		Message:    truncate(strings.TrimSpace(body), 300),
		Kind:       kind,
	}
}

// IsQuotaMessage detects quota conditions reported in free text. Status
// codes are not matched here; bodies carry request ids full of digits.
func IsQuotaMessage(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "too many requests")
}

// IsQuota reports whether err is a quota condition. Errors that were not
// classified by a backend fall back to message inspection.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	if errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrTransient) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return false
	}
	return IsQuotaMessage(err.Error())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
