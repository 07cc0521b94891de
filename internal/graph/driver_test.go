package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/store"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://memgraph:7687")
	t.Setenv("NEO4J_USER", "audit")
	t.Setenv("NEO4J_PASSWORD", "secret")
	config.ResetEnv()
	defer config.ResetEnv()

	cfg := ConfigFromEnv()
	if cfg.URI != "bolt://memgraph:7687" || cfg.Username != "audit" || cfg.Password != "secret" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.Enabled() {
		t.Error("expected enabled")
	}
}

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(context.Background(), Config{}, time.Second)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestNewMemgraphDoesNotDial(t *testing.T) {
	mg, err := NewMemgraph(Config{URI: "bolt://localhost:1", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("NewMemgraph: %v", err)
	}
	if err := mg.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewMemgraphBadScheme(t *testing.T) {
	if _, err := NewMemgraph(Config{URI: "http://localhost:7687"}); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("syntax error in query"), false},
		{fmt.Errorf("save event: %w", store.ErrConnection), true},
	}
	for _, tt := range tests {
		if got := IsConnectionError(tt.err); got != tt.want {
			t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRecordGetters(t *testing.T) {
	r := Record{
		"s":  "x",
		"i":  int64(7),
		"f":  2.5,
		"b":  true,
		"n":  nil,
		"ii": 3,
	}
	if GetString(r, "s") != "x" || GetString(r, "i") != "" {
		t.Error("GetString")
	}
	if GetInt(r, "i") != 7 || GetInt(r, "ii") != 3 || GetInt(r, "f") != 2 || GetInt(r, "missing") != 0 {
		t.Error("GetInt")
	}
	if GetFloat(r, "f") != 2.5 || GetFloat(r, "i") != 7 {
		t.Error("GetFloat")
	}
	if !GetBool(r, "b") || GetBool(r, "n") {
		t.Error("GetBool")
	}
}

func TestGetTime(t *testing.T) {
	native := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := Record{
		"rfc":    "2026-03-01T10:00:00Z",
		"nano":   "2026-03-01T10:00:00.5Z",
		"native": native,
		"bad":    "yesterday",
	}
	if !GetTime(r, "rfc").Equal(native) {
		t.Errorf("rfc: got %v", GetTime(r, "rfc"))
	}
	if GetTime(r, "nano").Sub(native) != 500*time.Millisecond {
		t.Errorf("nano: got %v", GetTime(r, "nano"))
	}
	if !GetTime(r, "native").Equal(native) {
		t.Error("native")
	}
	if !GetTime(r, "bad").IsZero() || !GetTime(r, "missing").IsZero() {
		t.Error("expected zero time")
	}
}
