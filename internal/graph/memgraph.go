package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/store"
)

// ErrDisabled is returned by Connect when no URI is configured.
var ErrDisabled = errors.New("graph database not configured")

// Memgraph implements Driver over the Bolt protocol.
type Memgraph struct {
	driver neo4j.DriverWithContext
	config Config
}

var _ Driver = (*Memgraph)(nil)

// NewMemgraph creates a driver; it does not dial until the first query.
func NewMemgraph(cfg Config) (*Memgraph, error) {
	var auth neo4j.AuthToken
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create graph driver: %w", err)
	}

	return &Memgraph{
		driver: driver,
		config: cfg,
	}, nil
}

// Execute runs a read query and collects every record.
func (m *Memgraph) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return m.run(ctx, neo4j.AccessModeRead, query, params)
}

// ExecuteWrite runs a write query and discards its records.
func (m *Memgraph) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	_, err := m.run(ctx, neo4j.AccessModeWrite, query, params)
	return err
}

func (m *Memgraph) run(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]any) ([]Record, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	if mode == neo4j.AccessModeWrite {
		if _, err := result.Consume(ctx); err != nil {
			return nil, wrapErr(err)
		}
		return nil, nil
	}

	var records []Record
	for result.Next(ctx) {
		rec := result.Record()
		record := make(Record, len(rec.Keys))
		for i, key := range rec.Keys {
			record[key] = rec.Values[i]
		}
		records = append(records, record)
	}
	if err := result.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return records, nil
}

// wrapErr tags transport failures with store.ErrConnection so callers can
// tell an unreachable database from a bad query.
func wrapErr(err error) error {
	if IsConnectionError(err) {
		return fmt.Errorf("%w: %v", store.ErrConnection, err)
	}
	return fmt.Errorf("graph query: %w", err)
}

// Close releases the database driver.
func (m *Memgraph) Close() error {
	return m.driver.Close(context.Background())
}

// Ping checks database connectivity.
func (m *Memgraph) Ping(ctx context.Context) error {
	return m.driver.VerifyConnectivity(ctx)
}

// Connect creates a driver and verifies it within timeout. An unreachable
// database is logged and returned as an error; callers continue without
// graph persistence.
func Connect(ctx context.Context, cfg Config, timeout time.Duration) (*Memgraph, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	mg, err := NewMemgraph(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := mg.Ping(pingCtx); err != nil {
		mg.Close()
		logging.New("graph").FromContext(ctx).Warn("graph_unavailable", map[string]interface{}{"uri": cfg.URI}, err)
		return nil, fmt.Errorf("connect %s: %w", cfg.URI, err)
	}
	return mg, nil
}

// IsConnectionError reports transport failures, either already tagged or
// recognised from the driver's message.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrConnection) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "EOF")
}
