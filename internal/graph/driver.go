// Package graph provides database abstraction for graph operations.
// Audit events are persisted through it when a graph database is configured.
package graph

import (
	"context"

	"github.com/joss/taskpilot/internal/config"
)

// Record represents a single result row from a query.
type Record map[string]any

// GraphReader provides read-only graph database operations.
type GraphReader interface {
	// Execute runs a Cypher query and returns results.
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// GraphWriter provides write graph database operations.
type GraphWriter interface {
	// ExecuteWrite runs a write query (CREATE, MERGE, SET, DELETE).
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

// Driver is implemented by Memgraph and any Bolt-compatible database.
type Driver interface {
	GraphReader
	GraphWriter

	// Close releases database resources.
	Close() error

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error
}

// Config holds database connection configuration.
type Config struct {
	URI      string
	Username string
	Password string
}

// Enabled reports whether a database URI is configured.
func (c Config) Enabled() bool {
	return c.URI != ""
}

// ConfigFromEnv reads NEO4J_URI, NEO4J_USER and NEO4J_PASSWORD.
func ConfigFromEnv() Config {
	e := config.Env()
	return Config{
		URI:      e.Neo4jURI,
		Username: e.Neo4jUser,
		Password: e.Neo4jPassword,
	}
}
