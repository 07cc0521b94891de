package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joss/taskpilot/internal/config"
	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/metrics"
)

// saveTimeout bounds a graph write so a slow database cannot hold up the CLI.
const saveTimeout = 2 * time.Second

// Saver persists events. *Store implements it.
type Saver interface {
	Save(ctx context.Context, event *AuditEvent) error
}

// Logger provides audit logging capabilities.
type Logger struct {
	mu      sync.Mutex
	runID   string
	repo    string
	output  io.Writer
	gitCtx  GitContext
	store   Saver
	log     *logging.Logger
	metrics *metrics.Metrics
}

// LoggerOption configures the logger.
type LoggerOption func(*Logger)

// WithStore sets the graph store for persistence.
func WithStore(store Saver) LoggerOption {
	return func(l *Logger) {
		l.store = store
	}
}

// WithRun sets the run ID.
func WithRun(id string) LoggerOption {
	return func(l *Logger) {
		l.runID = id
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) {
		l.output = w
	}
}

// WithGitContext overrides the captured git state.
func WithGitContext(g GitContext) LoggerOption {
	return func(l *Logger) {
		l.gitCtx = g
	}
}

func WithMetrics(m *metrics.Metrics) LoggerOption {
	return func(l *Logger) {
		l.metrics = m
	}
}

// NewLogger creates a new audit logger. Git state is captured once.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		repo:    config.Env().Repo,
		output:  os.Stderr,
		gitCtx:  GetGitContext(""),
		log:     logging.New("audit"),
		metrics: metrics.Global(),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.runID == "" {
		l.runID = logging.NewRunID()
	}

	return l
}

// Start begins tracking an operation.
func (l *Logger) Start(category Category, operation string) *AuditEvent {
	return &AuditEvent{
		EventID:   uuid.New().String(),
		Category:  category,
		Operation: operation,
		StartedAt: time.Now(),
		RunID:     l.runID,
		Repo:      l.repo,
		Git:       l.gitCtx,
	}
}

// Log writes a completed event to the output and the store.
func (l *Logger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.CompletedAt.IsZero() {
		event.CompletedAt = time.Now()
		event.Duration = event.CompletedAt.Sub(event.StartedAt)
		event.DurationMs = event.Duration.Milliseconds()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = fmt.Fprintf(l.output, "%s\n", data)

	// Graph persistence never fails the command.
	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		saveErr := l.store.Save(ctx, event)
		l.metrics.RecordGraphWrite(saveErr == nil)
		if saveErr != nil {
			l.log.Warn("audit_save_failed", map[string]interface{}{"event_id": event.EventID}, saveErr)
		}
	}

	return err
}

// LogSuccess logs a successful operation.
func (l *Logger) LogSuccess(event *AuditEvent) error {
	event.Complete(StatusSuccess, nil)
	return l.Log(event)
}

// LogNoop logs an operation that found nothing to do.
func (l *Logger) LogNoop(event *AuditEvent) error {
	event.Complete(StatusNoop, nil)
	return l.Log(event)
}

// LogError logs a failed operation.
func (l *Logger) LogError(event *AuditEvent, err error) error {
	event.Complete(StatusError, err)
	return l.Log(event)
}

// RunID returns the run this logger tags events with.
func (l *Logger) RunID() string {
	return l.runID
}
