package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/taskpilot/internal/backlog"
	"github.com/joss/taskpilot/internal/logging"
	"github.com/joss/taskpilot/internal/metrics"
	"github.com/joss/taskpilot/internal/pricing"
	"github.com/joss/taskpilot/internal/store"
)

// DefaultConflictRetries bounds re-reads after a lost conditional write.
const DefaultConflictRetries = 3

// Service accumulates usage into per-issue ledgers.
type Service struct {
	pricing         *pricing.Table
	comments        backlog.CommentStream
	board           backlog.Board
	conflictRetries int
	now             func() time.Time
	log             *logging.Logger
	metrics         *metrics.Metrics
}

type Option func(*Service)

// WithBoard enables mirroring the total cost into the board's Cost field.
func WithBoard(b backlog.Board) Option {
	return func(s *Service) { s.board = b }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithConflictRetries(n int) Option {
	return func(s *Service) { s.conflictRetries = n }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(table *pricing.Table, comments backlog.CommentStream, opts ...Option) *Service {
	s := &Service{
		pricing:         table,
		comments:        comments,
		conflictRetries: DefaultConflictRetries,
		now:             time.Now,
		log:             logging.New("ledger"),
		metrics:         metrics.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accumulate prices one operation, appends it to the issue's ledger and
// persists the result. An unknown model fails before any I/O.
func (s *Service) Accumulate(ctx context.Context, number int, operation, modelID string, inputTokens, outputTokens int) (*Ledger, error) {
	cost, err := s.pricing.Cost(modelID, inputTokens, outputTokens)
	if err != nil {
		return nil, err
	}

	rec := OperationRecord{
		ID:           ulid.Make().String(),
		Operation:    operation,
		Model:        modelID,
		InputTokens:  max(inputTokens, 0),
		OutputTokens: max(outputTokens, 0),
		Cost:         cost.TotalCost,
		Timestamp:    s.now().UTC(),
	}

	log := s.log.FromContext(ctx).WithIssue(number)
	var l *Ledger
	for attempt := 0; ; attempt++ {
		var existing *backlog.Comment
		l, existing, err = s.load(ctx, number, log)
		if err != nil {
			return nil, err
		}
		l.Append(rec)
		body := Render(l)

		if existing != nil {
			_, err = s.comments.UpdateComment(ctx, existing.ID, body, existing.Version)
		} else {
			_, err = s.comments.CreateComment(ctx, number, Key(number), body)
		}
		conflict := store.IsConflict(err)
		s.metrics.RecordLedgerWrite(conflict)
		if err == nil {
			break
		}
		if !conflict || attempt >= s.conflictRetries {
			return nil, fmt.Errorf("persist ledger for #%d: %w", number, err)
		}
		log.Warn("ledger_conflict", map[string]interface{}{"attempt": attempt + 1}, err)
	}

	log.Info("usage_recorded", map[string]interface{}{
		"operation":     operation,
		"model":         modelID,
		"input_tokens":  rec.InputTokens,
		"output_tokens": rec.OutputTokens,
		"cost":          rec.Cost,
		"total_cost":    l.TotalCost,
	})

	s.mirror(ctx, number, l.TotalCost, log)
	return l, nil
}

// Get returns the persisted ledger of an issue; an absent or corrupt
// comment reads as an empty ledger.
func (s *Service) Get(ctx context.Context, number int) (*Ledger, error) {
	l, _, err := s.load(ctx, number, s.log.FromContext(ctx).WithIssue(number))
	return l, err
}

func (s *Service) load(ctx context.Context, number int, log *logging.Logger) (*Ledger, *backlog.Comment, error) {
	comments, err := s.comments.Comments(ctx, number)
	if err != nil {
		return nil, nil, fmt.Errorf("read comments of #%d: %w", number, err)
	}

	existing := backlog.FindByKey(comments, Key(number))
	if existing == nil {
		return &Ledger{}, nil, nil
	}

	l, err := Parse(existing.Body)
	if err != nil {
		s.metrics.RecordLedgerCorrupt()
		log.Warn("ledger_corrupt", map[string]interface{}{"comment": existing.ID}, err)
		return &Ledger{}, existing, nil
	}
	return l, existing, nil
}

// mirror copies the total into the board. Failures are logged, never returned.
func (s *Service) mirror(ctx context.Context, number int, total float64, log *logging.Logger) {
	if s.board == nil {
		return
	}
	item, err := s.board.Item(ctx, number)
	if err == nil {
		err = s.board.SetField(ctx, item.ID, backlog.FieldCost, backlog.NumberValue(total))
	}
	if err != nil {
		s.metrics.RecordMirrorFailure()
		log.Warn("mirror_failed", map[string]interface{}{"total_cost": total}, err)
	}
}

// IsCorrupt reports whether err is a corrupt-ledger error.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptLedger)
}
