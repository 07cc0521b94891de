package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/joss/taskpilot/internal/backlog"
)

// SQLite is a local backlog: a board of items, the issues behind them, and
// their comments. Comment versions are integers bumped on every update.
type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var (
	_ Store                 = (*SQLite)(nil)
	_ backlog.Board         = (*SQLite)(nil)
	_ backlog.CommentStream = (*SQLite)(nil)
)

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrConnection, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS issues (
		number INTEGER PRIMARY KEY,
		node_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'OPEN'
	);

	CREATE TABLE IF NOT EXISTS labels (
		number INTEGER NOT NULL,
		name TEXT NOT NULL COLLATE NOCASE,
		position INTEGER NOT NULL,
		PRIMARY KEY (number, name),
		FOREIGN KEY (number) REFERENCES issues(number) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sub_issues (
		parent INTEGER NOT NULL,
		child INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (parent, child),
		FOREIGN KEY (parent) REFERENCES issues(number) ON DELETE CASCADE,
		FOREIGN KEY (child) REFERENCES issues(number) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		cost REAL,
		position INTEGER NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (number) REFERENCES issues(number) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL,
		key TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_comments_number ON comments(number, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_comments_key ON comments(key) WHERE key != '';
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Snapshot is the JSON import format: board items plus issues that exist
// without a board item.
type Snapshot struct {
	Items  []backlog.WorkItem `json:"items"`
	Issues []Issue            `json:"issues,omitempty"`
}

// LoadSnapshot decodes a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// Import upserts a snapshot in one transaction. Items keep their ids when
// given; sub-issues become issues linked to their parent.
func (s *SQLite) Import(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, is := range snap.Issues {
		if err := upsertIssue(ctx, tx, is); err != nil {
			return err
		}
	}

	for _, item := range snap.Items {
		if err := upsertIssue(ctx, tx, Issue{
			Number: item.Number,
			Title:  item.Title,
			Body:   item.Body,
			State:  "OPEN",
			Labels: item.Labels,
		}); err != nil {
			return err
		}

		for i, sub := range item.SubIssues {
			if err := upsertIssue(ctx, tx, Issue{
				Number: sub.Number,
				Title:  sub.Title,
				State:  sub.State,
				Labels: sub.Labels,
			}); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sub_issues (parent, child, position) VALUES (?, ?, ?)
				ON CONFLICT(parent, child) DO UPDATE SET position = excluded.position
			`, item.Number, sub.Number, i); err != nil {
				return fmt.Errorf("link sub-issue #%d: %w", sub.Number, err)
			}
		}

		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM items WHERE number = ?`, item.Number).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id := item.ID
			if id == "" {
				id = "item_" + ulid.Make().String()
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO items (id, number, status, priority, model, cost, position, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM items), ?)
			`, id, item.Number, string(item.Status), string(item.Priority), item.Model, item.Cost, s.now())
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE items SET status = ?, priority = ?, model = ?, cost = ?, updated_at = ? WHERE id = ?
			`, string(item.Status), string(item.Priority), item.Model, item.Cost, s.now(), existing)
		}
		if err != nil {
			return fmt.Errorf("import item #%d: %w", item.Number, err)
		}
	}

	return tx.Commit()
}

func upsertIssue(ctx context.Context, tx *sql.Tx, is Issue) error {
	if is.Number <= 0 {
		return fmt.Errorf("%w: issue number %d", ErrInvalidID, is.Number)
	}
	state := strings.ToUpper(is.State)
	if state == "" {
		state = "OPEN"
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO issues (number, node_id, title, body, state) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			state = excluded.state
	`, is.Number, "issue_"+ulid.Make().String(), is.Title, is.Body, state); err != nil {
		return fmt.Errorf("import issue #%d: %w", is.Number, err)
	}
	return addLabels(ctx, tx, is.Number, is.Labels)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func addLabels(ctx context.Context, db execer, number int, labels []string) error {
	for _, l := range backlog.DedupeLabels(labels) {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO labels (number, name, position)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM labels WHERE number = ?))
			ON CONFLICT(number, name) DO NOTHING
		`, number, l, number); err != nil {
			return fmt.Errorf("add label %q to #%d: %w", l, number, err)
		}
	}
	return nil
}

// AddIssue records an issue that is not on the board yet.
func (s *SQLite) AddIssue(ctx context.Context, is Issue) error {
	return s.Import(ctx, &Snapshot{Issues: []Issue{is}})
}

const itemColumns = `
	SELECT it.id, i.node_id, i.number, i.title, i.body, it.status, it.priority, it.model, it.cost
	FROM items it JOIN issues i ON i.number = it.number`

func (s *SQLite) Items(ctx context.Context) ([]backlog.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, itemColumns+` ORDER BY it.position ASC`)
	if err != nil {
		return nil, err
	}

	var items []backlog.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range items {
		if err := s.fillItem(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *SQLite) Item(ctx context.Context, number int) (*backlog.WorkItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, itemColumns+` WHERE it.number = ?`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("item", "#"+strconv.Itoa(number))
	}
	if err != nil {
		return nil, err
	}
	if err := s.fillItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SQLite) EnsureItem(ctx context.Context, number int) (*backlog.WorkItem, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE number = ?`, number).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, NewNotFoundError("issue", "#"+strconv.Itoa(number))
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, number, position, updated_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM items), ?)
		ON CONFLICT(number) DO NOTHING
	`, "item_"+ulid.Make().String(), number, s.now()); err != nil {
		return nil, fmt.Errorf("add item #%d: %w", number, err)
	}
	return s.Item(ctx, number)
}

func (s *SQLite) SetField(ctx context.Context, itemID string, field backlog.Field, value backlog.FieldValue) error {
	var (
		column string
		arg    any
	)
	switch field {
	case backlog.FieldStatus:
		st, ok := backlog.ParseStatus(value.Option)
		if !ok {
			return fmt.Errorf("unknown %s option %q", field, value.Option)
		}
		column, arg = "status", string(st)
	case backlog.FieldPriority:
		p, ok := backlog.ParsePriority(value.Option)
		if !ok {
			return fmt.Errorf("unknown %s option %q", field, value.Option)
		}
		column, arg = "priority", string(p)
	case backlog.FieldModel:
		column, arg = "model", value.Option
	case backlog.FieldCost:
		if !value.IsNumber() {
			return fmt.Errorf("field %s needs a number", field)
		}
		column, arg = "cost", *value.Number
	default:
		return fmt.Errorf("unknown field %q", field)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		arg, s.now(), itemID)
	if err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFoundError("item", itemID)
	}
	return nil
}

func (s *SQLite) AddLabels(ctx context.Context, number int, labels []string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE number = ?`, number).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return NewNotFoundError("issue", "#"+strconv.Itoa(number))
	}
	return addLabels(ctx, s.db, number, labels)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*backlog.WorkItem, error) {
	var (
		item     backlog.WorkItem
		status   string
		priority string
		cost     sql.NullFloat64
	)
	if err := row.Scan(&item.ID, &item.ContentID, &item.Number, &item.Title, &item.Body,
		&status, &priority, &item.Model, &cost); err != nil {
		return nil, err
	}
	item.Status = backlog.Status(status)
	item.Priority = backlog.Priority(priority)
	if cost.Valid {
		c := cost.Float64
		item.Cost = &c
	}
	return &item, nil
}

func (s *SQLite) fillItem(ctx context.Context, item *backlog.WorkItem) error {
	labels, err := s.labels(ctx, item.Number)
	if err != nil {
		return err
	}
	item.Labels = labels

	rows, err := s.db.QueryContext(ctx, `
		SELECT i.node_id, i.number, i.title, i.state
		FROM sub_issues si JOIN issues i ON i.number = si.child
		WHERE si.parent = ? ORDER BY si.position ASC
	`, item.Number)
	if err != nil {
		return err
	}
	var subs []backlog.SubIssue
	for rows.Next() {
		var sub backlog.SubIssue
		if err := rows.Scan(&sub.ID, &sub.Number, &sub.Title, &sub.State); err != nil {
			rows.Close()
			return err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for i := range subs {
		if subs[i].Labels, err = s.labels(ctx, subs[i].Number); err != nil {
			return err
		}
	}
	item.SubIssues = subs
	return nil
}

func (s *SQLite) labels(ctx context.Context, number int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM labels WHERE number = ? ORDER BY position ASC`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Comment operations

func (s *SQLite) Comments(ctx context.Context, number int) ([]backlog.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, body, version FROM comments
		WHERE number = ? ORDER BY created_at ASC, id ASC
	`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backlog.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateComment(ctx context.Context, number int, key, body string) (*backlog.Comment, error) {
	id := ulid.Make().String()
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, number, key, body, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, id, number, key, body, now, now); err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, &ConflictError{Entity: "comment", ID: key, Expected: "none"}
		}
		return nil, fmt.Errorf("create comment on #%d: %w", number, err)
	}
	return &backlog.Comment{ID: id, Key: key, Body: body, Version: "1"}, nil
}

func (s *SQLite) UpdateComment(ctx context.Context, id, body, ifVersion string) (*backlog.Comment, error) {
	var (
		res sql.Result
		err error
	)
	if ifVersion == "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE comments SET body = ?, version = version + 1, updated_at = ? WHERE id = ?
		`, body, s.now(), id)
	} else {
		want, convErr := strconv.Atoi(ifVersion)
		if convErr != nil {
			return nil, fmt.Errorf("%w: comment version %q", ErrInvalidID, ifVersion)
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE comments SET body = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?
		`, body, s.now(), id, want)
	}
	if err != nil {
		return nil, fmt.Errorf("update comment %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE id = ?`, id).Scan(&count); err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, NewNotFoundError("comment", id)
		}
		return nil, &ConflictError{Entity: "comment", ID: id, Expected: ifVersion}
	}

	return scanComment(s.db.QueryRowContext(ctx, `SELECT id, key, body, version FROM comments WHERE id = ?`, id))
}

func scanComment(row rowScanner) (*backlog.Comment, error) {
	var (
		c       backlog.Comment
		version int
	)
	if err := row.Scan(&c.ID, &c.Key, &c.Body, &version); err != nil {
		return nil, err
	}
	c.Version = strconv.Itoa(version)
	return &c, nil
}
