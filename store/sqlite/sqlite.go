/*
Package sqlite provides the SQLite-backed implementation of expense.Store.

PURPOSE:
  Production persistence for expense records and dead-lettered payloads.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

CONDITIONAL UPDATE:
  ConditionalUpdate is the atomic compare-on-version primitive the whole
  system leans on. It runs inside a database transaction:
    SELECT the row -> check version -> run the mutator ->
    UPDATE ... WHERE id = ? AND version = ?
  Zero rows affected after a successful read means another writer committed
  between our read and write; the caller gets VersionConflictError either way.
  This holds across processes, which a Go mutex never could.

KEY TABLES:
  expenses:     Current-state records, keyed by source-assigned id
  dead_letters: Payloads that reached a dead-letter disposition, for
                operator inspection (never reprocessed automatically)

INDEXES:
  Secondary indexes on status, submitter, submitted_at and amount back the
  List filters. Amount is stored twice: exact decimal text for reads,
  numeric for range filtering.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

SEE ALSO:
  - expense/store.go: Interface definition and atomicity contract
  - expense/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cashcog/expense-engine/expense"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements expense.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between the pool's writers;
	// WAL still lets external readers in.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		amount TEXT NOT NULL,        -- exact decimal, source of truth
		amount_num REAL NOT NULL,    -- float64 shadow, indexed range filters only
		currency TEXT NOT NULL,
		submitter TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		submitted_at TEXT NOT NULL,
		status TEXT NOT NULL,
		decision_note TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		last_event_id TEXT NOT NULL DEFAULT '',
		recent_events_json TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_status ON expenses(status);
	CREATE INDEX IF NOT EXISTS idx_expenses_submitter ON expenses(submitter);
	CREATE INDEX IF NOT EXISTS idx_expenses_submitted_at ON expenses(submitted_at DESC);
	CREATE INDEX IF NOT EXISTS idx_expenses_amount ON expenses(amount_num);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		raw_payload BLOB NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letters_created_at ON dead_letters(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EXPENSE STORE (expense.Store interface)
// =============================================================================

const expenseColumns = `id, amount, currency, submitter, category, description,
	submitted_at, status, decision_note, version, last_event_id, recent_events_json, updated_at`

// Get returns the expense or expense.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*expense.Expense, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	return scanExpense(row)
}

// Create persists a new expense. The primary key arbitrates racing creates.
func (s *Store) Create(ctx context.Context, e *expense.Expense) error {
	recentJSON, _ := json.Marshal(e.RecentEventIDs)
	amountNum, _ := e.Amount.Float64()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses
		(id, amount, amount_num, currency, submitter, category, description,
		 submitted_at, status, decision_note, version, last_event_id, recent_events_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Amount.String(),
		amountNum,
		e.Currency,
		e.Submitter,
		e.Category,
		e.Description,
		e.SubmittedAt.UTC().Format(time.RFC3339Nano),
		string(e.Status),
		e.DecisionNote,
		e.Version,
		e.LastEventID,
		string(recentJSON),
		e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return expense.ErrAlreadyExists
		}
		return storeError("failed to create expense", err)
	}
	return nil
}

// ConditionalUpdate implements the atomic compare-on-version write.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(*expense.Expense) (*expense.Expense, error)) (*expense.Expense, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	cur, err := scanExpense(row)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, &expense.VersionConflictError{ID: id, Expected: expectedVersion, Actual: cur.Version}
	}

	next, err := mutate(cur)
	if err != nil {
		return nil, err
	}

	recentJSON, _ := json.Marshal(next.RecentEventIDs)
	amountNum, _ := next.Amount.Float64()

	res, err := tx.ExecContext(ctx, `
		UPDATE expenses SET
			amount = ?, amount_num = ?, currency = ?, category = ?, description = ?,
			status = ?, decision_note = ?, version = ?, last_event_id = ?,
			recent_events_json = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		next.Amount.String(),
		amountNum,
		next.Currency,
		next.Category,
		next.Description,
		string(next.Status),
		next.DecisionNote,
		next.Version,
		next.LastEventID,
		string(recentJSON),
		next.UpdatedAt.UTC().Format(time.RFC3339Nano),
		id,
		expectedVersion,
	)
	if err != nil {
		return nil, storeError("failed to update expense", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storeError("failed to read update result", err)
	}
	if affected == 0 {
		// Another writer committed between our read and write.
		return nil, &expense.VersionConflictError{ID: id, Expected: expectedVersion}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("failed to commit update", err)
	}
	return next, nil
}

// List returns matching expenses, newest submission first.
func (s *Store) List(ctx context.Context, f expense.Filter) ([]expense.Expense, error) {
	where, args := buildFilter(f)

	query := `SELECT ` + expenseColumns + ` FROM expenses` + where +
		` ORDER BY submitted_at DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("failed to list expenses", err)
	}
	defer rows.Close()

	var result []expense.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// Count returns how many expenses match the filter.
func (s *Store) Count(ctx context.Context, f expense.Filter) (int, error) {
	where, args := buildFilter(f)

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses`+where, args...).Scan(&n)
	if err != nil {
		return 0, storeError("failed to count expenses", err)
	}
	return n, nil
}

func buildFilter(f expense.Filter) (string, []any) {
	var conds []string
	var args []any

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Submitter != "" {
		conds = append(conds, "submitter = ?")
		args = append(args, f.Submitter)
	}
	if f.Currency != "" {
		conds = append(conds, "currency = ? COLLATE NOCASE")
		args = append(args, f.Currency)
	}
	// Range filtering runs on amount_num, a float64 approximation. Amounts
	// needing more than float64 precision can straddle a bound; the amount
	// TEXT column stays exact and is what clients read back.
	if f.MinAmount != nil {
		v, _ := f.MinAmount.Float64()
		conds = append(conds, "amount_num >= ?")
		args = append(args, v)
	}
	if f.MaxAmount != nil {
		v, _ := f.MaxAmount.Float64()
		conds = append(conds, "amount_num <= ?")
		args = append(args, v)
	}
	if f.From != nil {
		conds = append(conds, "submitted_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339Nano))
	}
	if f.To != nil {
		conds = append(conds, "submitted_at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339Nano))
	}
	if f.Search != "" {
		conds = append(conds, "description LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// =============================================================================
// DEAD LETTERS
// =============================================================================

// DeadLetter is a payload that could not be applied automatically.
type DeadLetter struct {
	ID        string
	Raw       []byte
	Reason    string
	CreatedAt time.Time
}

// SaveDeadLetter records a payload for operator inspection.
func (s *Store) SaveDeadLetter(ctx context.Context, id string, raw []byte, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, raw_payload, reason, created_at) VALUES (?, ?, ?, ?)`,
		id, raw, reason, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storeError("failed to save dead letter", err)
	}
	return nil
}

// ListDeadLetters returns the most recent dead letters, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, raw_payload, reason, created_at FROM dead_letters ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeError("failed to list dead letters", err)
	}
	defer rows.Close()

	var result []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var createdAt string
		if err := rows.Scan(&dl.ID, &dl.Raw, &dl.Reason, &createdAt); err != nil {
			return nil, storeError("failed to scan dead letter", err)
		}
		dl.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, dl)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*expense.Expense, error) {
	var e expense.Expense
	var amount, submittedAt, status, recentJSON, updatedAt string

	err := row.Scan(
		&e.ID,
		&amount,
		&e.Currency,
		&e.Submitter,
		&e.Category,
		&e.Description,
		&submittedAt,
		&status,
		&e.DecisionNote,
		&e.Version,
		&e.LastEventID,
		&recentJSON,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, expense.ErrNotFound
		}
		return nil, storeError("failed to scan expense", err)
	}

	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	e.Status = expense.Status(status)
	e.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if err := json.Unmarshal([]byte(recentJSON), &e.RecentEventIDs); err != nil {
		return nil, fmt.Errorf("corrupt recent events %q: %w", recentJSON, err)
	}
	return &e, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isBusyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked"))
}

// storeError classifies transient failures so the consumer retries with
// backoff instead of dead-lettering.
func storeError(msg string, err error) error {
	if isBusyError(err) {
		return fmt.Errorf("%s: %w: %v", msg, expense.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
