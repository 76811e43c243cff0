/*
Package sqlstore provides a SQL-backed core.TxStore for SQLite and PostgreSQL.

PURPOSE:
  Implements every persistence interface of the engine (reference data,
  payrolls and items, calculation logs) with sqlx. The same queries run on
  both dialects: they are written with ? placeholders and rebound per driver.

KEY TABLES:
  employees, position_assignments, payroll_configs, monthly_base_snapshots
      Employee timeline and contribution bases
  insurance_type_configs, region_base_bands, eligibility_rules
      Effective-dated rules; overlap is rejected on write
  pay_periods, salary_components
  payrolls, payroll_items
      UNIQUE(employee_id, period_id) and UNIQUE(payroll_id, component)
  insurance_calculation_logs
      Append-only audit, one row per component per persisted calculation

TYPES:
  Money and rates are TEXT on SQLite and NUMERIC on PostgreSQL; both scan
  into decimal.Decimal without float conversion. Dates are YYYY-MM-DD text,
  which orders correctly as strings. Timestamps are RFC 3339 text.

CONCURRENCY:
  SQLite is opened with a single connection, so a running transaction holds
  the database and other callers wait for it. PostgreSQL relies on the
  server's transaction isolation.

USAGE:
  s, err := sqlstore.NewSQLite("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()

MIGRATION:
  Schema is auto-migrated by NewSQLite and NewPostgres. NewWithDB does not
  migrate; it is meant for callers that own the schema, and for tests.

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/payroll-engine/core"
)

// Driver names of the supported databases.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements core.TxStore on a SQL database.
type Store struct {
	db   *sqlx.DB
	q    sqlx.ExtContext // db, or the transaction of a WithTx view
	inTx bool
}

var _ core.TxStore = (*Store)(nil)

// PoolOptions tunes the PostgreSQL connection pool.
type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// NewSQLite opens (and migrates) a SQLite database. Use ":memory:" for an
// in-memory database.
func NewSQLite(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writers serialize, and ":memory:" keeps a single database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := NewWithDB(db)
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// NewPostgres connects to PostgreSQL with a lib/pq DSN and migrates the schema.
func NewPostgres(ctx context.Context, dsn string, opts PoolOptions) (*Store, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := NewWithDB(db)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an open connection without migrating.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction. Nested calls join the outer one.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// atomically runs fn in the current transaction or a new one.
func (s *Store) atomically(ctx context.Context, fn func(*Store) error) error {
	return s.WithTx(ctx, func(tx core.Store) error { return fn(tx.(*Store)) })
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *Store) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.q.Rebind(query), args...)
}

func (s *Store) namedExec(ctx context.Context, query string, arg any) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, s.q, query, arg)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// timeLayout keeps a fixed fraction width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// =============================================================================
// EFFECTIVE WINDOW COLUMNS
// =============================================================================

type windowCols struct {
	EffectiveFrom string         `db:"effective_from"`
	EffectiveTo   sql.NullString `db:"effective_to"`
}

func toWindowCols(w core.Window) windowCols {
	cols := windowCols{EffectiveFrom: w.EffectiveFrom.String()}
	if w.EffectiveTo != nil {
		cols.EffectiveTo = nullString(w.EffectiveTo.String())
	}
	return cols
}

func (c windowCols) window() (core.Window, error) {
	from, err := core.ParseDate(c.EffectiveFrom)
	if err != nil {
		return core.Window{}, err
	}
	w := core.Window{EffectiveFrom: from}
	if c.EffectiveTo.Valid {
		to, err := core.ParseDate(c.EffectiveTo.String)
		if err != nil {
			return core.Window{}, err
		}
		w.EffectiveTo = &to
	}
	return w, nil
}

// rejectOverlap returns an *core.OverlapError when candidate overlaps a
// record other than itself.
func rejectOverlap[T core.Windowed](existing []T, candidate core.Window, kind, key string, idOf func(T) string, id string) error {
	other, found := core.FindOverlap(existing, candidate, func(x T) bool { return idOf(x) == id })
	if !found {
		return nil
	}
	return &core.OverlapError{Kind: kind, Key: key, ExistingID: idOf(other), Existing: other.EffectiveWindow()}
}
