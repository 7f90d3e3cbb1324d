package usage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqliteBusy = 5

	upsertBucket = "ON CONFLICT (period, bucket) DO UPDATE SET bytes = bytes + excluded.bytes, updated_at = excluded.updated_at"
	upsertMeta   = "INSERT INTO usage_meta (id, last_updated) VALUES (1, ?) ON CONFLICT (id) DO UPDATE SET last_updated = excluded.last_updated;"
)

// SQLiteOption configures a [SQLite] meter.
type SQLiteOption func(*SQLite)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) { s.now = now }
}

// WithOpenRetries sets how many times opening retries a busy database.
func WithOpenRetries(n uint64) SQLiteOption {
	return func(s *SQLite) { s.retries = n }
}

// WithLogger sets the logger used while opening.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = l }
}

// SQLite is a [Meter] persisted in a sqlite database.
type SQLite struct {
	db      *sqlx.DB
	now     func() time.Time
	retries uint64
	logger  *slog.Logger
}

type bucketRow struct {
	Period string `db:"period"`
	Bucket string `db:"bucket"`
	Bytes  int64  `db:"bytes"`
}

// OpenSQLite opens (creating if needed) the database at path and brings its
// schema up to date. A database locked by another process is retried with
// Fibonacci backoff.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("usage: empty database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating usage directory: %s", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening usage database: %s", err)
	}
	// one writer; sqlite serialises anyway and this avoids in-process SQLITE_BUSY
	dbx.SetMaxOpenConns(1)

	s, err := NewSQLite(ctx, dbx, opts...)
	if err != nil {
		_ = dbx.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite runs the migrations on an already open database.
func NewSQLite(ctx context.Context, dbx *sqlx.DB, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{db: dbx, now: time.Now, retries: 5}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	backoff := retry.WithMaxRetries(s.retries, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := dbx.PingContext(ctx); err != nil {
			return retryable(err)
		}
		if err := runMigrations(dbx); err != nil {
			return retryable(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("usage database migrated")
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) AddUsage(ctx context.Context, n int64) error {
	if n < 0 {
		return ErrNegative
	}
	if n == 0 {
		return nil
	}
	now := s.now()
	k := KeysAt(now)
	ms := now.UnixMilli()

	query, args, err := sq.Insert("usage_buckets").
		Columns("period", "bucket", "bytes", "updated_at").
		Values(string(PeriodDay), k.Day, n, ms).
		Values(string(PeriodWeek), k.Week, n, ms).
		Values(string(PeriodMonth), k.Month, n, ms).
		Suffix(upsertBucket).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting usage transaction: %s", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error adding usage: %s", err)
	}
	if _, err := tx.ExecContext(ctx, upsertMeta, ms); err != nil {
		return fmt.Errorf("error updating usage timestamp: %s", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing usage: %s", err)
	}
	return nil
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	k := KeysAt(s.now())

	query, args, err := sq.Select("period", "bucket", "bytes").
		From("usage_buckets").
		Where(sq.Or{
			sq.Eq{"period": string(PeriodDay), "bucket": k.Day},
			sq.Eq{"period": string(PeriodWeek), "bucket": k.Week},
			sq.Eq{"period": string(PeriodMonth), "bucket": k.Month},
		}).
		ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []bucketRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Stats{}, fmt.Errorf("error selecting usage: %s", err)
	}

	var st Stats
	for _, r := range rows {
		switch Period(r.Period) {
		case PeriodDay:
			st.Today = r.Bytes
		case PeriodWeek:
			st.ThisWeek = r.Bytes
		case PeriodMonth:
			st.ThisMonth = r.Bytes
		}
	}
	return st, nil
}

func (s *SQLite) Record(ctx context.Context) (Record, error) {
	query, args, err := sq.Select("period", "bucket", "bytes").
		From("usage_buckets").
		OrderBy("period", "bucket").
		ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []bucketRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Record{}, fmt.Errorf("error selecting usage: %s", err)
	}

	rec := newRecord()
	for _, r := range rows {
		switch Period(r.Period) {
		case PeriodDay:
			rec.Daily[r.Bucket] = r.Bytes
		case PeriodWeek:
			rec.Weekly[r.Bucket] = r.Bytes
		case PeriodMonth:
			rec.Monthly[r.Bucket] = r.Bytes
		}
	}

	var ms int64
	err = s.db.GetContext(ctx, &ms, "SELECT last_updated FROM usage_meta WHERE id = 1;")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("error selecting usage timestamp: %s", err)
	}
	if err == nil {
		rec.LastUpdated = time.UnixMilli(ms)
	}
	return rec, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting usage transaction: %s", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM usage_buckets;"); err != nil {
		return fmt.Errorf("error clearing usage: %s", err)
	}
	if _, err := tx.ExecContext(ctx, upsertMeta, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("error updating usage timestamp: %s", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing usage clear: %s", err)
	}
	return nil
}

// runMigrations performs all embedded migrations.
func runMigrations(dbx *sqlx.DB) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("error creating migrations source: %s", err)
	}
	i, err := migratesqlite.WithInstance(dbx.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("error creating sqlite instance for migration: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", d, "sqlite", i)
	if err != nil {
		return fmt.Errorf("error creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error migrating: %w", err)
	}
	return nil
}

// retryable marks busy/locked errors for another attempt.
func retryable(err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code()&0xff == sqliteBusy {
		return retry.RetryableError(err)
	}
	if strings.Contains(err.Error(), "database is locked") {
		return retry.RetryableError(err)
	}
	return err
}
