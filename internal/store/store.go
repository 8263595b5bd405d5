// Package store issues the console's parameterized SQL against the relational
// backend. It borrows a handle from the session manager per operation and never
// keeps one beyond that operation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ballotdesk/pkg/platform/sentinel"
	"ballotdesk/pkg/platform/tx"
)

const defaultTxTimeout = 10 * time.Second

// Handles lends out the current backend handle.
type Handles interface {
	GetConnection(ctx context.Context) (*sql.DB, error)
}

// Dialect selects placeholder style and a few type spellings.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) Dialect {
	if driver == "sqlite" {
		return DialectSQLite
	}
	return DialectPostgres
}

// Store is the SQL gateway shared by the ledger, cache loaders, the
// authenticator and the console service.
type Store struct {
	handles   Handles
	dialect   Dialect
	tracer    trace.Tracer
	txTimeout time.Duration
}

// New returns a Store that borrows handles from h.
func New(h Handles, dialect Dialect) *Store {
	return &Store{
		handles:   h,
		dialect:   dialect,
		tracer:    otel.Tracer("ballotdesk/store"),
		txTimeout: defaultTxTimeout,
	}
}

// RunInTx executes fn inside one transaction on one borrowed handle. Nested
// calls join the outer transaction. Any error from fn rolls back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := tx.From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	db, err := s.handles.GetConnection(ctx)
	if err != nil {
		return err
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) querier(ctx context.Context) (tx.Querier, error) {
	if t, ok := tx.From(ctx); ok {
		return t, nil
	}
	db, err := s.handles.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, dest []any, query string, args ...any) error {
	q, err := s.querier(ctx)
	if err != nil {
		return err
	}
	return q.QueryRowContext(ctx, s.rebind(query), args...).Scan(dest...)
}

// rebind rewrites ? placeholders to $N for Postgres drivers.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// span starts a client span named after the store operation.
func (s *Store) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.operation", op))
	return s.tracer.Start(ctx, "store."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// isUniqueViolation recognises duplicate-key errors from every supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
