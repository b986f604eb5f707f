// Package tenantdb is the single chokepoint for tenant-owned SQL. Every
// statement that touches a tenant table goes through a Gateway, which binds
// the tenant id from a validated tenant.Context as parameter $1, refuses
// statements whose shape does not restrict them to that parameter (see
// CheckScoped), and records an audit trail of what ran for whom.
package tenantdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/metrics"
	"github.com/oriys/tillage/internal/observability"
	"github.com/oriys/tillage/internal/tenant"
)

var (
	// ErrUnscopedStatement is returned for SQL that does not filter on
	// tenant_id = $1, or that compares tenant_id against anything else.
	ErrUnscopedStatement = errors.New("tenantdb: statement is not tenant scoped")

	// ErrNotFound is returned by QueryOne when the statement matched no row.
	ErrNotFound = errors.New("tenantdb: not found")
)

// Statement is a parameterized SQL statement. $1 is reserved for the tenant
// id; caller arguments bind to $2 onwards.
type Statement struct {
	Name string
	SQL  string
	Args []any
}

// Stmt builds a Statement. args bind to $2, $3, ... in order.
func Stmt(sql string, args ...any) Statement {
	return Statement{SQL: sql, Args: args}
}

// Named returns a copy of s labelled for logs and metrics.
func (s Statement) Named(name string) Statement {
	s.Name = name
	return s
}

func (s Statement) label(fallback string) string {
	if s.Name != "" {
		return s.Name
	}
	return fallback
}

// ScanFunc converts the current row into a T.
type ScanFunc[T any] func(row db.Row) (T, error)

// Gateway runs tenant-scoped statements against an executor.
type Gateway struct {
	exec   db.Executor
	logger *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the audit logger. Defaults to logging.Op().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gateway over exec.
func New(exec db.Executor, opts ...Option) *Gateway {
	g := &Gateway{exec: exec, logger: logging.Op()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithExecutor returns a Gateway sharing g's settings but running on exec,
// typically a transaction.
func (g *Gateway) WithExecutor(exec db.Executor) *Gateway {
	cp := *g
	cp.exec = exec
	return &cp
}

// prepare validates the context and statement and returns the bound args.
func (g *Gateway) prepare(tc tenant.Context, st Statement) ([]any, error) {
	if !tc.Valid() {
		return nil, fmt.Errorf("%w: statement issued without tenant context", tenant.ErrInvalidTenantContext)
	}
	if err := CheckScoped(st.SQL); err != nil {
		return nil, err
	}
	args := make([]any, 0, len(st.Args)+1)
	args = append(args, tc.TenantID())
	return append(args, st.Args...), nil
}

func (g *Gateway) audit(ctx context.Context, tc tenant.Context, op string, st Statement, rows int64, started time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnscopedStatement), errors.Is(err, tenant.ErrInvalidTenantContext):
		outcome = "rejected"
	case errors.Is(err, ErrNotFound):
	case err != nil:
		outcome = "error"
	}
	elapsed := time.Since(started)
	metrics.RecordStatement(st.label(op), outcome, elapsed)

	attrs := []any{
		"tenant_id", tc.TenantID(),
		"statement", st.label(op),
		"statement_hash", hashStatement(st.SQL),
		"rows", rows,
		"latency_ms", elapsed.Milliseconds(),
	}
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		attrs = append(attrs, "trace_id", traceID)
	}
	switch outcome {
	case "rejected":
		g.logger.Warn("tenant statement rejected", append(attrs, "error", err)...)
	case "error":
		g.logger.Error("tenant statement failed", append(attrs, "error", err)...)
	default:
		g.logger.Debug("tenant statement", attrs...)
	}
}

func (g *Gateway) startSpan(ctx context.Context, op string, tc tenant.Context, st Statement) (context.Context, func(error)) {
	ctx, span := observability.StartClientSpan(ctx, "tenantdb."+op,
		observability.AttrTenantID.String(tc.TenantID()),
		observability.AttrStatementHash.String(hashStatement(st.SQL)),
		attribute.String("db.system", "postgresql"),
	)
	return ctx, func(err error) {
		if err != nil && !errors.Is(err, ErrNotFound) {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
	}
}

// Query runs st for tc and scans every row with scan.
func Query[T any](ctx context.Context, g *Gateway, tc tenant.Context, st Statement, scan ScanFunc[T]) (out []T, err error) {
	started := time.Now()
	ctx, end := g.startSpan(ctx, "query", tc, st)
	defer func() {
		end(err)
		g.audit(ctx, tc, "query", st, int64(len(out)), started, err)
	}()

	args, err := g.prepare(tc, st)
	if err != nil {
		return nil, err
	}
	rows, err := g.exec.Query(ctx, st.SQL, args...)
	if err != nil {
		return nil, tenant.NewStorageError(st.label("query"), err)
	}
	defer rows.Close()

	out = []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, tenant.NewStorageError(st.label("query")+": scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, tenant.NewStorageError(st.label("query"), err)
	}
	return out, nil
}

// QueryOne runs st for tc and scans the first row. It returns ErrNotFound
// when nothing matched.
func QueryOne[T any](ctx context.Context, g *Gateway, tc tenant.Context, st Statement, scan ScanFunc[T]) (out T, err error) {
	started := time.Now()
	var n int64
	ctx, end := g.startSpan(ctx, "query_one", tc, st)
	defer func() {
		end(err)
		g.audit(ctx, tc, "query_one", st, n, started, err)
	}()

	args, err := g.prepare(tc, st)
	if err != nil {
		return out, err
	}
	v, err := scan(g.exec.QueryRow(ctx, st.SQL, args...))
	if errors.Is(err, db.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, tenant.NewStorageError(st.label("query_one"), err)
	}
	n = 1
	return v, nil
}

// QueryAll runs every statement concurrently for the same tenant. Results
// are positional: result i belongs to stmts[i] whatever order they finish
// in. Any failure fails the whole batch.
func QueryAll[T any](ctx context.Context, g *Gateway, tc tenant.Context, stmts []Statement, scan ScanFunc[T]) ([][]T, error) {
	if !tc.Valid() {
		return nil, fmt.Errorf("%w: batch issued without tenant context", tenant.ErrInvalidTenantContext)
	}
	for _, st := range stmts {
		if err := CheckScoped(st.SQL); err != nil {
			return nil, err
		}
	}

	results := make([][]T, len(stmts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, st := range stmts {
		eg.Go(func() error {
			rows, err := Query(egCtx, g, tc, st, scan)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Exec runs a statement that returns no rows and reports rows affected.
func (g *Gateway) Exec(ctx context.Context, tc tenant.Context, st Statement) (n int64, err error) {
	started := time.Now()
	ctx, end := g.startSpan(ctx, "exec", tc, st)
	defer func() {
		end(err)
		g.audit(ctx, tc, "exec", st, n, started, err)
	}()

	args, err := g.prepare(tc, st)
	if err != nil {
		return 0, err
	}
	res, err := g.exec.Exec(ctx, st.SQL, args...)
	if err != nil {
		return 0, tenant.NewStorageError(st.label("exec"), err)
	}
	return res.RowsAffected(), nil
}

// hashStatement returns a short hex digest of the SQL text so audit logs can
// group statements without logging their bodies.
func hashStatement(sql string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(sql)))
	return hex.EncodeToString(h[:8])
}
