package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDatabase implements Database on a pgx connection pool.
type PGDatabase struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a pool for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PGDatabase, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	d := &PGDatabase{pool: pool}
	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

func (d *PGDatabase) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	ct, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return ct, nil
}

func (d *PGDatabase) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return pgRow{row: d.pool.QueryRow(ctx, sql, args...)}
}

func (d *PGDatabase) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *PGDatabase) BeginTx(ctx context.Context, opts *TxOptions) (Tx, error) {
	txOpts := pgx.TxOptions{}
	if opts != nil {
		if opts.ReadOnly {
			txOpts.AccessMode = pgx.ReadOnly
		}
		switch strings.ToLower(opts.IsolationLevel) {
		case "serializable":
			txOpts.IsoLevel = pgx.Serializable
		case "repeatable read":
			txOpts.IsoLevel = pgx.RepeatableRead
		case "read committed":
			txOpts.IsoLevel = pgx.ReadCommitted
		}
	}
	tx, err := d.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (d *PGDatabase) Ping(ctx context.Context) error {
	if d.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return d.pool.Ping(ctx)
}

func (d *PGDatabase) Close() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}

func (d *PGDatabase) DriverName() string { return "postgres" }

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	ct, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return ct, nil
}

func (t *pgTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return pgRow{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// pgRow maps pgx.ErrNoRows onto ErrNoRows so callers need not import pgx.
type pgRow struct {
	row pgx.Row
}

func (r pgRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ Database = (*PGDatabase)(nil)
	_ Result   = pgconn.CommandTag{}
)
