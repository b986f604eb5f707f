// Package dbtest provides an in-memory db.Database for unit tests. Every
// statement is recorded and answered by a caller-supplied Handler, so tests
// can assert exactly which SQL and arguments reached the driver.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/oriys/tillage/internal/db"
)

// Call is one statement observed by the fake.
type Call struct {
	SQL  string
	Args []any
	InTx bool
}

// Result is what a Handler returns for a statement.
type Result struct {
	Rows     [][]any
	Affected int64
}

// Handler answers a statement. Returning an error makes Exec/Query fail and
// Row.Scan return that error.
type Handler func(ctx context.Context, sql string, args []any) (Result, error)

// DB is a fake db.Database.
type DB struct {
	handler Handler

	mu        sync.Mutex
	calls     []Call
	commits   int
	rollbacks int
	BeginErr  error
	CommitErr error
	PingErr   error
	closed    bool
}

// New returns a DB answered by h. A nil h answers every statement with an
// empty result.
func New(h Handler) *DB {
	if h == nil {
		h = func(context.Context, string, []any) (Result, error) { return Result{}, nil }
	}
	return &DB{handler: h}
}

func (d *DB) run(ctx context.Context, inTx bool, sql string, args []any) (Result, error) {
	cp := append([]any(nil), args...)
	d.mu.Lock()
	d.calls = append(d.calls, Call{SQL: sql, Args: cp, InTx: inTx})
	d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return d.handler(ctx, sql, cp)
}

func (d *DB) exec(ctx context.Context, inTx bool, sql string, args []any) (db.Result, error) {
	res, err := d.run(ctx, inTx, sql, args)
	if err != nil {
		return nil, err
	}
	return affected(res.Affected), nil
}

func (d *DB) query(ctx context.Context, inTx bool, sql string, args []any) (db.Rows, error) {
	res, err := d.run(ctx, inTx, sql, args)
	if err != nil {
		return nil, err
	}
	return &Rows{data: res.Rows, pos: -1}, nil
}

func (d *DB) queryRow(ctx context.Context, inTx bool, sql string, args []any) db.Row {
	res, err := d.run(ctx, inTx, sql, args)
	if err != nil {
		return errRow{err: err}
	}
	if len(res.Rows) == 0 {
		return errRow{err: db.ErrNoRows}
	}
	return &Rows{data: res.Rows[:1], pos: 0}
}

func (d *DB) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) {
	return d.exec(ctx, false, sql, args)
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	return d.query(ctx, false, sql, args)
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return d.queryRow(ctx, false, sql, args)
}

func (d *DB) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Tx, error) {
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	return &Tx{db: d}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.PingErr }

func (d *DB) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *DB) DriverName() string { return "dbtest" }

// Calls returns a copy of every statement seen so far.
func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Commits returns the number of committed transactions.
func (d *DB) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

// Rollbacks returns the number of rolled back transactions.
func (d *DB) Rollbacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollbacks
}

// Tx is a fake transaction sharing its parent's handler.
type Tx struct {
	db   *DB
	done bool
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) {
	return t.db.exec(ctx, true, sql, args)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	return t.db.query(ctx, true, sql, args)
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return t.db.queryRow(ctx, true, sql, args)
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("dbtest: transaction already finished")
	}
	t.done = true
	if t.db.CommitErr != nil {
		return t.db.CommitErr
	}
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

type affected int64

func (a affected) RowsAffected() int64 { return int64(a) }

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

// Rows iterates over canned values. Scan assigns each column to the matching
// destination pointer, converting between compatible kinds.
type Rows struct {
	data [][]any
	pos  int
}

func (r *Rows) Next() bool {
	r.pos++
	return r.pos < len(r.data)
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.data) {
		return errors.New("dbtest: Scan called without a current row")
	}
	row := r.data[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("dbtest: row has %d columns, Scan got %d destinations", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("dbtest: column %d: %w", i, err)
		}
	}
	return nil
}

func (r *Rows) Err() error { return nil }
func (r *Rows) Close()     {}

func assign(dest, src any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errors.New("destination is not a non-nil pointer")
	}
	target := dv.Elem()
	if src == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(target.Type()):
		target.Set(sv)
	case sv.Type().ConvertibleTo(target.Type()):
		target.Set(sv.Convert(target.Type()))
	case target.Kind() == reflect.Pointer && sv.Type().AssignableTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(sv)
		target.Set(p)
	default:
		return fmt.Errorf("cannot assign %T to %s", src, target.Type())
	}
	return nil
}

var (
	_ db.Database = (*DB)(nil)
	_ db.Tx       = (*Tx)(nil)
	_ db.Rows     = (*Rows)(nil)
)
