package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/tillage/internal/db"
	"github.com/oriys/tillage/internal/db/dbtest"
)

func TestWithTxCommitsOnSuccess(t *testing.T) {
	fake := dbtest.New(nil)
	err := db.WithTx(context.Background(), fake, nil, func(tx db.Tx) error {
		_, err := tx.Exec(context.Background(), "INSERT INTO tenants (id) VALUES ($1)", "t1")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
	if fake.Commits() != 1 || fake.Rollbacks() != 0 {
		t.Fatalf("expected 1 commit and 0 rollbacks, got %d/%d", fake.Commits(), fake.Rollbacks())
	}
	calls := fake.Calls()
	if len(calls) != 1 || !calls[0].InTx {
		t.Fatalf("expected one statement inside the transaction, got %+v", calls)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	fake := dbtest.New(nil)
	boom := errors.New("boom")
	err := db.WithTx(context.Background(), fake, nil, func(tx db.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if fake.Commits() != 0 || fake.Rollbacks() != 1 {
		t.Fatalf("expected rollback, got commits=%d rollbacks=%d", fake.Commits(), fake.Rollbacks())
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	fake := dbtest.New(nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic to propagate")
		}
		if fake.Rollbacks() != 1 {
			t.Fatalf("expected rollback on panic, got %d", fake.Rollbacks())
		}
	}()
	_ = db.WithTx(context.Background(), fake, nil, func(tx db.Tx) error { panic("boom") })
}

func TestWithTxBeginError(t *testing.T) {
	fake := dbtest.New(nil)
	fake.BeginErr = errors.New("pool exhausted")
	called := false
	err := db.WithTx(context.Background(), fake, nil, func(tx db.Tx) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("expected begin error without running fn, err=%v called=%v", err, called)
	}
}

func TestFakeQueryRowNoRows(t *testing.T) {
	fake := dbtest.New(nil)
	var id string
	if err := fake.QueryRow(context.Background(), "SELECT id FROM tenants WHERE id = $1", "x").Scan(&id); !errors.Is(err, db.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}
