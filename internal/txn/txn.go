// Package txn defines the explicit transactional context threaded through
// mutating store calls.
//
// A payout touches three records (bonus transaction, referrer balance,
// referral) that must move together: all stores accept an optional Tx, and
// writes issued with the same Tx commit or roll back as one unit. A nil Tx
// means the write is autonomous.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Tx is an in-flight atomic unit. Exactly one of Commit or Rollback must be
// called; Rollback after Commit is a no-op so `defer tx.Rollback()` is safe.
type Tx interface {
	Commit() error
	Rollback() error
}

// Beginner starts transactions.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// -----------------------------------------------------------------------------
// Postgres
// -----------------------------------------------------------------------------

// SQLBeginner begins serializable database/sql transactions.
type SQLBeginner struct {
	DB *sql.DB
}

// Begin starts a serializable transaction.
func (b *SQLBeginner) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqlTx) Commit() error {
	t.done = true
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// SQL unwraps a Tx into its *sql.Tx, or nil when the Tx is nil or not
// SQL-backed. Postgres stores use this to route writes through the caller's
// transaction.
func SQL(tx Tx) *sql.Tx {
	if t, ok := tx.(*sqlTx); ok {
		return t.tx
	}
	return nil
}

// -----------------------------------------------------------------------------
// In-memory
// -----------------------------------------------------------------------------

// MemoryBeginner serializes in-memory multi-store writes behind one lock so
// readers never observe a half-applied payout. Used in demo mode where the
// stores keep state in process memory.
type MemoryBeginner struct {
	mu sync.Mutex
}

// Begin acquires the global write lock until Commit or Rollback.
func (b *MemoryBeginner) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	return &memoryTx{release: b.mu.Unlock}, nil
}

type memoryTx struct {
	once    sync.Once
	release func()
}

func (t *memoryTx) Commit() error {
	t.once.Do(t.release)
	return nil
}

func (t *memoryTx) Rollback() error {
	t.once.Do(t.release)
	return nil
}
