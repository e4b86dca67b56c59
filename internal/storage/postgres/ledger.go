package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/storage"
)

// dbtx is satisfied by both *Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements storage.Reader over either the pool or a transaction.
type queries struct {
	db dbtx
}

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	// MaxRetries bounds replays after serialization failures or deadlocks.
	MaxRetries int
	// RetryBackoff is the base delay between replays, doubled per attempt.
	RetryBackoff time.Duration
}

// Ledger implements storage.Ledger using PostgreSQL row locks.
type Ledger struct {
	queries
	pool *Pool
	opts LedgerOptions
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool, opts LedgerOptions) *Ledger {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}
	return &Ledger{queries: queries{db: pool}, pool: pool, opts: opts}
}

// Compile-time interface checks.
var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Tx     = (*pgTx)(nil)
)

// InTx runs fn in a READ COMMITTED transaction. Serialization failures and
// deadlocks are replayed up to MaxRetries times.
func (l *Ledger) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	var err error
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordTxRetry("postgres")
			delay := l.opts.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = l.runTx(ctx, fn)
		if !isRetryableError(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", storage.ErrRetriesExhausted, err)
}

func (l *Ledger) runTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		dbErr := err
		if _, ok := apperr.As(err); ok {
			dbErr = nil
		}
		observability.RecordDBQuery("postgres", "tx", time.Since(start).Seconds(), dbErr)
	}()

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{queries: queries{db: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgTx implements storage.Tx on one pgx transaction.
type pgTx struct {
	queries
}
