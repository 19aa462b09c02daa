// Package unitofwork wraps the atomic commit that C9 (line processor) uses
// to stage a transaction insert and a line-hash insert together. Grounded on
// the retry-the-whole-transaction pattern used elsewhere in this lineage for
// PostgreSQL serialization failures and deadlocks.
package unitofwork

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/dberrors"
)

const (
	maxRetries           = 3
	acquireTimeout       = 10 * time.Second
	commitTimeout        = 10 * time.Second
	retryBaseDelay       = 10 * time.Millisecond
)

// Run executes fn inside a single atomic commit against db. On PostgreSQL,
// a fn/commit failure classified as retryable (serialization failure,
// deadlock) is retried with a short linear backoff, for at most maxRetries
// attempts in all.
//
// The SQLite test backend does not support this transaction-retry contract
// (spec.md §5's documented exception): Run instead executes fn directly
// against the connection, wrapped in GORM's own (non-retrying) transaction
// for atomicity, without the retry loop.
func Run(ctx context.Context, db *store.DB, fn func(tx *gorm.DB) error) error {
	if !db.SupportsTransactions() {
		return db.Conn.WithContext(ctx).Transaction(fn)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
		tx := db.Conn.WithContext(acquireCtx).Begin()
		cancel()
		if tx.Error != nil {
			lastErr = dberrors.Translate(tx.Error, "unitofwork.begin")
			if dberrors.IsRetryable(lastErr) {
				sleepBackoff(attempt)
				continue
			}
			return lastErr
		}

		if err := fn(tx); err != nil {
			rollbackCtx, rcancel := context.WithTimeout(ctx, commitTimeout)
			tx.WithContext(rollbackCtx).Rollback()
			rcancel()

			lastErr = classify(err)
			if dberrors.IsRetryable(lastErr) {
				sleepBackoff(attempt)
				continue
			}
			return lastErr
		}

		commitCtx, ccancel := context.WithTimeout(ctx, commitTimeout)
		commitErr := tx.WithContext(commitCtx).Commit().Error
		ccancel()
		if commitErr != nil {
			lastErr = dberrors.Translate(commitErr, "unitofwork.commit")
			if dberrors.IsRetryable(lastErr) {
				sleepBackoff(attempt)
				continue
			}
			return lastErr
		}

		return nil
	}

	return lastErr
}

// classify passes fn's error through dberrors.Translate unless it is already
// a *dberrors.Error (fn may have translated it itself, e.g. the
// already-exists error from the upload tracker's StageLineHash).
func classify(err error) error {
	var se *dberrors.Error
	if errors.As(err, &se) {
		return err
	}
	return dberrors.Translate(err, "unitofwork.fn")
}

func sleepBackoff(attempt int) {
	time.Sleep(time.Duration(attempt) * retryBaseDelay)
}
