// Package lock implements C7, a distributed mutual-exclusion lock backed by
// the DistributedLock table: set-if-absent-or-expired with a TTL, guarded by
// owner-keyed compare-and-delete on release.
package lock

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/dberrors"
	"github.com/marmos91/cnabflow/pkg/store/models"
)

// ErrNotAcquired is returned by Acquire when another owner currently holds
// an unexpired lock on the same key.
var ErrNotAcquired = errors.New("lock held by another owner")

// Locker owns the DistributedLock table.
type Locker struct {
	db *store.DB
}

// New returns a Locker bound to db.
func New(db *store.DB) *Locker {
	return &Locker{db: db}
}

// Acquire attempts to take key for owner for ttl. It succeeds if the key is
// unheld, or if the existing holder's lease has expired; it fails with
// ErrNotAcquired otherwise.
func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	return dberrors.Translate(l.db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DistributedLock
		err := tx.Where("lock_key = ?", key).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.DistributedLock{
				LockKey:   key,
				Owner:     owner,
				ExpiresAt: expiresAt,
			}).Error
		case err != nil:
			return err
		case existing.ExpiresAt.Before(now):
			existing.Owner = owner
			existing.ExpiresAt = expiresAt
			return tx.Save(&existing).Error
		default:
			return ErrNotAcquired
		}
	}), "lock.Acquire")
}

// Renew extends key's lease by ttl, but only if owner still holds it.
// Returns ErrNotAcquired if the lease already expired and was stolen by
// another owner.
func (l *Locker) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	result := l.db.Conn.WithContext(ctx).
		Model(&models.DistributedLock{}).
		Where("lock_key = ? AND owner = ?", key, owner).
		Update("expires_at", time.Now().UTC().Add(ttl))
	if result.Error != nil {
		return dberrors.Translate(result.Error, "lock.Renew")
	}
	if result.RowsAffected == 0 {
		return ErrNotAcquired
	}
	return nil
}

// Release drops key if and only if owner currently holds it.
func (l *Locker) Release(ctx context.Context, key, owner string) error {
	result := l.db.Conn.WithContext(ctx).
		Where("lock_key = ? AND owner = ?", key, owner).
		Delete(&models.DistributedLock{})
	if result.Error != nil {
		return dberrors.Translate(result.Error, "lock.Release")
	}
	return nil
}

// Exists reports whether key is currently held by an unexpired owner.
func (l *Locker) Exists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := l.db.Conn.WithContext(ctx).
		Model(&models.DistributedLock{}).
		Where("lock_key = ? AND expires_at > ?", key, time.Now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, dberrors.Translate(err, "lock.Exists")
	}
	return count > 0, nil
}

// WithLock acquires key for owner with ttl, runs fn, and releases the lock
// regardless of fn's outcome. Returns ErrNotAcquired without calling fn if
// the lock could not be taken.
//
// The lease is renewed in the background at ttl/3 while fn runs: ttl bounds
// the worst case between renewals, not the worst-case duration of fn itself
// (spec: the owner must renew or rely on the TTL exceeding the worst case).
// If a renewal is ever rejected — the lease expired and was stolen by
// another owner — fn's context is canceled so it stops touching state it no
// longer exclusively owns.
func (l *Locker) WithLock(ctx context.Context, key, owner string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, key, owner, ttl); err != nil {
		return err
	}

	fnCtx, cancel := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go l.renewLoop(ctx, fnCtx, key, owner, ttl, cancel, renewDone)

	err := fn(fnCtx)

	cancel()
	<-renewDone

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	_ = l.Release(releaseCtx, key, owner)

	return err
}

// renewLoop renews key every ttl/3 until fnCtx is done (fn returned or a
// prior renewal failed). dbCtx is used for the Renew calls themselves so a
// canceled fnCtx does not also cancel the in-flight renewal request.
func (l *Locker) renewLoop(dbCtx, fnCtx context.Context, key, owner string, ttl time.Duration, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-fnCtx.Done():
			return
		case <-ticker.C:
			if err := l.Renew(dbCtx, key, owner, ttl); err != nil {
				cancel()
				return
			}
		}
	}
}
