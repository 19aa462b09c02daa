// Package queue implements C6, the durable queue with consumer groups and a
// dead-letter queue, backed by the QueueMessage and DLQMessage tables.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/dberrors"
	"github.com/marmos91/cnabflow/pkg/store/models"
)

// defaultVisibilityTimeout bounds how long a claimed-but-unacked message
// stays invisible to other consumers before it is treated as abandoned and
// reclaimable. Mirrors the distributed lock's TTL/renewal reasoning (see
// pkg/store/lock.Locker.WithLock): it must safely exceed the worst case
// between a worker's own claim and its eventual ack or DLQ move.
const defaultVisibilityTimeout = 2 * time.Minute

// Queue owns the QueueMessage and DLQMessage tables.
type Queue struct {
	db                *store.DB
	visibilityTimeout time.Duration
}

// New returns a Queue bound to db, using defaultVisibilityTimeout.
func New(db *store.DB) *Queue {
	return &Queue{db: db, visibilityTimeout: defaultVisibilityTimeout}
}

// NewWithVisibilityTimeout returns a Queue with a non-default claim
// visibility timeout, e.g. to match a worker pool's LockTTL.
func NewWithVisibilityTimeout(db *store.DB, visibilityTimeout time.Duration) *Queue {
	return &Queue{db: db, visibilityTimeout: visibilityTimeout}
}

// Stats summarizes one consumer group's backlog.
type Stats struct {
	GroupName string
	Pending   int64
	Acked     int64
	DLQ       int64
}

// InitConsumerGroup is a no-op placeholder: group membership is implicit in
// GroupName on each message row, so there is no group row to create. It
// exists so callers can name the group explicitly before first use, the way
// a broker client would register one.
func (q *Queue) InitConsumerGroup(ctx context.Context, groupName string) error {
	return nil
}

// Enqueue durably records one message for groupName.
func (q *Queue) Enqueue(ctx context.Context, groupName, uploadID, storagePath string) (*models.QueueMessage, error) {
	msg := &models.QueueMessage{
		ID:          uuid.NewString(),
		GroupName:   groupName,
		UploadID:    uploadID,
		StoragePath: storagePath,
		EnqueuedAt:  time.Now().UTC(),
		Status:      models.MessagePending,
	}
	if err := q.db.Conn.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, dberrors.Translate(err, "queue.Enqueue")
	}
	return msg, nil
}

// Dequeue claims the oldest pending message for groupName, stamping it with
// consumerID, polling for up to waitFor before giving up with
// (nil, nil). A waitFor of 0 polls exactly once.
func (q *Queue) Dequeue(ctx context.Context, groupName, consumerID string, waitFor time.Duration) (*models.QueueMessage, error) {
	deadline := time.Now().Add(waitFor)
	const pollInterval = 100 * time.Millisecond

	for {
		msg, err := q.claimOne(ctx, groupName, consumerID)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// claimOne atomically claims the oldest pending message that is either
// unclaimed or whose claim has aged past the visibility timeout. Status
// stays "pending" the whole time (per spec, it only changes on ack); the
// ClaimedAt stamp is the in-flight marker that keeps concurrent consumers'
// claims disjoint. The claiming UPDATE re-checks the same claimability
// predicate as the SELECT, so a second consumer racing on the same row loses
// (RowsAffected == 0) instead of claiming the row twice.
func (q *Queue) claimOne(ctx context.Context, groupName, consumerID string) (*models.QueueMessage, error) {
	var claimed *models.QueueMessage
	cutoff := time.Now().Add(-q.visibilityTimeout).UTC()

	err := q.db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.QueueMessage
		err := tx.
			Where("group_name = ? AND status = ? AND (claimed_at IS NULL OR claimed_at <= ?)", groupName, models.MessagePending, cutoff).
			Order("enqueued_at asc").
			First(&msg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&models.QueueMessage{}).
			Where("id = ? AND status = ? AND (claimed_at IS NULL OR claimed_at <= ?)", msg.ID, models.MessagePending, cutoff).
			Updates(map[string]any{
				"consumer_id": consumerID,
				"claimed_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race to another consumer's claim; caller polls again.
			return nil
		}

		msg.ConsumerID = consumerID
		msg.ClaimedAt = &now
		claimed = &msg
		return nil
	})
	if err != nil {
		return nil, dberrors.Translate(err, "queue.claimOne")
	}
	return claimed, nil
}

// Ack marks messageID as successfully processed.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	err := q.db.Conn.WithContext(ctx).
		Model(&models.QueueMessage{}).
		Where("id = ?", messageID).
		Update("status", models.MessageAcked).Error
	return dberrors.Translate(err, "queue.Ack")
}

// MoveToDLQ dead-letters msg after its message-level retry budget is
// exhausted, acking the original so it is never redelivered.
func (q *Queue) MoveToDLQ(ctx context.Context, msg *models.QueueMessage, reason string) error {
	return dberrors.Translate(q.db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dlq := &models.DLQMessage{
			ID:                uuid.NewString(),
			OriginalMessageID: msg.ID,
			UploadID:          msg.UploadID,
			StoragePath:       msg.StoragePath,
			Reason:            reason,
			RetryCount:        msg.RetryCount,
			LastAttemptAt:     time.Now().UTC(),
		}
		if err := tx.Create(dlq).Error; err != nil {
			return err
		}
		return tx.Model(&models.QueueMessage{}).
			Where("id = ?", msg.ID).
			Update("status", models.MessageAcked).Error
	}), "queue.MoveToDLQ")
}

// IncrementRetry bumps a message's retry count after a failed delivery that
// has not yet exhausted its budget.
func (q *Queue) IncrementRetry(ctx context.Context, messageID string, retryCount int) error {
	err := q.db.Conn.WithContext(ctx).
		Model(&models.QueueMessage{}).
		Where("id = ?", messageID).
		Update("retry_count", retryCount).Error
	return dberrors.Translate(err, "queue.IncrementRetry")
}

// Stats reports the current backlog for groupName.
func (q *Queue) Stats(ctx context.Context, groupName string) (*Stats, error) {
	s := &Stats{GroupName: groupName}

	conn := q.db.Conn.WithContext(ctx)
	if err := conn.Model(&models.QueueMessage{}).
		Where("group_name = ? AND status = ?", groupName, models.MessagePending).
		Count(&s.Pending).Error; err != nil {
		return nil, dberrors.Translate(err, "queue.Stats.pending")
	}
	if err := conn.Model(&models.QueueMessage{}).
		Where("group_name = ? AND status = ?", groupName, models.MessageAcked).
		Count(&s.Acked).Error; err != nil {
		return nil, dberrors.Translate(err, "queue.Stats.acked")
	}
	if err := conn.Model(&models.DLQMessage{}).
		Count(&s.DLQ).Error; err != nil {
		return nil, dberrors.Translate(err, "queue.Stats.dlq")
	}
	return s, nil
}
