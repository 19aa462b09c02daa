// Package recovery implements C12, the stuck-upload recovery sweeper:
// periodically re-enqueues uploads whose processing appears to have stalled,
// without ever mutating upload state directly.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/store/lock"
	"github.com/marmos91/cnabflow/pkg/store/models"
	"github.com/marmos91/cnabflow/pkg/store/queue"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

// Config parameterizes the sweeper.
type Config struct {
	CheckInterval  time.Duration
	TimeoutMinutes int
	QueueGroupName string
}

// Sweeper runs the recovery tick on a ticker.
type Sweeper struct {
	cfg Config

	uploadsStore *uploads.Tracker
	locker       *lock.Locker
	queue        *queue.Queue
}

// New returns a Sweeper wired to its collaborators.
func New(cfg Config, uploadsStore *uploads.Tracker, locker *lock.Locker, q *queue.Queue) *Sweeper {
	return &Sweeper{cfg: cfg, uploadsStore: uploadsStore, locker: locker, queue: q}
}

// Run blocks, firing a sweep every cfg.CheckInterval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	logCtx := logger.NewLogContext("recovery-sweeper")
	ctx = logger.WithContext(ctx, logCtx)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one recovery pass: find incomplete uploads, skip the ones that
// are actually still being worked or recently checkpointed, and re-enqueue
// the rest. It never writes to the FileUpload row itself — only the queue.
func (s *Sweeper) sweep(ctx context.Context) {
	stuck, err := s.uploadsStore.FindIncompleteUploads(ctx, s.cfg.TimeoutMinutes)
	if err != nil {
		logger.ErrorCtx(ctx, "sweep failed to list incomplete uploads", logger.Err(err))
		return
	}
	if len(stuck) == 0 {
		return
	}

	logger.InfoCtx(ctx, "sweep found candidate uploads", logger.TotalLines(len(stuck)))

	halfTimeout := time.Duration(s.cfg.TimeoutMinutes) * time.Minute / 2

	for _, upload := range stuck {
		s.maybeRecover(ctx, &upload, halfTimeout)
	}
}

func (s *Sweeper) maybeRecover(ctx context.Context, upload *models.FileUpload, halfTimeout time.Duration) {
	if upload.StoragePath == "" {
		logger.WarnCtx(ctx, "skipping sweep candidate with no storage path", logger.UploadID(upload.ID))
		return
	}

	lockKey := fmt.Sprintf("upload:processing:%s", upload.ID)
	held, err := s.locker.Exists(ctx, lockKey)
	if err != nil {
		logger.ErrorCtx(ctx, "lock existence check failed during sweep", logger.UploadID(upload.ID), logger.Err(err))
		return
	}
	if held {
		return
	}

	if upload.LastCheckpointAt != nil && time.Since(*upload.LastCheckpointAt) < halfTimeout {
		return
	}

	if _, err := s.queue.Enqueue(ctx, s.cfg.QueueGroupName, upload.ID, upload.StoragePath); err != nil {
		logger.ErrorCtx(ctx, "sweep re-enqueue failed", logger.UploadID(upload.ID), logger.Err(err))
		return
	}

	logger.InfoCtx(ctx, "sweep re-enqueued stuck upload", logger.UploadID(upload.ID))
}
