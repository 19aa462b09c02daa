package pipeline

import (
	"context"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

// Checkpointer decides when to persist a progress snapshot and does so,
// swallowing storage errors: checkpoints are best-effort and must never
// fail the pipeline.
type Checkpointer struct {
	tracker *uploads.Tracker
}

// NewCheckpointer returns a Checkpointer bound to tracker.
func NewCheckpointer(tracker *uploads.Tracker) *Checkpointer {
	return &Checkpointer{tracker: tracker}
}

// ShouldSave reports whether totalProcessedSoFar lands on a checkpoint
// boundary: true iff totalProcessedSoFar > 0 and divisible by interval.
func ShouldSave(totalProcessedSoFar, interval int) bool {
	if interval <= 0 {
		return false
	}
	return totalProcessedSoFar > 0 && totalProcessedSoFar%interval == 0
}

// Save persists a checkpoint for uploadID. Errors are logged, never returned.
func (c *Checkpointer) Save(ctx context.Context, uploadID string, lastLineIndex, processed, failed, skipped int) {
	if err := c.tracker.UpdateCheckpoint(ctx, uploadID, lastLineIndex, processed, failed, skipped); err != nil {
		logger.WarnCtx(ctx, "checkpoint save failed, continuing", logger.UploadID(uploadID), logger.Err(err))
	}
}
