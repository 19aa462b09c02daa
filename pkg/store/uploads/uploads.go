// Package uploads implements C4, the upload tracker: CRUD and invariants
// over FileUpload and FileUploadLineHash rows.
package uploads

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/dberrors"
	"github.com/marmos91/cnabflow/pkg/store/models"
)

// Tracker owns FileUpload and FileUploadLineHash rows. No other package
// writes to these tables.
type Tracker struct {
	db *store.DB
}

// New returns a Tracker bound to db.
func New(db *store.DB) *Tracker {
	return &Tracker{db: db}
}

// LineHashEntry is one buffered line-hash insert, passed to
// CommitLineHashes for the high-throughput batch path noted in the design
// notes as an alternative to per-line inserts.
type LineHashEntry struct {
	FileUploadID string
	LineHash     string
	LineContent  string
}

// IsFileUnique reports whether fileHash has not yet been recorded, and
// returns the conflicting upload when it has.
func (t *Tracker) IsFileUnique(ctx context.Context, fileHash string) (bool, *models.FileUpload, error) {
	var existing models.FileUpload
	err := t.db.Conn.WithContext(ctx).Where("file_hash = ?", fileHash).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, dberrors.Translate(err, "uploads.IsFileUnique")
	}
	return false, &existing, nil
}

// RecordPending creates a new FileUpload row with status Pending.
func (t *Tracker) RecordPending(ctx context.Context, name, fileHash string, size int64, storagePath string) (*models.FileUpload, error) {
	upload := &models.FileUpload{
		ID:          uuid.NewString(),
		FileHash:    fileHash,
		FileName:    name,
		FileSize:    size,
		StoragePath: storagePath,
		Status:      models.StatusPending,
		UploadedAt:  time.Now().UTC(),
	}
	if err := t.db.Conn.WithContext(ctx).Create(upload).Error; err != nil {
		return nil, dberrors.Translate(err, "uploads.RecordPending")
	}
	return upload, nil
}

// Delete removes a FileUpload row outright. Used only to roll back intake
// when a Pending row was recorded but the subsequent enqueue failed — per
// spec, the upload must not be left behind in that case.
func (t *Tracker) Delete(ctx context.Context, uploadID string) error {
	err := t.db.Conn.WithContext(ctx).Delete(&models.FileUpload{}, "id = ?", uploadID).Error
	return dberrors.Translate(err, "uploads.Delete")
}

// Get fetches a single upload by id.
func (t *Tracker) Get(ctx context.Context, uploadID string) (*models.FileUpload, error) {
	var upload models.FileUpload
	if err := t.db.Conn.WithContext(ctx).First(&upload, "id = ?", uploadID).Error; err != nil {
		return nil, dberrors.Translate(err, "uploads.Get")
	}
	return &upload, nil
}

// List returns uploads ordered by UploadedAt descending, optionally filtered
// by status, paged by (page, pageSize) with page 1-indexed.
func (t *Tracker) List(ctx context.Context, status models.UploadStatus, page, pageSize int) ([]models.FileUpload, int64, error) {
	q := t.db.Conn.WithContext(ctx).Model(&models.FileUpload{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dberrors.Translate(err, "uploads.List.count")
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var rows []models.FileUpload
	err := q.Order("uploaded_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, dberrors.Translate(err, "uploads.List")
	}
	return rows, total, nil
}

// SetTotalLineCount records the decoded line count, once known.
func (t *Tracker) SetTotalLineCount(ctx context.Context, uploadID string, n int) error {
	err := t.db.Conn.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ?", uploadID).
		Update("total_line_count", n).Error
	return dberrors.Translate(err, "uploads.SetTotalLineCount")
}

// UpdateProcessingStatus transitions the upload to status, stamping
// processing_started_at the first time status becomes Processing.
func (t *Tracker) UpdateProcessingStatus(ctx context.Context, uploadID string, status models.UploadStatus, retryCount int) error {
	updates := map[string]any{
		"status":      status,
		"retry_count": retryCount,
	}

	return dberrors.Translate(t.db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.FileUpload
		if err := tx.First(&current, "id = ?", uploadID).Error; err != nil {
			return err
		}
		if status == models.StatusProcessing && current.ProcessingStartedAt == nil {
			now := time.Now().UTC()
			updates["processing_started_at"] = now
		}
		return tx.Model(&models.FileUpload{}).Where("id = ?", uploadID).Updates(updates).Error
	}), "uploads.UpdateProcessingStatus")
}

// UpdateCheckpoint persists a monotonic progress snapshot: lastLine must
// never regress relative to the stored LastCheckpointLine.
func (t *Tracker) UpdateCheckpoint(ctx context.Context, uploadID string, lastLine, processed, failed, skipped int) error {
	now := time.Now().UTC()
	err := t.db.Conn.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ? AND last_checkpoint_line <= ?", uploadID, lastLine).
		Updates(map[string]any{
			"last_checkpoint_line": lastLine,
			"last_checkpoint_at":   now,
			"processed_line_count": processed,
			"failed_line_count":    failed,
			"skipped_line_count":   skipped,
		}).Error
	return dberrors.Translate(err, "uploads.UpdateCheckpoint")
}

// UpdateProcessingResult performs the final terminal write, computing status
// from the given counts against TotalLineCount.
func (t *Tracker) UpdateProcessingResult(ctx context.Context, uploadID string, processed, failed, skipped int) error {
	return dberrors.Translate(t.db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upload models.FileUpload
		if err := tx.First(&upload, "id = ?", uploadID).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"processed_line_count": processed,
			"failed_line_count":    failed,
			"skipped_line_count":   skipped,
		}

		if processed+failed+skipped >= upload.TotalLineCount {
			now := time.Now().UTC()
			updates["processing_completed_at"] = now
			if failed == 0 {
				updates["status"] = models.StatusSuccess
			} else {
				updates["status"] = models.StatusPartiallyCompleted
			}
		}

		return tx.Model(&models.FileUpload{}).Where("id = ?", uploadID).Updates(updates).Error
	}), "uploads.UpdateProcessingResult")
}

// UpdateProcessingFailure marks the upload Failed after exhausting the
// message-level retry budget.
func (t *Tracker) UpdateProcessingFailure(ctx context.Context, uploadID string, failureErr error, retryCount int) error {
	msg := ""
	if failureErr != nil {
		msg = failureErr.Error()
	}
	err := t.db.Conn.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ?", uploadID).
		Updates(map[string]any{
			"status":        models.StatusFailed,
			"error_message": msg,
			"retry_count":   retryCount,
		}).Error
	return dberrors.Translate(err, "uploads.UpdateProcessingFailure")
}

// IsLineUnique reports whether lineHash has not yet been recorded anywhere.
func (t *Tracker) IsLineUnique(ctx context.Context, lineHash string) (bool, error) {
	var count int64
	err := t.db.Conn.WithContext(ctx).
		Model(&models.FileUploadLineHash{}).
		Where("line_hash = ?", lineHash).
		Count(&count).Error
	if err != nil {
		return false, dberrors.Translate(err, "uploads.IsLineUnique")
	}
	return count == 0, nil
}

// StageLineHash inserts a line-hash row using the caller's transaction
// handle, so C9 can commit it atomically alongside the transaction insert.
func (t *Tracker) StageLineHash(tx *gorm.DB, uploadID, lineHash, lineContent string) error {
	row := &models.FileUploadLineHash{
		FileUploadID: uploadID,
		LineHash:     lineHash,
		LineContent:  lineContent,
		ProcessedAt:  time.Now().UTC(),
	}
	if err := tx.Create(row).Error; err != nil {
		return dberrors.Translate(err, "uploads.StageLineHash")
	}
	return nil
}

// CommitLineHashes performs a single "insert many; on conflict do nothing"
// bulk insert, the preferred throughput path when a worker batches
// line-hash writes outside the per-line atomic unit of work.
func (t *Tracker) CommitLineHashes(ctx context.Context, entries []LineHashEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]models.FileUploadLineHash, 0, len(entries))
	now := time.Now().UTC()
	for _, e := range entries {
		rows = append(rows, models.FileUploadLineHash{
			FileUploadID: e.FileUploadID,
			LineHash:     e.LineHash,
			LineContent:  e.LineContent,
			ProcessedAt:  now,
		})
	}

	err := t.db.Conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	return dberrors.Translate(err, "uploads.CommitLineHashes")
}

// FindIncompleteUploads selects uploads in Processing whose
// ProcessingStartedAt is older than timeoutMinutes AND whose
// LastCheckpointAt is null or older than timeoutMinutes (the safer, AND'd
// predicate per spec).
func (t *Tracker) FindIncompleteUploads(ctx context.Context, timeoutMinutes int) ([]models.FileUpload, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(timeoutMinutes) * time.Minute)

	var rows []models.FileUpload
	err := t.db.Conn.WithContext(ctx).
		Where("status = ?", models.StatusProcessing).
		Where("processing_started_at IS NOT NULL AND processing_started_at < ?", cutoff).
		Where("last_checkpoint_at IS NULL OR last_checkpoint_at < ?", cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, dberrors.Translate(err, "uploads.FindIncompleteUploads")
	}
	return rows, nil
}

// IsUploadIncomplete reports whether U is Pending/Processing, or has
// accounted for fewer lines than TotalLineCount (when TotalLineCount is known).
func (t *Tracker) IsUploadIncomplete(ctx context.Context, uploadID string) (bool, error) {
	upload, err := t.Get(ctx, uploadID)
	if err != nil {
		return false, err
	}

	if upload.Status == models.StatusPending || upload.Status == models.StatusProcessing {
		return true, nil
	}

	accounted := upload.ProcessedLineCount + upload.FailedLineCount + upload.SkippedLineCount
	return upload.TotalLineCount > 0 && accounted < upload.TotalLineCount, nil
}

// ClearAll truncates FileUpload and FileUploadLineHash rows; administrative
// truncation path for DELETE /transactions.
func (t *Tracker) ClearAll(ctx context.Context) error {
	return dberrors.Translate(t.db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.FileUploadLineHash{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&models.FileUpload{}).Error
	}), "uploads.ClearAll")
}
