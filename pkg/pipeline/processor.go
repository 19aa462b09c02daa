package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/cnab"
	"github.com/marmos91/cnabflow/pkg/hashing"
	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/dberrors"
	"github.com/marmos91/cnabflow/pkg/store/transactions"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
	"github.com/marmos91/cnabflow/pkg/store/unitofwork"
)

// Outcome is the per-line result C9 reports back to the worker pool.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Processor implements C9: dedup-check, parse, atomic insert.
type Processor struct {
	db           *store.DB
	uploadsStore *uploads.Tracker
	txStore      *transactions.Store

	maxRetries   int
	retryDelayMs int
}

// NewProcessor returns a Processor wired to the upload tracker and
// transaction store, making up to maxRetries commit attempts per line with
// a retryDelayMs × attempt backoff between them.
func NewProcessor(db *store.DB, uploadsStore *uploads.Tracker, txStore *transactions.Store, maxRetries, retryDelayMs int) *Processor {
	return &Processor{
		db:           db,
		uploadsStore: uploadsStore,
		txStore:      txStore,
		maxRetries:   maxRetries,
		retryDelayMs: retryDelayMs,
	}
}

// Process decodes and commits one line, per spec.md §4.9.
func (p *Processor) Process(ctx context.Context, uploadID, fileHash string, lineIndex int, content []byte) Outcome {
	lineHash := hashing.LineHash(content)

	unique, err := p.uploadsStore.IsLineUnique(ctx, lineHash)
	if err != nil {
		logger.WarnCtx(ctx, "line uniqueness pre-check failed, proceeding to unique-constraint backstop",
			logger.UploadID(uploadID), logger.LineIndex(lineIndex), logger.Err(err))
	} else if !unique {
		return OutcomeSkipped
	}

	record, parseErr := cnab.Decode(content, lineIndex)
	if parseErr != nil {
		logger.WarnCtx(ctx, "line parse failed", logger.UploadID(uploadID), logger.LineIndex(lineIndex), logger.Err(parseErr))
		return OutcomeFailed
	}

	idempotencyKey := idempotencyKeyFor(fileHash, lineIndex)

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		err := unitofwork.Run(ctx, p.db, func(tx *gorm.DB) error {
			if _, err := p.txStore.AddToUnit(tx, uploadID, record, idempotencyKey); err != nil {
				return err
			}
			return p.uploadsStore.StageLineHash(tx, uploadID, lineHash, string(content))
		})

		if err == nil {
			return OutcomeSuccess
		}

		if isDuplicate(err) {
			return OutcomeSkipped
		}

		lastErr = err
		logger.WarnCtx(ctx, "line commit failed, retrying",
			logger.UploadID(uploadID), logger.LineIndex(lineIndex), logger.Attempt(attempt), logger.Err(err))

		if attempt < p.maxRetries {
			delay := time.Duration(p.retryDelayMs*attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return OutcomeFailed
			case <-time.After(delay):
			}
		}
	}

	logger.ErrorCtx(ctx, "line commit exhausted retries", logger.UploadID(uploadID), logger.LineIndex(lineIndex), logger.Err(lastErr))
	return OutcomeFailed
}

func idempotencyKeyFor(fileHash string, lineIndex int) string {
	return fileHash + ":" + strconv.Itoa(lineIndex)
}

func isDuplicate(err error) bool {
	if errors.Is(err, transactions.ErrDuplicate) {
		return true
	}
	return dberrors.IsAlreadyExists(err)
}
