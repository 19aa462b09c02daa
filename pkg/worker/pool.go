// Package worker implements C11, the worker pool: consume the queue,
// acquire the per-upload distributed lock, drive C9 with retry, checkpoint,
// and dead-lettering.
package worker

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/objectstore"
	"github.com/marmos91/cnabflow/pkg/pipeline"
	"github.com/marmos91/cnabflow/pkg/store/lock"
	"github.com/marmos91/cnabflow/pkg/store/models"
	"github.com/marmos91/cnabflow/pkg/store/queue"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

// Config parameterizes the pool, per spec.md §6's configuration surface.
type Config struct {
	ParallelWorkers    int
	CheckpointInterval int
	MaxRetries         int // message-level retry budget (spec.md default: 3)
	BaseRetryDelay     time.Duration
	LockTTL            time.Duration
	QueueGroupName     string
	DequeueWait        time.Duration
}

// Pool runs N worker goroutines against the queue.
type Pool struct {
	cfg Config

	queue        *queue.Queue
	locker       *lock.Locker
	objectStore  *objectstore.Store
	uploadsStore *uploads.Tracker
	processor    *pipeline.Processor
	checkpointer *pipeline.Checkpointer

	wg sync.WaitGroup
}

// New returns a Pool wired to its collaborators.
func New(cfg Config, q *queue.Queue, locker *lock.Locker, objectStore *objectstore.Store, uploadsStore *uploads.Tracker, processor *pipeline.Processor, checkpointer *pipeline.Checkpointer) *Pool {
	return &Pool{
		cfg:          cfg,
		queue:        q,
		locker:       locker,
		objectStore:  objectStore,
		uploadsStore: uploadsStore,
		processor:    processor,
		checkpointer: checkpointer,
	}
}

var lineSplitter = regexp.MustCompile(`\r\n|\r|\n`)

// Start launches N worker goroutines, returning immediately. Each goroutine
// runs until ctx is canceled.
func (p *Pool) Start(ctx context.Context, workerCount int) {
	if err := p.queue.InitConsumerGroup(ctx, p.cfg.QueueGroupName); err != nil {
		logger.ErrorCtx(ctx, "failed to initialize consumer group", logger.QueueGroup(p.cfg.QueueGroupName), logger.Err(err))
	}

	for i := 0; i < workerCount; i++ {
		consumerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.run(ctx, consumerID)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, consumerID string) {
	defer p.wg.Done()
	logCtx := logger.NewLogContext("worker")
	workerCtx := logger.WithContext(ctx, logCtx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.queue.Dequeue(ctx, p.cfg.QueueGroupName, consumerID, p.cfg.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.ErrorCtx(workerCtx, "dequeue failed", logger.ConsumerID(consumerID), logger.Err(err))
			sleepOrDone(ctx, time.Second)
			continue
		}
		if msg == nil {
			sleepOrDone(ctx, time.Second)
			continue
		}

		p.handle(workerCtx, msg, consumerID)
	}
}

func (p *Pool) handle(ctx context.Context, msg *models.QueueMessage, consumerID string) {
	lockKey := fmt.Sprintf("upload:processing:%s", msg.UploadID)
	owner := consumerID + ":" + uuid.NewString()

	err := p.locker.WithLock(ctx, lockKey, owner, p.cfg.LockTTL, func(ctx context.Context) error {
		p.processOne(ctx, msg)
		return nil
	})
	if err != nil {
		if err == lock.ErrNotAcquired {
			logger.InfoCtx(ctx, "lock held by another worker, skipping", logger.LockKey(lockKey))
			return
		}
		logger.ErrorCtx(ctx, "lock acquisition failed", logger.LockKey(lockKey), logger.Err(err))
	}
}

// processOne drives C9 over every line of the upload, with message-level
// retry up to cfg.MaxRetries, checkpointing, and final DLQ on exhaustion.
func (p *Pool) processOne(ctx context.Context, msg *models.QueueMessage) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * p.cfg.BaseRetryDelay
			sleepOrDone(ctx, delay)
			if ctx.Err() != nil {
				return
			}
		}

		if err := p.attempt(ctx, msg, attempt); err != nil {
			lastErr = err
			logger.WarnCtx(ctx, "processing attempt failed", logger.UploadID(msg.UploadID), logger.Attempt(attempt), logger.Err(err))
			continue
		}

		if err := p.queue.Ack(ctx, msg.ID); err != nil {
			logger.ErrorCtx(ctx, "ack failed after successful processing", logger.MessageID(msg.ID), logger.Err(err))
		}
		return
	}

	reason := "processing exhausted retries"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	if err := p.queue.MoveToDLQ(ctx, msg, reason); err != nil {
		logger.ErrorCtx(ctx, "move to DLQ failed", logger.MessageID(msg.ID), logger.Err(err))
	}
	if err := p.uploadsStore.UpdateProcessingFailure(ctx, msg.UploadID, lastErr, p.cfg.MaxRetries); err != nil {
		logger.ErrorCtx(ctx, "failed to record terminal failure", logger.UploadID(msg.UploadID), logger.Err(err))
	}
}

func (p *Pool) attempt(ctx context.Context, msg *models.QueueMessage, retryCount int) error {
	if err := p.uploadsStore.UpdateProcessingStatus(ctx, msg.UploadID, models.StatusProcessing, retryCount); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	data, err := p.downloadWithRetry(ctx, msg.StoragePath)
	if err != nil {
		return fmt.Errorf("download blob: %w", err)
	}

	upload, err := p.uploadsStore.Get(ctx, msg.UploadID)
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}

	// Per spec, lines [0, LastCheckpointLine] are already durably accounted
	// for, so resumption starts one past it (LastCheckpointLine defaults to 0
	// meaning "nothing checkpointed yet", so a fresh upload still starts at 0).
	startFromLine := upload.LastCheckpointLine
	if upload.LastCheckpointAt != nil {
		startFromLine++
	}

	lines := lineSplitter.Split(string(data), -1)
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	totalLines := len(lines)

	if upload.TotalLineCount == 0 {
		if err := p.uploadsStore.SetTotalLineCount(ctx, msg.UploadID, totalLines); err != nil {
			logger.WarnCtx(ctx, "failed to record total line count", logger.UploadID(msg.UploadID), logger.Err(err))
		}
	}

	processed, failed, skipped := upload.ProcessedLineCount, upload.FailedLineCount, upload.SkippedLineCount

	batchSize := p.cfg.ParallelWorkers
	if batchSize < 1 {
		batchSize = 1
	}

	for batchStart := startFromLine; batchStart < totalLines; batchStart += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batchEnd := min(batchStart+batchSize, totalLines)
		results := p.processBatch(ctx, msg.UploadID, upload.FileHash, lines, batchStart, batchEnd)

		for _, outcome := range results {
			switch outcome {
			case pipeline.OutcomeSuccess:
				processed++
			case pipeline.OutcomeFailed:
				failed++
			case pipeline.OutcomeSkipped:
				skipped++
			}
		}

		totalAccounted := processed + failed + skipped
		if pipeline.ShouldSave(totalAccounted, p.cfg.CheckpointInterval) {
			p.checkpointer.Save(ctx, msg.UploadID, batchEnd-1, processed, failed, skipped)
		}
	}

	if err := p.uploadsStore.UpdateProcessingResult(ctx, msg.UploadID, processed, failed, skipped); err != nil {
		return fmt.Errorf("update processing result: %w", err)
	}

	return nil
}

func (p *Pool) processBatch(ctx context.Context, uploadID, fileHash string, lines []string, batchStart, batchEnd int) []pipeline.Outcome {
	results := make([]pipeline.Outcome, batchEnd-batchStart)

	var wg sync.WaitGroup
	for i := batchStart; i < batchEnd; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[idx-batchStart] = p.processor.Process(ctx, uploadID, fileHash, idx, []byte(lines[idx]))
		}()
	}
	wg.Wait()

	return results
}

func (p *Pool) downloadWithRetry(ctx context.Context, storagePath string) ([]byte, error) {
	const innerRetries = 3
	var lastErr error
	for attempt := 1; attempt <= innerRetries; attempt++ {
		data, err := p.objectStore.Get(ctx, storagePath)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if attempt < innerRetries {
			sleepOrDone(ctx, time.Duration(attempt)*500*time.Millisecond)
		}
	}
	return nil, lastErr
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
