// Package intake implements C10, the upload intake: validates the
// multipart request, fingerprints the payload, persists the blob, and
// enqueues it for asynchronous processing.
package intake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/hashing"
	"github.com/marmos91/cnabflow/pkg/objectstore"
	"github.com/marmos91/cnabflow/pkg/pipeline"
	"github.com/marmos91/cnabflow/pkg/store/models"
	"github.com/marmos91/cnabflow/pkg/store/queue"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

// Config bounds the intake surface.
type Config struct {
	MaxFileSize      int64
	AllowedExtension string
	QueueGroupName   string
}

// Service implements C10.
type Service struct {
	cfg          Config
	objectStore  *objectstore.Store
	uploadsStore *uploads.Tracker
	queue        *queue.Queue
}

// New returns a Service bound to its collaborators.
func New(cfg Config, objectStore *objectstore.Store, uploadsStore *uploads.Tracker, q *queue.Queue) *Service {
	return &Service{cfg: cfg, objectStore: objectStore, uploadsStore: uploadsStore, queue: q}
}

// Result is returned on a successful intake.
type Result struct {
	Upload *models.FileUpload
}

// Accept runs steps 1-8 of spec.md §4.10 against one multipart file part.
// The HTTP handler is responsible for parsing the multipart envelope and
// locating the "file" part; Accept receives the part's filename and an
// io.Reader already scoped to that part's body.
func (s *Service) Accept(ctx context.Context, fileName string, part io.Reader) (*Result, error) {
	if fileName == "" {
		return nil, pipeline.New(pipeline.KindInvalidRequest, "missing file name", nil)
	}

	if ext := filepath.Ext(fileName); !strings.EqualFold(ext, s.cfg.AllowedExtension) {
		return nil, pipeline.New(pipeline.KindUnsupportedMediaType, fmt.Sprintf("unsupported file extension %q", ext), nil)
	}

	data, err := readLimited(part, s.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, pipeline.New(pipeline.KindInvalidRequest, "empty file", nil)
	}

	fileHash := hashing.FileHash(data)

	unique, existing, err := s.uploadsStore.IsFileUnique(ctx, fileHash)
	if err != nil {
		return nil, pipeline.New(pipeline.KindInternalError, "uniqueness check failed", err)
	}
	if !unique {
		return nil, pipeline.Duplicate(existing.ID)
	}

	storagePath := generateStoragePath()

	if _, err := s.objectStore.Put(ctx, storagePath, data); err != nil {
		logger.ErrorCtx(ctx, "object store put failed", logger.StoragePath(storagePath), logger.Err(err))
		return nil, pipeline.New(pipeline.KindStorageFailure, "failed to persist upload", err)
	}

	upload, err := s.uploadsStore.RecordPending(ctx, fileName, fileHash, int64(len(data)), storagePath)
	if err != nil {
		return nil, pipeline.New(pipeline.KindInternalError, "failed to record upload", err)
	}

	if _, err := s.queue.Enqueue(ctx, s.cfg.QueueGroupName, upload.ID, storagePath); err != nil {
		logger.ErrorCtx(ctx, "enqueue failed after recording upload, rolling back", logger.UploadID(upload.ID), logger.Err(err))
		if delErr := s.uploadsStore.Delete(ctx, upload.ID); delErr != nil {
			logger.ErrorCtx(ctx, "failed to roll back pending upload row", logger.UploadID(upload.ID), logger.Err(delErr))
		}
		return nil, pipeline.New(pipeline.KindQueueFailure, "failed to enqueue upload for processing", err)
	}

	logger.InfoCtx(ctx, "upload accepted", logger.UploadID(upload.ID), logger.FileHash(fileHash), logger.Size(upload.FileSize))
	return &Result{Upload: upload}, nil
}

// FilePart returns the first part named "file" of a parsed multipart.Reader,
// or an InvalidRequest pipeline error if there is none. Parts after it are
// not read, so a second part named "file" is not detected.
func FilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, pipeline.New(pipeline.KindInvalidRequest, "no file part present", nil)
		}
		if err != nil {
			return nil, pipeline.New(pipeline.KindInvalidRequest, "invalid multipart body", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(r, limit+1)
	var buf bytes.Buffer
	n, err := io.Copy(&buf, limited)
	if err != nil {
		return nil, pipeline.New(pipeline.KindInternalError, "failed to read upload body", err)
	}
	if n > limit {
		return nil, pipeline.New(pipeline.KindPayloadTooLarge, "file exceeds maximum size", nil)
	}
	return buf.Bytes(), nil
}

func generateStoragePath() string {
	now := time.Now().UTC()
	return fmt.Sprintf("cnab-%s-%s.txt", now.Format("20060102-150405"), randomToken())
}
