package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/api/problem"
	"github.com/marmos91/cnabflow/pkg/intake"
	"github.com/marmos91/cnabflow/pkg/pipeline"
	"github.com/marmos91/cnabflow/pkg/store/models"
	"github.com/marmos91/cnabflow/pkg/store/queue"
	"github.com/marmos91/cnabflow/pkg/store/transactions"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

// TransactionsHandler serves the /api/v1/transactions/* surface of spec.md §6.
type TransactionsHandler struct {
	intake         *intake.Service
	uploadsStore   *uploads.Tracker
	txStore        *transactions.Store
	queue          *queue.Queue
	queueGroupName string
}

// NewTransactionsHandler returns a handler bound to the intake service and
// the upload/transaction/queue stores it needs for status, resume, and
// admin routes.
func NewTransactionsHandler(intakeSvc *intake.Service, uploadsStore *uploads.Tracker, txStore *transactions.Store, q *queue.Queue, queueGroupName string) *TransactionsHandler {
	return &TransactionsHandler{
		intake:         intakeSvc,
		uploadsStore:   uploadsStore,
		txStore:        txStore,
		queue:          q,
		queueGroupName: queueGroupName,
	}
}

// Upload handles POST /transactions/upload.
func (h *TransactionsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		problem.BadRequest(w, "expected multipart/form-data body")
		return
	}

	part, err := intake.FilePart(reader)
	if err != nil {
		problem.WritePipelineError(w, err)
		return
	}

	result, err := h.intake.Accept(r.Context(), part.FileName(), part)
	if err != nil {
		problem.WritePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, okResponse(result.Upload))
}

// List handles GET /transactions/uploads.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	status := models.UploadStatus(r.URL.Query().Get("status"))

	rows, total, err := h.uploadsStore.List(r.Context(), status, page, pageSize)
	if err != nil {
		problem.InternalServerError(w, "failed to list uploads")
		return
	}

	writeJSON(w, http.StatusOK, okResponse(map[string]any{
		"items": rows,
		"total": total,
	}))
}

// Get handles GET /transactions/uploads/{U}.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	upload, err := h.uploadsStore.Get(r.Context(), uploadID)
	if err != nil {
		problem.NotFound(w, "upload not found")
		return
	}

	writeJSON(w, http.StatusOK, okResponse(upload))
}

// Incomplete handles GET /transactions/uploads/incomplete.
func (h *TransactionsHandler) Incomplete(w http.ResponseWriter, r *http.Request) {
	timeoutMinutes := parseTimeoutMinutes(r, 30)

	rows, err := h.uploadsStore.FindIncompleteUploads(r.Context(), timeoutMinutes)
	if err != nil {
		problem.InternalServerError(w, "failed to list incomplete uploads")
		return
	}

	writeJSON(w, http.StatusOK, okResponse(rows))
}

// Resume handles POST /transactions/uploads/{U}/resume.
func (h *TransactionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	upload, err := h.uploadsStore.Get(r.Context(), uploadID)
	if err != nil {
		problem.NotFound(w, "upload not found")
		return
	}

	incomplete, err := h.uploadsStore.IsUploadIncomplete(r.Context(), uploadID)
	if err != nil {
		problem.InternalServerError(w, "failed to check upload status")
		return
	}
	if !incomplete {
		problem.BadRequest(w, "upload is not in an incomplete state")
		return
	}
	if upload.StoragePath == "" {
		problem.BadRequest(w, "upload has no storage path")
		return
	}

	if _, err := h.queue.Enqueue(r.Context(), h.queueGroupName, upload.ID, upload.StoragePath); err != nil {
		problem.WritePipelineError(w, pipeline.New(pipeline.KindQueueFailure, "failed to enqueue upload", err))
		return
	}

	writeJSON(w, http.StatusOK, okResponse(upload))
}

// ResumeOutcome reports the per-item result of a resume-all sweep.
type ResumeOutcome struct {
	UploadID string `json:"uploadId"`
	Resumed  bool   `json:"resumed"`
	Reason   string `json:"reason,omitempty"`
}

// ResumeAll handles POST /transactions/uploads/resume-all.
func (h *TransactionsHandler) ResumeAll(w http.ResponseWriter, r *http.Request) {
	timeoutMinutes := parseTimeoutMinutes(r, 30)
	ctx := r.Context()

	rows, err := h.uploadsStore.FindIncompleteUploads(ctx, timeoutMinutes)
	if err != nil {
		problem.InternalServerError(w, "failed to list incomplete uploads")
		return
	}

	outcomes := make([]ResumeOutcome, 0, len(rows))
	for _, upload := range rows {
		if upload.StoragePath == "" {
			outcomes = append(outcomes, ResumeOutcome{UploadID: upload.ID, Resumed: false, Reason: "missing storage path"})
			continue
		}
		if _, err := h.queue.Enqueue(ctx, h.queueGroupName, upload.ID, upload.StoragePath); err != nil {
			logger.ErrorCtx(ctx, "resume-all enqueue failed", logger.UploadID(upload.ID), logger.Err(err))
			outcomes = append(outcomes, ResumeOutcome{UploadID: upload.ID, Resumed: false, Reason: "enqueue failed"})
			continue
		}
		outcomes = append(outcomes, ResumeOutcome{UploadID: upload.ID, Resumed: true})
	}

	writeJSON(w, http.StatusOK, okResponse(outcomes))
}

// ClearAll handles DELETE /transactions: administrative truncation of both
// the upload and transaction tables.
func (h *TransactionsHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.txStore.ClearAll(r.Context()); err != nil {
		problem.InternalServerError(w, "failed to clear transactions")
		return
	}
	if err := h.uploadsStore.ClearAll(r.Context()); err != nil {
		problem.InternalServerError(w, "failed to clear uploads")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

func parseTimeoutMinutes(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("timeoutMinutes"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
