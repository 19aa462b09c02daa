package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/cnabflow/pkg/intake"
	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/models"
	"github.com/marmos91/cnabflow/pkg/store/queue"
	"github.com/marmos91/cnabflow/pkg/store/transactions"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

func newTestTransactionsHandler(t *testing.T) (*TransactionsHandler, *uploads.Tracker, *queue.Queue, *store.DB) {
	t.Helper()
	db, err := store.Open(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "transactions-handler.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	uploadsStore := uploads.New(db)
	txStore := transactions.New(db)
	q := queue.New(db)
	intakeSvc := intake.New(intake.Config{MaxFileSize: 1024, AllowedExtension: ".txt", QueueGroupName: "uploads"}, nil, uploadsStore, q)

	handler := NewTransactionsHandler(intakeSvc, uploadsStore, txStore, q, "uploads")
	return handler, uploadsStore, q, db
}

func backdateProcessingStartedAt(db *store.DB, ctx context.Context, uploadID string, ts time.Time) error {
	return db.Conn.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ?", uploadID).
		Update("processing_started_at", ts).Error
}

func requestWithURLParam(method, target, key, value string) *http.Request {
	httpReq := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return httpReq.WithContext(context.WithValue(httpReq.Context(), chi.RouteCtxKey, rctx))
}

func TestGet_UnknownUpload_ReturnsNotFound(t *testing.T) {
	handler, _, _, _ := newTestTransactionsHandler(t)

	req := requestWithURLParam(http.MethodGet, "/transactions/uploads/missing", "uploadID", "missing")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGet_KnownUpload_ReturnsIt(t *testing.T) {
	handler, uploadsStore, _, _ := newTestTransactionsHandler(t)
	ctx := req(t).Context()

	upload, err := uploadsStore.RecordPending(ctx, "file.txt", "hash-1", 800, "path/file")
	require.NoError(t, err)

	req := requestWithURLParam(http.MethodGet, "/transactions/uploads/"+upload.ID, "uploadID", upload.ID)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestResume_IncompleteUpload_Enqueues(t *testing.T) {
	handler, uploadsStore, q, _ := newTestTransactionsHandler(t)
	ctx := req(t).Context()

	upload, err := uploadsStore.RecordPending(ctx, "file.txt", "hash-1", 800, "path/file")
	require.NoError(t, err)

	httpReq := requestWithURLParam(http.MethodPost, "/transactions/uploads/"+upload.ID+"/resume", "uploadID", upload.ID)
	w := httptest.NewRecorder()

	handler.Resume(w, httpReq)

	assert.Equal(t, http.StatusOK, w.Code)
	stats, err := q.Stats(ctx, "uploads")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestResume_CompleteUpload_RejectsWithBadRequest(t *testing.T) {
	handler, uploadsStore, _, _ := newTestTransactionsHandler(t)
	ctx := req(t).Context()

	upload, err := uploadsStore.RecordPending(ctx, "file.txt", "hash-1", 800, "path/file")
	require.NoError(t, err)
	require.NoError(t, uploadsStore.SetTotalLineCount(ctx, upload.ID, 10))
	require.NoError(t, uploadsStore.UpdateProcessingResult(ctx, upload.ID, 10, 0, 0))

	httpReq := requestWithURLParam(http.MethodPost, "/transactions/uploads/"+upload.ID+"/resume", "uploadID", upload.ID)
	w := httptest.NewRecorder()

	handler.Resume(w, httpReq)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResume_UnknownUpload_ReturnsNotFound(t *testing.T) {
	handler, _, _, _ := newTestTransactionsHandler(t)

	httpReq := requestWithURLParam(http.MethodPost, "/transactions/uploads/missing/resume", "uploadID", "missing")
	w := httptest.NewRecorder()

	handler.Resume(w, httpReq)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestList_ReturnsAllUploads(t *testing.T) {
	handler, uploadsStore, _, _ := newTestTransactionsHandler(t)
	ctx := req(t).Context()

	_, err := uploadsStore.RecordPending(ctx, "a.txt", "hash-a", 800, "path/a")
	require.NoError(t, err)
	_, err = uploadsStore.RecordPending(ctx, "b.txt", "hash-b", 800, "path/b")
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodGet, "/transactions/uploads", nil)
	w := httptest.NewRecorder()

	handler.List(w, httpReq)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["total"])
}

func TestClearAll_TruncatesBothTables(t *testing.T) {
	handler, uploadsStore, _, _ := newTestTransactionsHandler(t)
	ctx := req(t).Context()

	_, err := uploadsStore.RecordPending(ctx, "a.txt", "hash-a", 800, "path/a")
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodDelete, "/transactions", nil)
	w := httptest.NewRecorder()

	handler.ClearAll(w, httpReq)

	assert.Equal(t, http.StatusOK, w.Code)
	_, total, err := uploadsStore.List(ctx, "", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestIncomplete_ListsOnlyStaleProcessingUploads(t *testing.T) {
	handler, uploadsStore, _, db := newTestTransactionsHandler(t)
	ctx := req(t).Context()

	stuck, err := uploadsStore.RecordPending(ctx, "a.txt", "hash-a", 800, "path/a")
	require.NoError(t, err)
	require.NoError(t, uploadsStore.UpdateProcessingStatus(ctx, stuck.ID, models.StatusProcessing, 0))
	require.NoError(t, backdateProcessingStartedAt(db, ctx, stuck.ID, time.Now().UTC().Add(-time.Hour)))

	fresh, err := uploadsStore.RecordPending(ctx, "c.txt", "hash-c", 800, "path/c")
	require.NoError(t, err)
	require.NoError(t, uploadsStore.UpdateProcessingStatus(ctx, fresh.ID, models.StatusProcessing, 0))

	done, err := uploadsStore.RecordPending(ctx, "b.txt", "hash-b", 800, "path/b")
	require.NoError(t, err)
	require.NoError(t, uploadsStore.SetTotalLineCount(ctx, done.ID, 1))
	require.NoError(t, uploadsStore.UpdateProcessingStatus(ctx, done.ID, models.StatusProcessing, 0))
	require.NoError(t, uploadsStore.UpdateProcessingResult(ctx, done.ID, 1, 0, 0))

	httpReq := httptest.NewRequest(http.MethodGet, "/transactions/uploads/incomplete?timeoutMinutes=30", nil)
	w := httptest.NewRecorder()

	handler.Incomplete(w, httpReq)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	rows, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, rows, 1, "only the stale, still-processing upload should be reported")
	row, ok := rows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, stuck.ID, row["ID"])
}

func req(t *testing.T) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "/", nil)
}
