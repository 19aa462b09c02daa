package recovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/lock"
	"github.com/marmos91/cnabflow/pkg/store/models"
	"github.com/marmos91/cnabflow/pkg/store/queue"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

type testRig struct {
	sweeper      *Sweeper
	uploadsStore *uploads.Tracker
	locker       *lock.Locker
	queue        *queue.Queue
	db           *store.DB
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	db, err := store.Open(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "recovery.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	uploadsStore := uploads.New(db)
	locker := lock.New(db)
	q := queue.New(db)

	return &testRig{
		sweeper:      New(cfg, uploadsStore, locker, q),
		uploadsStore: uploadsStore,
		locker:       locker,
		queue:        q,
		db:           db,
	}
}

// backdateProcessingStartedAt rewrites ProcessingStartedAt directly, since
// that timestamp is only ever set once (by UpdateProcessingStatus) and
// production code never moves it backward.
func backdateProcessingStartedAt(r *testRig, ctx context.Context, uploadID string, ts time.Time) error {
	return r.db.Conn.WithContext(ctx).
		Model(&models.FileUpload{}).
		Where("id = ?", uploadID).
		Update("processing_started_at", ts).Error
}

func TestSweep_StaleUntouchedUpload_ReEnqueues(t *testing.T) {
	r := newTestRig(t, Config{TimeoutMinutes: 30, QueueGroupName: "uploads"})
	ctx := context.Background()

	upload, err := r.uploadsStore.RecordPending(ctx, "file.txt", "hash-1", 800, "path/file")
	require.NoError(t, err)
	require.NoError(t, r.uploadsStore.UpdateProcessingStatus(ctx, upload.ID, models.StatusProcessing, 0))
	require.NoError(t, backdateProcessingStartedAt(r, ctx, upload.ID, time.Now().UTC().Add(-time.Hour)))

	r.sweeper.sweep(ctx)

	stats, err := r.queue.Stats(ctx, "uploads")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending, "a stale, unlocked, uncheckpointed upload must be re-enqueued")
}

func TestSweep_LockedUpload_IsSkipped(t *testing.T) {
	r := newTestRig(t, Config{TimeoutMinutes: 30, QueueGroupName: "uploads"})
	ctx := context.Background()

	upload, err := r.uploadsStore.RecordPending(ctx, "file.txt", "hash-1", 800, "path/file")
	require.NoError(t, err)
	require.NoError(t, r.uploadsStore.UpdateProcessingStatus(ctx, upload.ID, models.StatusProcessing, 0))
	require.NoError(t, backdateProcessingStartedAt(r, ctx, upload.ID, time.Now().UTC().Add(-time.Hour)))

	require.NoError(t, r.locker.Acquire(ctx, "upload:processing:"+upload.ID, "some-worker", time.Minute))

	r.sweeper.sweep(ctx)

	stats, err := r.queue.Stats(ctx, "uploads")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending, "an upload whose lock is still held must not be re-enqueued")
}

func TestSweep_RecentCheckpoint_IsSkipped(t *testing.T) {
	r := newTestRig(t, Config{TimeoutMinutes: 30, QueueGroupName: "uploads"})
	ctx := context.Background()

	upload, err := r.uploadsStore.RecordPending(ctx, "file.txt", "hash-1", 800, "path/file")
	require.NoError(t, err)
	require.NoError(t, r.uploadsStore.UpdateProcessingStatus(ctx, upload.ID, models.StatusProcessing, 0))
	require.NoError(t, backdateProcessingStartedAt(r, ctx, upload.ID, time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, r.uploadsStore.UpdateCheckpoint(ctx, upload.ID, 10, 10, 0, 0))

	r.sweeper.sweep(ctx)

	stats, err := r.queue.Stats(ctx, "uploads")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending, "an upload still checkpointing recently must not be treated as stuck")
}

func TestSweep_NoIncompleteUploads_NoOp(t *testing.T) {
	r := newTestRig(t, Config{TimeoutMinutes: 30, QueueGroupName: "uploads"})
	ctx := context.Background()

	r.sweeper.sweep(ctx)

	stats, err := r.queue.Stats(ctx, "uploads")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
}
