package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/transactions"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
)

// buildLine assembles an 80-byte CNAB line from its positional fields,
// padding text fields with spaces exactly as the wire format requires.
func buildLine(nature, date, amountCents, cpf, card, clock, storeOwner, storeName string) []byte {
	pad := func(s string, n int) string {
		if len(s) > n {
			return s[:n]
		}
		for len(s) < n {
			s += " "
		}
		return s
	}
	line := nature + date + amountCents + pad(cpf, 11) + pad(card, 12) + clock + pad(storeOwner, 14) + pad(storeName, 18)
	return []byte(line)
}

func validLine() []byte {
	return buildLine("1", "20190115", "0000010000", "11111111111", "", "120000", "", "")
}

func newTestProcessor(t *testing.T) (*Processor, *uploads.Tracker, *transactions.Store) {
	t.Helper()
	db, err := store.Open(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "pipeline.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	uploadsStore := uploads.New(db)
	txStore := transactions.New(db)
	processor := NewProcessor(db, uploadsStore, txStore, 3, 1)
	return processor, uploadsStore, txStore
}

func TestProcess_ValidLine_Success(t *testing.T) {
	processor, _, txStore := newTestProcessor(t)
	ctx := context.Background()

	outcome := processor.Process(ctx, "upload-1", "filehash-1", 0, validLine())
	assert.Equal(t, OutcomeSuccess, outcome)

	rows, err := txStore.ListByUpload(ctx, "upload-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "filehash-1:0", rows[0].IdempotencyKey)
}

func TestProcess_ShortLine_Failed(t *testing.T) {
	processor, _, _ := newTestProcessor(t)
	ctx := context.Background()

	outcome := processor.Process(ctx, "upload-1", "filehash-1", 0, []byte("too short"))
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestProcess_RepeatedLineHash_Skipped(t *testing.T) {
	processor, _, txStore := newTestProcessor(t)
	ctx := context.Background()

	line := validLine()
	first := processor.Process(ctx, "upload-1", "filehash-1", 0, line)
	require.Equal(t, OutcomeSuccess, first)

	// Same bytes re-enqueued at a different line index: the line-hash
	// pre-check fires before the idempotency key is even computed.
	second := processor.Process(ctx, "upload-1", "filehash-1", 7, line)
	assert.Equal(t, OutcomeSkipped, second)

	rows, err := txStore.ListByUpload(ctx, "upload-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "no second transaction should be inserted for a re-enqueued duplicate line")
}

func TestProcess_SameIdempotencyKeyTwice_SkippedByBackstop(t *testing.T) {
	// idempotencyKeyFor depends only on (fileHash, lineIndex), so two distinct
	// lines sharing both collide on the key and must hit the unique-constraint
	// backstop in AddToUnit rather than the line-hash pre-check.
	processor, _, txStore := newTestProcessor(t)
	ctx := context.Background()

	lineA := buildLine("1", "20190115", "0000010000", "11111111111", "", "120000", "", "")
	lineB := buildLine("2", "20190116", "0000020000", "22222222222", "", "130000", "", "")

	first := processor.Process(ctx, "upload-1", "shared-hash", 0, lineA)
	require.Equal(t, OutcomeSuccess, first)

	second := processor.Process(ctx, "upload-1", "shared-hash", 0, lineB)
	assert.Equal(t, OutcomeSkipped, second)

	rows, err := txStore.ListByUpload(ctx, "upload-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "idempotency key collision must not produce a second row")
}

func TestIdempotencyKeyFor_Form(t *testing.T) {
	assert.Equal(t, "abc123:42", idempotencyKeyFor("abc123", 42))
}

func TestShouldSave(t *testing.T) {
	cases := []struct {
		total, interval int
		want            bool
	}{
		{0, 100, false},
		{99, 100, false},
		{100, 100, true},
		{200, 100, true},
		{150, 100, false},
		{5, 0, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ShouldSave(c.total, c.interval), "total=%d interval=%d", c.total, c.interval)
	}
}
