// Package transactions implements C5, the transaction store: staging one
// parsed CNAB record inside a caller-supplied unit of work, and the
// administrative truncation path.
package transactions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marmos91/cnabflow/pkg/cnab"
	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/dberrors"
	"github.com/marmos91/cnabflow/pkg/store/models"
)

// Store owns the Transaction table.
type Store struct {
	db *store.DB
}

// New returns a Store bound to db.
func New(db *store.DB) *Store {
	return &Store{db: db}
}

// ErrDuplicate is returned by AddToUnit when the idempotency key already
// exists; callers treat this as a Skipped outcome rather than a failure.
var ErrDuplicate = errors.New("transaction already recorded for this idempotency key")

// AddToUnit stages a Transaction insert on tx, the caller's open unit of
// work, so it commits atomically with the line-hash record staged by C4.
// Returns the ErrDuplicate sentinel itself on a unique-key collision on
// IdempotencyKey.
func (s *Store) AddToUnit(tx *gorm.DB, uploadID string, record *cnab.Transaction, idempotencyKey string) (*models.Transaction, error) {
	row := &models.Transaction{
		ID:             uuid.NewString(),
		FileUploadID:   uploadID,
		BankCode:       record.BankCode,
		NatureCode:     record.NatureCode,
		CPF:            record.CPF,
		Amount:         record.Amount,
		Card:           record.Card,
		StoreOwner:     record.StoreOwner,
		StoreName:      record.StoreName,
		Date:           record.Date,
		Time:           record.Time,
		CreatedAt:      record.CreatedAt,
		IdempotencyKey: idempotencyKey,
	}

	if err := tx.Create(row).Error; err != nil {
		translated := dberrors.Translate(err, "transactions.AddToUnit")
		if dberrors.IsAlreadyExists(translated) {
			return nil, ErrDuplicate
		}
		return nil, translated
	}
	return row, nil
}

// Get fetches a single transaction by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var row models.Transaction
	if err := s.db.Conn.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, dberrors.Translate(err, "transactions.Get")
	}
	return &row, nil
}

// ListByUpload returns the transactions recorded for one upload, ordered by
// creation time.
func (s *Store) ListByUpload(ctx context.Context, uploadID string) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.Conn.WithContext(ctx).
		Where("file_upload_id = ?", uploadID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, dberrors.Translate(err, "transactions.ListByUpload")
	}
	return rows, nil
}

// ClearAll truncates the Transaction table; administrative truncation path
// for DELETE /transactions.
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.db.Conn.WithContext(ctx).Where("1 = 1").Delete(&models.Transaction{}).Error
	return dberrors.Translate(err, "transactions.ClearAll")
}
