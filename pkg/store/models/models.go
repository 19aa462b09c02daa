// Package models defines the GORM row types owned by the pipeline's store
// packages. No component outside pkg/store constructs these directly;
// consumers use the typed operations exposed by uploads, transactions,
// queue, and lock.
package models

import "time"

// UploadStatus is the state machine of a FileUpload row, per spec.
type UploadStatus string

const (
	StatusPending            UploadStatus = "pending"
	StatusProcessing         UploadStatus = "processing"
	StatusSuccess            UploadStatus = "success"
	StatusFailed             UploadStatus = "failed"
	StatusDuplicate          UploadStatus = "duplicate"
	StatusPartiallyCompleted UploadStatus = "partially_completed"
)

// FileUpload tracks one ingested CNAB file end to end. Owned exclusively by
// pkg/store/uploads.
type FileUpload struct {
	ID                    string `gorm:"primaryKey;size:36"`
	FileHash              string `gorm:"uniqueIndex;size:44;not null"` // base64(sha256)
	FileName              string `gorm:"size:255;not null"`
	FileSize              int64  `gorm:"not null"`
	StoragePath           string `gorm:"size:255"`
	Status                UploadStatus `gorm:"size:32;not null;index"`
	TotalLineCount        int
	ProcessedLineCount    int
	FailedLineCount       int
	SkippedLineCount      int
	LastCheckpointLine    int
	LastCheckpointAt      *time.Time
	UploadedAt            time.Time `gorm:"not null"`
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	RetryCount            int
	ErrorMessage          string `gorm:"size:2048"`
}

// FileUploadLineHash enforces line-level dedup across uploads. Owned
// exclusively by pkg/store/uploads; never updated once inserted.
type FileUploadLineHash struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	FileUploadID string `gorm:"size:36;not null;index"`
	LineHash     string `gorm:"uniqueIndex;size:64;not null"`
	LineContent  string `gorm:"type:text"`
	ProcessedAt  time.Time `gorm:"not null"`
}

// Transaction is a parsed CNAB record. Owned exclusively by
// pkg/store/transactions.
type Transaction struct {
	ID             string  `gorm:"primaryKey;size:36"`
	FileUploadID   string  `gorm:"size:36;not null;index"`
	BankCode       string  `gorm:"size:1"`
	NatureCode     int     `gorm:"not null"`
	CPF            string  `gorm:"size:11"`
	Amount         float64 `gorm:"not null"`
	Card           string  `gorm:"size:12"`
	StoreOwner     string  `gorm:"size:14"`
	StoreName      string  `gorm:"size:18"`
	Date           time.Time
	Time           time.Time
	CreatedAt      time.Time `gorm:"not null"`
	IdempotencyKey string    `gorm:"uniqueIndex;size:80;not null"`
}

// QueueMessageStatus tracks a message's lifecycle within a consumer group.
type QueueMessageStatus string

const (
	MessagePending QueueMessageStatus = "pending"
	MessageAcked   QueueMessageStatus = "acked"
)

// QueueMessage is a durable entry in the ingestion stream, consumed by
// consumer group. Owned exclusively by pkg/store/queue.
type QueueMessage struct {
	ID          string             `gorm:"primaryKey;size:36"`
	GroupName   string             `gorm:"size:128;not null;index:idx_group_status"`
	UploadID    string             `gorm:"size:36;not null;index"`
	StoragePath string             `gorm:"size:255;not null"`
	EnqueuedAt  time.Time          `gorm:"not null"`
	RetryCount  int
	Status      QueueMessageStatus `gorm:"size:16;not null;index:idx_group_status"`
	ConsumerID  string             `gorm:"size:128"`
	// ClaimedAt is when a consumer last claimed this still-pending message.
	// Null means unclaimed. A claim is only visible to its own consumer
	// until ClaimedAt ages past the queue's visibility timeout, at which
	// point it is treated as abandoned and reclaimable again — this is what
	// keeps concurrent consumers' claims disjoint without ever changing
	// Status away from pending before ack.
	ClaimedAt *time.Time
}

// DLQMessage is a dead-lettered message: a QueueMessage that exhausted its
// message-level retry budget. Owned exclusively by pkg/store/queue.
type DLQMessage struct {
	ID                string `gorm:"primaryKey;size:36"`
	OriginalMessageID string `gorm:"size:36;not null"`
	UploadID          string `gorm:"size:36;not null;index"`
	StoragePath       string `gorm:"size:255;not null"`
	Reason            string `gorm:"size:1024"`
	RetryCount        int
	LastAttemptAt     time.Time `gorm:"not null"`
}

// DistributedLock is an owner-keyed, TTL-bounded mutual exclusion row. Owned
// exclusively by pkg/store/lock.
type DistributedLock struct {
	LockKey   string `gorm:"primaryKey;size:255"`
	Owner     string `gorm:"size:128;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// AllModels returns every row type the pipeline owns, for AutoMigrate.
func AllModels() []any {
	return []any{
		&FileUpload{},
		&FileUploadLineHash{},
		&Transaction{},
		&QueueMessage{},
		&DLQMessage{},
		&DistributedLock{},
	}
}
