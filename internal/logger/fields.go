package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the ingestion pipeline.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Correlation
	// ========================================================================
	KeyTraceID   = "trace_id"  // correlation id for a request or worker attempt
	KeyComponent = "component" // intake, worker, sweeper, api, store, etc.

	// ========================================================================
	// Upload / line processing
	// ========================================================================
	KeyUploadID     = "upload_id"
	KeyFileHash     = "file_hash"
	KeyStoragePath  = "storage_path"
	KeyLineIndex    = "line_index"
	KeyLineHash     = "line_hash"
	KeyTotalLines   = "total_lines"
	KeyProcessed    = "processed"
	KeyFailed       = "failed"
	KeySkipped      = "skipped"
	KeyCheckpoint   = "checkpoint_line"
	KeyUploadStatus = "upload_status"

	// ========================================================================
	// Queue / consumer groups
	// ========================================================================
	KeyQueueGroup = "queue_group"
	KeyConsumerID = "consumer_id"
	KeyMessageID  = "message_id"
	KeyDLQReason  = "dlq_reason"

	// ========================================================================
	// Distributed lock
	// ========================================================================
	KeyLockKey   = "lock_key"
	KeyLockOwner = "lock_owner"
	KeyLockTTL   = "lock_ttl_seconds"

	// ========================================================================
	// Retry / backoff
	// ========================================================================
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyDelayMs    = "delay_ms"

	// ========================================================================
	// Object storage
	// ========================================================================
	KeyBucket = "bucket"
	KeyKey    = "key"
	KeyRegion = "region"
	KeySize   = "size_bytes"

	// ========================================================================
	// HTTP / client
	// ========================================================================
	KeyClientIP   = "client_ip"
	KeyRequestID  = "request_id"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatusCode = "status_code"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// TraceID returns a slog.Attr for a correlation id.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// Component returns a slog.Attr for the emitting component.
func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }

// UploadID returns a slog.Attr for the upload identifier.
func UploadID(id string) slog.Attr { return slog.String(KeyUploadID, id) }

// FileHash returns a slog.Attr for the file fingerprint.
func FileHash(hash string) slog.Attr { return slog.String(KeyFileHash, hash) }

// StoragePath returns a slog.Attr for the object-store key.
func StoragePath(path string) slog.Attr { return slog.String(KeyStoragePath, path) }

// LineIndex returns a slog.Attr for the 0-based line index.
func LineIndex(idx int) slog.Attr { return slog.Int(KeyLineIndex, idx) }

// LineHash returns a slog.Attr for a line fingerprint.
func LineHash(hash string) slog.Attr { return slog.String(KeyLineHash, hash) }

// TotalLines returns a slog.Attr for the total line count of an upload.
func TotalLines(n int) slog.Attr { return slog.Int(KeyTotalLines, n) }

// Processed returns a slog.Attr for the processed line count.
func Processed(n int) slog.Attr { return slog.Int(KeyProcessed, n) }

// Failed returns a slog.Attr for the failed line count.
func Failed(n int) slog.Attr { return slog.Int(KeyFailed, n) }

// Skipped returns a slog.Attr for the skipped line count.
func Skipped(n int) slog.Attr { return slog.Int(KeySkipped, n) }

// Checkpoint returns a slog.Attr for the last checkpointed line index.
func Checkpoint(line int) slog.Attr { return slog.Int(KeyCheckpoint, line) }

// UploadStatus returns a slog.Attr for the upload's status.
func UploadStatus(status string) slog.Attr { return slog.String(KeyUploadStatus, status) }

// QueueGroup returns a slog.Attr for the consumer group name.
func QueueGroup(name string) slog.Attr { return slog.String(KeyQueueGroup, name) }

// ConsumerID returns a slog.Attr for the consumer identifier.
func ConsumerID(id string) slog.Attr { return slog.String(KeyConsumerID, id) }

// MessageID returns a slog.Attr for the queue message identifier.
func MessageID(id string) slog.Attr { return slog.String(KeyMessageID, id) }

// DLQReason returns a slog.Attr for the dead-letter reason.
func DLQReason(reason string) slog.Attr { return slog.String(KeyDLQReason, reason) }

// LockKey returns a slog.Attr for the distributed lock key.
func LockKey(key string) slog.Attr { return slog.String(KeyLockKey, key) }

// LockOwner returns a slog.Attr for the lock owner nonce.
func LockOwner(owner string) slog.Attr { return slog.String(KeyLockOwner, owner) }

// LockTTL returns a slog.Attr for the lock TTL in seconds.
func LockTTL(seconds int) slog.Attr { return slog.Int(KeyLockTTL, seconds) }

// Attempt returns a slog.Attr for the retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns a slog.Attr for the maximum retry budget.
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// DelayMs returns a slog.Attr for a computed backoff delay.
func DelayMs(ms int64) slog.Attr { return slog.Int64(KeyDelayMs, ms) }

// Bucket returns a slog.Attr for the object-store bucket name.
func Bucket(name string) slog.Attr { return slog.String(KeyBucket, name) }

// Key returns a slog.Attr for an object-store key.
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }

// Region returns a slog.Attr for the object-store region.
func Region(r string) slog.Attr { return slog.String(KeyRegion, r) }

// Size returns a slog.Attr for a byte size.
func Size(n int64) slog.Attr { return slog.Int64(KeySize, n) }

// ClientIP returns a slog.Attr for the client IP address.
func ClientIP(addr string) slog.Attr { return slog.String(KeyClientIP, addr) }

// RequestID returns a slog.Attr for the HTTP request id.
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// Method returns a slog.Attr for the HTTP method.
func Method(m string) slog.Attr { return slog.String(KeyMethod, m) }

// Path returns a slog.Attr for the HTTP request path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// StatusCode returns a slog.Attr for the HTTP response status code.
func StatusCode(code int) slog.Attr { return slog.Int(KeyStatusCode, code) }

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
