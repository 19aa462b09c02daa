// Package pipeline implements C8 (checkpoint manager) and C9 (line
// processor), plus the shared error taxonomy the core emits.
package pipeline

import "fmt"

// Kind is the stable error taxonomy named in spec.md §7.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindUnsupportedMediaType Kind = "unsupported_media_type"
	KindDuplicateFile        Kind = "duplicate_file"
	KindUnprocessableContent Kind = "unprocessable_content"
	KindStorageFailure       Kind = "storage_failure"
	KindQueueFailure         Kind = "queue_failure"
	KindTransientStateError  Kind = "transient_state_error"
	KindInternalError        Kind = "internal_error"
)

// Error wraps a Kind-classified failure with an optional cause and, for
// DuplicateFile, the id of the upload that already holds the fingerprint.
type Error struct {
	Kind           Kind
	Message        string
	Cause          error
	ExistingUpload string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Duplicate constructs a DuplicateFile error referencing the colliding upload.
func Duplicate(existingUploadID string) *Error {
	return &Error{
		Kind:           KindDuplicateFile,
		Message:        "file already recorded",
		ExistingUpload: existingUploadID,
	}
}
