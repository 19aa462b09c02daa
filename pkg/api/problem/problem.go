// Package problem writes RFC 7807 "problem details" HTTP responses, the
// error format spec.md §6 mandates for the core's HTTP surface.
package problem

import (
	"encoding/json"
	"net/http"
)

// Problem represents an RFC 7807 problem details response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Extension members, per RFC 7807 §3.2. Used for DuplicateFile's
	// existing-upload reference.
	Extensions map[string]any `json:"-"`
}

// ContentType is the media type for problem responses.
const ContentType = "application/problem+json"

// Write writes an RFC 7807 problem response.
func Write(w http.ResponseWriter, status int, title, detail string) {
	WriteWithExtensions(w, status, title, detail, nil)
}

// WriteWithExtensions writes a problem response carrying extension members
// alongside the standard RFC 7807 fields.
func WriteWithExtensions(w http.ResponseWriter, status int, title, detail string, ext map[string]any) {
	p := Problem{Type: "about:blank", Title: title, Status: status, Detail: detail}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)

	if len(ext) == 0 {
		_ = json.NewEncoder(w).Encode(p)
		return
	}

	body := map[string]any{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
	}
	if p.Detail != "" {
		body["detail"] = p.Detail
	}
	for k, v := range ext {
		body[k] = v
	}
	_ = json.NewEncoder(w).Encode(body)
}

// BadRequest writes a 400 Bad Request problem.
func BadRequest(w http.ResponseWriter, detail string) { Write(w, http.StatusBadRequest, "Bad Request", detail) }

// Conflict writes a 409 Conflict problem, optionally referencing an existing resource id.
func Conflict(w http.ResponseWriter, detail, existingUploadID string) {
	if existingUploadID == "" {
		Write(w, http.StatusConflict, "Conflict", detail)
		return
	}
	WriteWithExtensions(w, http.StatusConflict, "Conflict", detail, map[string]any{"existingUploadId": existingUploadID})
}

// PayloadTooLarge writes a 413 Payload Too Large problem.
func PayloadTooLarge(w http.ResponseWriter, detail string) {
	Write(w, http.StatusRequestEntityTooLarge, "Payload Too Large", detail)
}

// UnsupportedMediaType writes a 415 Unsupported Media Type problem.
func UnsupportedMediaType(w http.ResponseWriter, detail string) {
	Write(w, http.StatusUnsupportedMediaType, "Unsupported Media Type", detail)
}

// UnprocessableEntity writes a 422 Unprocessable Entity problem.
func UnprocessableEntity(w http.ResponseWriter, detail string) {
	Write(w, http.StatusUnprocessableEntity, "Unprocessable Entity", detail)
}

// NotFound writes a 404 Not Found problem.
func NotFound(w http.ResponseWriter, detail string) { Write(w, http.StatusNotFound, "Not Found", detail) }

// ServiceUnavailable writes a 503 Service Unavailable problem.
func ServiceUnavailable(w http.ResponseWriter, detail string) {
	Write(w, http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// InternalServerError writes a 500 Internal Server Error problem.
func InternalServerError(w http.ResponseWriter, detail string) {
	Write(w, http.StatusInternalServerError, "Internal Server Error", detail)
}
