package intake

import "github.com/google/uuid"

// randomToken returns a short random token for storage-path uniqueness.
func randomToken() string {
	id := uuid.NewString()
	return id[:8]
}
