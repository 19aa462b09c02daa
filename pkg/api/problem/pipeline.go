package problem

import (
	"errors"
	"net/http"

	"github.com/marmos91/cnabflow/pkg/pipeline"
)

// WritePipelineError maps a pkg/pipeline.Error to its RFC 7807 response per
// spec.md §7's error taxonomy. Unclassified errors fall through to 500.
func WritePipelineError(w http.ResponseWriter, err error) {
	var pErr *pipeline.Error
	if !errors.As(err, &pErr) {
		InternalServerError(w, err.Error())
		return
	}

	switch pErr.Kind {
	case pipeline.KindInvalidRequest:
		BadRequest(w, pErr.Message)
	case pipeline.KindPayloadTooLarge:
		PayloadTooLarge(w, pErr.Message)
	case pipeline.KindUnsupportedMediaType:
		UnsupportedMediaType(w, pErr.Message)
	case pipeline.KindDuplicateFile:
		Conflict(w, pErr.Message, pErr.ExistingUpload)
	case pipeline.KindUnprocessableContent:
		UnprocessableEntity(w, pErr.Message)
	case pipeline.KindStorageFailure:
		ServiceUnavailable(w, pErr.Message)
	case pipeline.KindQueueFailure:
		ServiceUnavailable(w, pErr.Message)
	case pipeline.KindTransientStateError:
		ServiceUnavailable(w, pErr.Message)
	default:
		InternalServerError(w, pErr.Message)
	}
}
