package server

import (
	"errors"
	"net/http"

	"github.com/memento-core/daemon/internal/diagnostics"
	"github.com/memento-core/daemon/internal/store"
)

// writeStoreErr translates a store-layer error into the HTTP response
// spec.md §7's taxonomy calls for: not_found -> 404, client_validation ->
// 400, most preconditions -> 409, the two batch-confirm preconditions ->
// 400 ("requires_confirm" in the §6 table), anything else -> 500 with the
// detail left for the error ring rather than the response body.
func writeStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if errors.Is(err, store.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}

	var coded *store.CodedError
	if errors.As(err, &coded) {
		body := map[string]interface{}{"error": coded.Message, "status": coded.Message}
		for k, v := range coded.Detail {
			body[jsonDetailKey(k)] = v
		}
		switch coded.Kind {
		case store.KindClientValidation:
			writeJSON(w, http.StatusBadRequest, body)
		case store.KindPrecondition:
			if coded.Message == "batch_threshold_requires_confirm" || coded.Message == "batch_confirm_invalid" {
				writeJSON(w, http.StatusBadRequest, body)
			} else {
				writeJSON(w, http.StatusConflict, body)
			}
		case store.KindNotFound:
			writeJSON(w, http.StatusNotFound, body)
		default:
			writeJSON(w, http.StatusInternalServerError, body)
		}
		return
	}

	writeError(w, http.StatusInternalServerError, "internal_error")
}

// jsonDetailKey renames a CodedError's detail keys to the camelCase the
// §6 table uses in its example bodies (current_version -> currentVersion).
func jsonDetailKey(k string) string {
	switch k {
	case "current_version":
		return "currentVersion"
	case "confirm_token":
		return "confirmToken"
	case "count":
		return "count"
	default:
		return k
	}
}

// diagErrEvent builds an ErrorEvent for the diagnostics ring from a
// handler-caught error, tagging it with the pipeline stage closest to
// where the failure surfaced.
func diagErrEvent(stage diagnostics.ErrorStage, err error, memoryID string) diagnostics.ErrorEvent {
	return diagnostics.ErrorEvent{Stage: stage, Message: err.Error(), MemoryID: memoryID}
}
