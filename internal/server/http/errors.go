package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quillmq/quill/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the storage error taxonomy onto status codes. A conflict
// is reported as 503 with the committed ids so clients can avoid reposting
// the prefix.
func writeError(w http.ResponseWriter, err error) {
	var conflict *storage.ConflictError
	var invalid *storage.ValidationError
	switch {
	case errors.Is(err, storage.ErrQueueDoesNotExist),
		errors.Is(err, storage.ErrMessageDoesNotExist),
		errors.Is(err, storage.ErrClaimDoesNotExist):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, storage.ErrNotPermitted):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": invalid.Error(),
			"field": invalid.Field,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":     conflict.Error(),
			"partial":   true,
			"succeeded": conflict.Succeeded,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
