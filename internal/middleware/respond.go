package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/resflow/toolplane/internal/domain"
)

// errorBody mirrors the failure half of the execution response envelope
// so middleware rejections look the same as pipeline rejections.
type errorBody struct {
	OK    bool          `json:"ok"`
	Error *domain.Error `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err *domain.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{OK: false, Error: err})
}
