package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/resflow/toolplane/internal/domain"
)

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

type errorBody struct {
	OK    bool          `json:"ok"`
	Error *domain.Error `json:"error"`
}

// writeCoded maps a coded error onto its HTTP status and writes the
// standard error body. Uncoded errors normalize to INTERNAL_ERROR.
func writeCoded(w http.ResponseWriter, err error) {
	coded := domain.AsError(err)
	writeJSON(w, statusFor(coded.Code), errorBody{Error: coded})
}

// statusFor is the single place the code taxonomy maps to HTTP statuses.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeAuthFailed:
		return http.StatusUnauthorized
	case domain.CodeForbidden, domain.CodeToolNotAllowed:
		return http.StatusForbidden
	case domain.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.CodeInvalidBody, domain.CodeValidationError, domain.CodeArgsValidation:
		return http.StatusBadRequest
	case domain.CodeToolNotInRegistry, domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeRequestInProgress, domain.CodeInvalidTransition,
		domain.CodeRequestExpired, domain.CodeIntegrityError:
		return http.StatusConflict
	case domain.CodeExecutionError:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
