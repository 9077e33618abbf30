package httpapi

import (
	"encoding/json"
	"net/http"

	"vramd/internal/manager"
	"vramd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload. state is omitted
// when empty.
func writeJSONError(w http.ResponseWriter, status int, msg string, state string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, State: state})
}

// statusFor maps manager errors to HTTP status codes. Loader failures and
// rejected transitions are client-visible 400s.
func statusFor(err error) int {
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsTransientIO(err):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		reqLog().Error().Err(err).Msg("encode response")
	}
}
