package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/machine-allocator/internal/machine"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeResult writes an engine result with the HTTP status its code maps to.
func writeResult(w http.ResponseWriter, res machine.Result) {
	writeJSON(w, res.StatusCode.HTTPStatus(), res)
}

// writeAuthorizationError writes a rejected-token response. Any other
// error is reported as an internal error result.
func writeAuthorizationError(w http.ResponseWriter, err error) {
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		writeJSON(w, http.StatusUnauthorized, authErr)
		return
	}
	writeResult(w, machine.InternalError())
}
