package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the `{"error": "<message>"}` envelope every non-2xx
// response carries, per spec.md §6.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeInternalError logs the real error but never leaks its detail to
// the client, per spec.md §7's API-layer propagation policy.
func (s *Service) writeInternalError(w http.ResponseWriter, route string, err error) {
	s.logger.Error("api: unexpected error", zap.String("route", route), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
