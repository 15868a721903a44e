package web

// errors.go maps the export domain's error kinds to JSON HTTP responses.
//
// The flow:
//  1. A handler calls respondError(w, r, err).
//  2. core.StatusFor classifies err into a status code; core.Message renders
//     a client-safe message (hiding internals behind a generic string for
//     programmer errors).
//  3. The technical error is logged server-side with the request id for
//     correlation; only the sanitized message reaches the client.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/TUI/internal/core"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// respondError logs the technical error and writes a sanitized JSON body
// with the status core.StatusFor(err) assigns it.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := core.StatusFor(err)
	message := core.Message(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeError(w, status, message)
}

// writeError writes a JSON {"error": message} body with the given status.
// Use this directly only for responses that are not classified through a
// core error kind (e.g. rate limiting).
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: message})
}

// writeJSON encodes v as JSON with a 200 status.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// writeJSONStatus encodes v as JSON with the given status.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
