package middleware

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v with the given status. Encoding failures are ignored;
// headers are already on the wire by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the uniform error envelope. msg must already be safe to
// show: generic for auth/server faults, field-level only for validation.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
