// internal/api/respond.go
//
// JSON response helpers plus the fault-class → HTTP status mapping used
// by every handler in this package.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/siteloom/loom/internal/fault"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFault maps a classified error onto an HTTP status.  Unclassified
// errors are treated as internal and their detail is withheld from the
// client.
func writeFault(w http.ResponseWriter, err error) {
	switch fault.Class(err) {
	case fault.NotFound, fault.NotPublished:
		writeError(w, http.StatusNotFound, err.Error())
	case fault.Conflict:
		writeError(w, http.StatusConflict, err.Error())
	case fault.Validation:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case fault.Timeout:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
