// Package httpapi is the REST gateway that exposes every resource in spec
// §6 over gorilla/mux: flat HandleFunc route tables grouped by resource
// under an API subrouter, adapted from cmd/gateway/main.go's
// registerRoutes/middleware layering. Authentication and multi-tenant
// identity resolution are out of scope (spec Non-goals); OwnerResolver is
// the seam a real deployment plugs auth into, mirroring how the teacher's
// gateway resolves "X-User-ID" ahead of every handler.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/tylern4/balsam/pkg/apperrors"
)

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError maps err to its ServiceError status and body (spec §7) and
// writes it. Errors not produced by pkg/apperrors default to 500.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), apperrors.ToBody(err))
}

// decodeJSON decodes the request body into v, writing a ValidationError
// response and returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperrors.ValidationError("malformed request body: "+err.Error()))
		return false
	}
	return true
}

// listEnvelope is the {count, results} shape every collection GET returns
// (spec §4.1).
type listEnvelope struct {
	Count   int64       `json:"count"`
	Results interface{} `json:"results"`
}
