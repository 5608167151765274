// Package httputil provides JSON request/response helpers for HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/r3e-forge/conquest/internal/apierr"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into v. On failure it writes a
// 400 response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// WriteError writes a reason-coded error response.
func WriteError(w http.ResponseWriter, err error) {
	e := apierr.From(err)
	WriteJSON(w, e.HTTPStatus, errorResponse{Error: e.Message, Code: string(e.Code)})
}

// BadRequest writes a 400 response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: string(apierr.CodeInvalidRequest)})
}

// NotFound writes a 404 response with the given message.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusNotFound, errorResponse{Error: msg, Code: string(apierr.CodeNotFound)})
}

// InternalError writes a 500 response with the given message.
func InternalError(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: msg, Code: string(apierr.CodeInternal)})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
