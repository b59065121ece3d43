package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteErrorResponse writes a prepared error payload
func WriteErrorResponse(w http.ResponseWriter, status int, payload auth.ErrorResponse) {
	WriteJSON(w, status, payload)
}

// WriteError maps err through the auth error taxonomy and writes the payload
func WriteError(w http.ResponseWriter, err error) {
	status, payload := auth.ToErrorResponse(err)
	WriteErrorResponse(w, status, payload)
}

// WriteBadRequest writes a 400 with code KEY_001
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusBadRequest,
		auth.NewErrorResponse(auth.KindBadRequest, message, auth.CodeInvalidRequest))
}

// WriteServiceUnavailable writes a 503 with code STORE_001
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusServiceUnavailable,
		auth.NewErrorResponse(auth.KindServiceUnavailable, message, auth.CodeStoreUnavailable))
}

// WriteInternalError writes a generic 500
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError,
		auth.NewErrorResponse(auth.KindInternal, "Internal server error", auth.CodeInternal))
}
