package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
)

// ErrorResponse is the body written for every failed request
type ErrorResponse struct {
	Success             bool     `json:"success"`
	Message             string   `json:"message"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	RequiredRoles       []string `json:"required_roles,omitempty"`
}

// SuccessResponse is the envelope for successful JSON responses
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes {success:false, message} with the given status
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// WriteAppError maps a classified error onto its status and body.
// Unclassified errors produce a generic 500 so internals never leak.
func WriteAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind == apperrors.KindInternal {
		WriteErrorMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, status, ErrorResponse{
		Success:             false,
		Message:             appErr.Message,
		RequiredPermissions: appErr.RequiredPermissions,
		RequiredRoles:       appErr.RequiredRoles,
	})
}

// WriteSuccess writes a successful response (200 OK) wrapping data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// WriteSuccessMessage writes a successful response with a message
func WriteSuccessMessage(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: message})
}

// WriteWarning writes a 200 response that carries a warning. Used where the
// caller must not redeliver but the outcome was not a clean success.
func WriteWarning(w http.ResponseWriter, warning string) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Warning: warning})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes an internal server error response
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusInternalServerError, message)
}
