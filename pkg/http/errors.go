package http

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in ErrorResponse.Error. Clients branch on these, never on Message.
const (
	CodeBadRequest       = "bad_request"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeRateLimited      = "rate_limit_exceeded"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
	CodeInvalidState     = "invalid_state"
	CodeNotApproved      = "not_approved"
	CodeEmailNotVerified = "email_not_verified"
	CodeInvalidCode      = "invalid_code"
	CodeInvalidToken     = "invalid_token"
	CodeTooManyAttempts  = "too_many_attempts"
	CodeWeakPassword     = "weak_password"
	CodeMissingReason    = "missing_reason"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // one of the Code constants
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // current registration status, or password rule failures
}

// WriteJSON writes v as the JSON body with the given status code. Responses may
// carry session tokens or an applicant's status, so no cache may keep them.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

func WriteUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, message)
}

// Registration workflow errors.

// WriteInvalidState reports a decision or action that no longer fits the
// request's status. current is the status the caller should now assume.
func WriteInvalidState(w http.ResponseWriter, message, current string) {
	WriteErrorWithDetails(w, http.StatusConflict, CodeInvalidState, message, current)
}

// WriteNotApproved reports a completion attempt on a request that is not APPROVED.
func WriteNotApproved(w http.ResponseWriter, message, status string) {
	WriteErrorWithDetails(w, http.StatusConflict, CodeNotApproved, message, status)
}

func WriteEmailNotVerified(w http.ResponseWriter) {
	WriteError(w, http.StatusConflict, CodeEmailNotVerified, "Verify your email address before completing registration")
}

func WriteInvalidCode(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, CodeInvalidCode, "Invalid or expired verification code")
}

func WriteInvalidToken(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, CodeInvalidToken, "Invalid or expired completion link")
}

func WriteTooManyAttempts(w http.ResponseWriter) {
	WriteError(w, http.StatusTooManyRequests, CodeTooManyAttempts, "Too many verification attempts. Request a new code.")
}

func WriteWeakPassword(w http.ResponseWriter, details string) {
	WriteErrorWithDetails(w, http.StatusBadRequest, CodeWeakPassword, "Password does not meet requirements", details)
}

func WriteMissingReason(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeMissingReason, message)
}
