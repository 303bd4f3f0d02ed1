// Package apierror provides the JSON error body used by every admin endpoint,
// so operators' tooling can switch on a stable error code.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Admin error codes. Tooling programs against these; do not rename them.
const (
	NotFound              ErrorCode = "ADMIN_NOT_FOUND"
	MethodNotAllowed      ErrorCode = "ADMIN_METHOD_NOT_ALLOWED"
	BadRequest            ErrorCode = "ADMIN_BAD_REQUEST"
	Forbidden             ErrorCode = "ADMIN_FORBIDDEN"
	AuthMissingToken      ErrorCode = "ADMIN_AUTH_MISSING_TOKEN"
	AuthInvalidToken      ErrorCode = "ADMIN_AUTH_INVALID_TOKEN"
	AuthInsufficientScope ErrorCode = "ADMIN_AUTH_INSUFFICIENT_SCOPE"
	RateLimitExceeded     ErrorCode = "ADMIN_RATE_LIMIT_EXCEEDED"
	BodyTooLarge          ErrorCode = "ADMIN_BODY_TOO_LARGE"
	Unavailable           ErrorCode = "ADMIN_UNAVAILABLE"
	InternalError         ErrorCode = "ADMIN_INTERNAL_ERROR"
)

// ErrorResponse is the standardized admin error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized bodies for rejections that repeat under load or probing.
// They carry no request_id since it varies per request.
var (
	preForbidden         = mustMarshal(http.StatusForbidden, Forbidden, "client address not allowed")
	preAuthMissingToken  = mustMarshal(http.StatusUnauthorized, AuthMissingToken, "missing or malformed Authorization header")
	preRateLimitExceeded = mustMarshal(http.StatusTooManyRequests, RateLimitExceeded, "reload rate limit exceeded, retry later")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. The request ID, when
// the request carries an X-Request-ID header, is echoed in the body. r may
// be nil.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == Forbidden && status == http.StatusForbidden && message == "client address not allowed":
		return preForbidden
	case code == AuthMissingToken && status == http.StatusUnauthorized && message == "missing or malformed Authorization header":
		return preAuthMissingToken
	case code == RateLimitExceeded && status == http.StatusTooManyRequests && message == "reload rate limit exceeded, retry later":
		return preRateLimitExceeded
	}
	return nil
}
