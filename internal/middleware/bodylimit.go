package middleware

import (
	"net/http"

	"github.com/dskow/hellomux/internal/apierror"
)

// BodyLimit rejects requests whose body exceeds maxBytes with 413. A declared
// Content-Length is checked upfront; streamed bodies are capped by
// http.MaxBytesReader.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteBodyLimitError(w, r)
				return
			}
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteBodyLimitError writes the 413 response for handlers that hit the
// MaxBytesReader limit while reading.
func WriteBodyLimitError(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge,
		"request body exceeds maximum allowed size")
}
