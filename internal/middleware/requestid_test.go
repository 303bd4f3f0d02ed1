package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID_GeneratesUUID(t *testing.T) {
	var capturedID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	id, err := uuid.Parse(capturedID)
	if err != nil {
		t.Fatalf("expected a UUID, got %q: %v", capturedID, err)
	}
	if id.Version() != 4 {
		t.Errorf("expected version 4 UUID, got version %d", id.Version())
	}
	if respID := rec.Header().Get("X-Request-ID"); respID != capturedID {
		t.Errorf("response header %q != context ID %q", respID, capturedID)
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	existingID := "operator-supplied-id"

	var capturedID, headerID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetRequestID(r.Context())
		headerID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
	req.Header.Set("X-Request-ID", existingID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if capturedID != existingID || headerID != existingID {
		t.Errorf("expected preserved ID %q, got context %q header %q", existingID, capturedID, headerID)
	}
	if respID := rec.Header().Get("X-Request-ID"); respID != existingID {
		t.Errorf("response header %q != existing ID %q", respID, existingID)
	}
}

func TestRequestID_ReplacesUnsafeID(t *testing.T) {
	tests := map[string]string{
		"newline":  "abc\ndef",
		"spaces":   "has spaces",
		"too long": strings.Repeat("a", maxRequestIDLen+1),
		"json-ish": `{"x":1}`,
	}
	for name, incoming := range tests {
		t.Run(name, func(t *testing.T) {
			var capturedID string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedID = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			req.Header.Set("X-Request-ID", incoming)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if capturedID == incoming {
				t.Fatalf("unsafe ID %q was kept", incoming)
			}
			if _, err := uuid.Parse(capturedID); err != nil {
				t.Errorf("expected a generated UUID, got %q", capturedID)
			}
			if got := req.Header.Get("X-Request-ID"); got != capturedID {
				t.Errorf("request header = %q, want the generated ID", got)
			}
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	ids := make(map[string]bool)

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodGet, "/admin/events", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		id := rec.Header().Get("X-Request-ID")
		if ids[id] {
			t.Fatalf("duplicate request ID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("expected empty string for context without request ID, got %q", id)
	}
}
