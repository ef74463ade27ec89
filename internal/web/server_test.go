package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterRoutes(mux)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{"/ui/", http.StatusOK, "<title>ChatNGT</title>", "text/html"},
		{"/ui/script.js", http.StatusOK, "fetch('/chat'", "javascript"},
		{"/ui/", http.StatusOK, `id="new-chat-button"`, "text/html"},
		{"/ui/script.js", http.StatusOK, "method: 'DELETE'", "javascript"},
		{"/ui/style.css", http.StatusOK, "#chat-container", "text/css"},
		{"/ui/missing.js", http.StatusNotFound, "", ""},
		{"/ui", http.StatusMovedPermanently, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
			if tt.wantType != "" && !strings.Contains(rec.Header().Get("Content-Type"), tt.wantType) {
				t.Errorf("Content-Type = %q, want %s", rec.Header().Get("Content-Type"), tt.wantType)
			}
		})
	}
}
