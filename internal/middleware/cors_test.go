package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{name: "wildcard echoes origin", allowed: []string{"*"}, method: http.MethodGet, origin: "http://localhost:3000", wantStatus: http.StatusOK, wantOrigin: "http://localhost:3000"},
		{name: "unlisted origin passes without header", allowed: []string{"http://a"}, method: http.MethodGet, origin: "http://b", wantStatus: http.StatusOK},
		{name: "preflight allowed", allowed: []string{"http://a"}, method: http.MethodOptions, origin: "http://a", preflight: true, wantStatus: http.StatusNoContent, wantOrigin: "http://a"},
		{name: "preflight denied", allowed: []string{"http://a"}, method: http.MethodOptions, origin: "http://b", preflight: true, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/scenarios", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			resp := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(resp, req)

			if resp.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.Code, tt.wantStatus)
			}
			if got := resp.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("allow origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}
