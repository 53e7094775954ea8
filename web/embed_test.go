package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSPAHandler(t *testing.T) {
	h := SPAHandler()

	tests := []struct {
		path       string
		wantStatus int
		wantShell  bool
	}{
		{"/", http.StatusOK, true},
		{"/chat", http.StatusOK, true},
		{"/api/unknown", http.StatusNotFound, false},
		{"/ws/unknown", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.Contains(rec.Body.String(), "GaduGator"); got != tt.wantShell {
				t.Errorf("app shell served = %v, want %v", got, tt.wantShell)
			}
		})
	}
}
