package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/54b3r/concierge-go/internal/logging"
)

func TestRequestLogger_AssignsID(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	var ctxLogged bool
	h := requestLogger(logging.NewWriter(&logs, "info", "json"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("inside handler")
		ctxLogged = true
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	id := w.Header().Get(requestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("X-Request-ID %q is not a UUID: %v", id, err)
	}
	if !ctxLogged {
		t.Fatal("handler was not called")
	}
	out := logs.String()
	if strings.Count(out, `"request_id":"`+id+`"`) != 2 {
		t.Errorf("both log lines should carry the request ID:\n%s", out)
	}
	if !strings.Contains(out, `"status":418`) {
		t.Errorf("completion log should record the status:\n%s", out)
	}
}

func TestRequestLogger_ReusesCallerID(t *testing.T) {
	t.Parallel()

	h := requestLogger(slog.New(slog.DiscardHandler), okHandler)
	cases := []struct {
		name   string
		header string
		reuse  bool
	}{
		{"uuid reused", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"garbage replaced", "'; DROP TABLE", false},
		{"absent generated", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(requestIDHeader, tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if (got == tc.header) != tc.reuse {
				t.Errorf("X-Request-ID = %q, reuse want %v", got, tc.reuse)
			}
			if got == "" {
				t.Error("X-Request-ID missing")
			}
		})
	}
}
