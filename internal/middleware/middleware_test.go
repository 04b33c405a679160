package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cyberguard/internal/model"
)

type fakeSessions map[string]string

func (f fakeSessions) GetOfficerID(_ context.Context, id string) (string, error) {
	if o, ok := f[id]; ok {
		return o, nil
	}
	return "", errors.New("not found")
}

type fakeOfficers map[string]*model.Officer

func (f fakeOfficers) GetByID(_ context.Context, id string) (*model.Officer, error) {
	if o, ok := f[id]; ok {
		return o, nil
	}
	return nil, errors.New("not found")
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestSession(t *testing.T) {
	sessions := fakeSessions{"good": "o1", "inactive": "o2", "orphan": "o9"}
	officers := fakeOfficers{
		"o1": {ID: "o1", Role: model.RoleOfficer, Status: model.StatusActive},
		"o2": {ID: "o2", Role: model.RoleOfficer, Status: model.StatusInactive},
	}

	var seen *model.Officer
	h := Session(sessions, officers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OfficerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		cookie string
		want   int
	}{
		{"no cookie", "", http.StatusUnauthorized},
		{"unknown session", "bad", http.StatusUnauthorized},
		{"inactive officer", "inactive", http.StatusUnauthorized},
		{"deleted officer", "orphan", http.StatusUnauthorized},
		{"valid", "good", http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tc.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.want == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected JSON error, got %s", rec.Body.String())
			}
		})
	}

	if seen == nil || seen.ID != "o1" {
		t.Errorf("officer not placed in context: %+v", seen)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(model.RoleSupervisor)(okHandler)

	for _, tc := range []struct {
		role model.Role
		want int
	}{
		{model.RoleSupervisor, http.StatusNoContent},
		{model.RoleOfficer, http.StatusForbidden},
		{"", http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.role != "" {
			req = req.WithContext(context.WithValue(req.Context(), contextKeyOfficer, &model.Officer{Role: tc.role}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("role %q: expected %d, got %d", tc.role, tc.want, rec.Code)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for k, v := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s: expected %q, got %q", k, v, got)
		}
	}
	if !strings.Contains(rec.Header().Get("Permissions-Policy"), "microphone=(self)") {
		t.Errorf("microphone should be allowed for same origin")
	}
}

func TestRateLimitPerIP(t *testing.T) {
	h := RateLimit(PerMinute(1), 2)(okHandler)

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("10.0.0.1:1000") != http.StatusNoContent || do("10.0.0.1:2000") != http.StatusNoContent {
		t.Fatal("burst should be allowed")
	}
	if got := do("10.0.0.1:3000"); got != http.StatusTooManyRequests {
		t.Errorf("expected 429 once the burst is spent, got %d", got)
	}
	if got := do("10.0.0.2:1000"); got != http.StatusNoContent {
		t.Errorf("other clients should be unaffected, got %d", got)
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var ctxID string
	h := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	id := rec.Header().Get("X-Request-ID")
	if id == "" || id != ctxID {
		t.Fatalf("request id mismatch: header %q, context %q", id, ctxID)
	}
	line := buf.String()
	for _, want := range []string{"request_id=" + id, "status=418", "path=/api/health"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in log line %q", want, line)
		}
	}
}
