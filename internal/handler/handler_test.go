package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cyberguard/internal/catalog"
	"github.com/cyberguard/internal/mailer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoService extracts answers verbatim and tags translations with the
// target language.
type echoService struct{}

func (echoService) Translate(_ context.Context, text, from, to string) (string, error) {
	if from == to || text == "" {
		return text, nil
	}
	return "[" + to + "] " + text, nil
}

func (echoService) Extract(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

type canonicalPrompts struct{}

func (canonicalPrompts) PromptFor(_ context.Context, q catalog.Question, _ string) string {
	p, _ := q.Prompt("English")
	return p
}

func (canonicalPrompts) Translate(_ context.Context, text, _ string) string { return text }

type recordingNotifier struct {
	mu       sync.Mutex
	enabled  bool
	subjects []string
	bodies   []string
	files    [][]mailer.Attachment
	err      error
}

func (n *recordingNotifier) Enabled() bool { return n.enabled }

func (n *recordingNotifier) SendComplaint(subject, summary string, evidence []mailer.Attachment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, summary)
	n.files = append(n.files, evidence)
	return n.err
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   int
		status string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"db down", errors.New("closed"), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Health(fakePinger{err: tc.err}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if rec.Code != tc.code {
				t.Errorf("expected %d, got %d", tc.code, rec.Code)
			}
			if got := decode(t, rec)["status"]; got != tc.status {
				t.Errorf("expected status %q, got %v", tc.status, got)
			}
		})
	}
}

func TestReadJSON(t *testing.T) {
	h := &BaseHandler{Logger: testLogger()}
	var dst struct {
		Text string `json:"text"`
	}

	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "body must not be empty"},
		{"syntax", `{"text":`, "badly-formed"},
		{"unknown field", `{"nope":1}`, "unknown field"},
		{"type", `{"text":1}`, "incorrect JSON type"},
		{"two values", `{"text":"a"}{"text":"b"}`, "single JSON value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			err := h.readJSON(rec, jsonRequest(http.MethodPost, "/", tc.body), &dst)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	rec := httptest.NewRecorder()
	if err := h.readJSON(rec, jsonRequest(http.MethodPost, "/", `{"text":"hello"}`), &dst); err != nil || dst.Text != "hello" {
		t.Errorf("valid body: %v %+v", err, dst)
	}
}

func TestSanitizeInput(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Ravi Kumar \n", "Ravi Kumar"},
		{"line one\nline two", "line one\nline two"},
		{"nul\x00byte\x1b", "nulbyte"},
		{"<b>kept</b>", "<b>kept</b>"},
	}
	for _, tc := range cases {
		if got := sanitizeInput(tc.in); got != tc.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("क", maxInputLen)
	got := sanitizeInput(long)
	if len(got) > maxInputLen || !strings.HasPrefix(long, got) {
		t.Errorf("long input not cut on a rune boundary: %d bytes", len(got))
	}
	if !bytes.Equal([]byte(got), []byte(strings.Repeat("क", len(got)/3))) {
		t.Error("truncated value contains a partial rune")
	}
}

func TestCatalog(t *testing.T) {
	h := NewCatalogHandler(testLogger(), catalog.Default())
	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["canonical"] != "English" {
		t.Errorf("unexpected canonical %v", body["canonical"])
	}
	if cats, _ := body["categories"].([]any); len(cats) != 3 {
		t.Errorf("expected 3 categories, got %v", body["categories"])
	}
	if ids, _ := body["idTypes"].([]any); len(ids) != 5 {
		t.Errorf("expected 5 id types, got %v", body["idTypes"])
	}
}
