package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cyberguard/internal/auth"
	appmw "github.com/cyberguard/internal/middleware"
	"github.com/cyberguard/internal/model"
	"github.com/cyberguard/internal/store"
	"github.com/cyberguard/internal/ticket"
)

type officerFixture struct {
	router   http.Handler
	tickets  *ticket.Store
	ticketID string
}

func newOfficerFixture(t *testing.T) *officerFixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	officers := store.NewOfficerStore(db)
	sessions := store.NewSessionStore(db, time.Hour)

	hash, err := auth.Hash("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range []struct {
		id, email string
		role      model.Role
	}{
		{"sup", "chief@cyber.example", model.RoleSupervisor},
		{"off", "kumar@cyber.example", model.RoleOfficer},
	} {
		if err := officers.Create(ctx, o.id, o.email, "", hash, o.role); err != nil {
			t.Fatal(err)
		}
	}

	tickets := ticket.NewStore()
	id, err := tickets.Create(ctx, ticket.Complaint{
		Native:    map[string]string{"name": "Asha"},
		Canonical: map[string]string{"name": "Asha"},
		Category:  "Financial Fraud",
	})
	if err != nil {
		t.Fatal(err)
	}

	h := NewOfficerHandler(testLogger(), officers, sessions, tickets, false)
	r := chi.NewRouter()
	r.Post("/api/officer/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(appmw.Session(sessions, officers))
		r.Post("/api/officer/logout", h.Logout)
		r.Get("/api/officer/me", h.Me)
		r.Get("/api/officer/complaints/{id}", h.GetComplaint)
		r.Put("/api/officer/complaints/{id}", h.UpdateComplaint)
		r.Get("/api/officer/complaints/{id}/report.pdf", h.Report)
		r.With(appmw.RequireRole(model.RoleSupervisor)).Post("/api/officer/officers", h.CreateOfficer)
	})

	return &officerFixture{router: r, tickets: tickets, ticketID: id}
}

func (f *officerFixture) serve(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := jsonRequest(method, path, body)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *officerFixture) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := f.serve(http.MethodPost, "/api/officer/login", `{"email":"`+email+`","password":"correct horse"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == appmw.SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func TestOfficerLogin(t *testing.T) {
	f := newOfficerFixture(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"email":"kumar@cyber.example","password":"nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"ghost@cyber.example","password":"correct horse"}`, http.StatusUnauthorized},
		{"malformed", `{"email":`, http.StatusBadRequest},
		{"valid, email case ignored", `{"email":"KUMAR@cyber.example","password":"correct horse"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.serve(http.MethodPost, "/api/officer/login", tc.body, nil)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestOfficerSessionLifecycle(t *testing.T) {
	f := newOfficerFixture(t)

	if rec := f.serve(http.MethodGet, "/api/officer/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", rec.Code)
	}

	cookie := f.login(t, "kumar@cyber.example")
	rec := f.serve(http.MethodGet, "/api/officer/me", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d", rec.Code)
	}
	me, _ := decode(t, rec)["officer"].(map[string]any)
	if me["id"] != "off" || me["lastLoginAt"] == nil {
		t.Errorf("unexpected officer %v", me)
	}

	if rec := f.serve(http.MethodPost, "/api/officer/logout", "", cookie); rec.Code != http.StatusOK {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := f.serve(http.MethodGet, "/api/officer/me", "", cookie); rec.Code != http.StatusUnauthorized {
		t.Errorf("session survived logout: %d", rec.Code)
	}
}

func TestOfficerUpdateComplaint(t *testing.T) {
	f := newOfficerFixture(t)
	officer := f.login(t, "kumar@cyber.example")
	chief := f.login(t, "chief@cyber.example")
	path := "/api/officer/complaints/" + f.ticketID

	cases := []struct {
		name   string
		cookie *http.Cookie
		path   string
		body   string
		want   int
	}{
		{"officer resolves", officer, path, `{"status":"Resolved"}`, http.StatusOK},
		{"officer cannot reprioritize", officer, path, `{"priority":"High"}`, http.StatusForbidden},
		{"unknown status", officer, path, `{"status":"Lost"}`, http.StatusBadRequest},
		{"unknown priority", chief, path, `{"priority":"Urgent"}`, http.StatusBadRequest},
		{"empty update", officer, path, `{}`, http.StatusBadRequest},
		{"unknown ticket", officer, "/api/officer/complaints/CYBER-00000000", `{"status":"Closed"}`, http.StatusNotFound},
		{"supervisor reassigns", chief, path, `{"assignedTo":"Officer Rao","priority":"High"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.serve(http.MethodPut, tc.path, tc.body, tc.cookie)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec, err := f.tickets.Get(context.Background(), f.ticketID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != ticket.StatusResolved || rec.AssignedTo != "Officer Rao" || rec.Priority != ticket.PriorityHigh {
		t.Errorf("unexpected record %+v", rec)
	}

	resp := f.serve(http.MethodGet, path, "", officer)
	complaint, _ := decode(t, resp)["complaint"].(map[string]any)
	data, _ := complaint["data"].(map[string]any)
	if data["name"] != "Asha" || complaint["lastUpdated"] == "" {
		t.Errorf("officer view should include answers: %v", complaint)
	}
}

func TestOfficerReport(t *testing.T) {
	f := newOfficerFixture(t)
	officer := f.login(t, "kumar@cyber.example")
	path := "/api/officer/complaints/" + f.ticketID + "/report.pdf"

	cases := []struct {
		name   string
		cookie *http.Cookie
		path   string
		want   int
	}{
		{"anonymous", nil, path, http.StatusUnauthorized},
		{"officer", officer, path, http.StatusOK},
		{"unknown ticket", officer, "/api/officer/complaints/CYBER-00000000/report.pdf", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.serve(http.MethodGet, tc.path, "", tc.cookie)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.want == http.StatusOK && !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
				t.Error("report is not a PDF")
			}
		})
	}

	stored, err := f.tickets.Get(context.Background(), f.ticketID)
	if err != nil {
		t.Fatal(err)
	}
	rec := f.serve(http.MethodGet, "/api/officer/complaints/"+f.ticketID, "", officer)
	if strings.Contains(rec.Body.String(), stored.ReportToken) {
		t.Error("console view exposes the filer's report token")
	}
}

func TestCreateOfficer(t *testing.T) {
	f := newOfficerFixture(t)
	officer := f.login(t, "kumar@cyber.example")
	chief := f.login(t, "chief@cyber.example")

	body := `{"email":"patel@cyber.example","name":"Patel","password":"long enough"}`
	if rec := f.serve(http.MethodPost, "/api/officer/officers", body, officer); rec.Code != http.StatusForbidden {
		t.Errorf("officer created an account: %d", rec.Code)
	}

	rec := f.serve(http.MethodPost, "/api/officer/officers", body, chief)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	created, _ := decode(t, rec)["officer"].(map[string]any)
	if created["role"] != string(model.RoleOfficer) || created["name"] != "Patel" {
		t.Errorf("unexpected officer %v", created)
	}

	if rec := f.serve(http.MethodPost, "/api/officer/officers", body, chief); rec.Code != http.StatusConflict {
		t.Errorf("duplicate email: expected 409, got %d", rec.Code)
	}
	if rec := f.serve(http.MethodPost, "/api/officer/officers", `{"email":"x@y.z","password":"short"}`, chief); rec.Code != http.StatusBadRequest {
		t.Errorf("short password: expected 400, got %d", rec.Code)
	}

	f.login(t, "patel@cyber.example")
}
