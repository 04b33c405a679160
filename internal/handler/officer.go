package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cyberguard/internal/auth"
	appmw "github.com/cyberguard/internal/middleware"
	"github.com/cyberguard/internal/model"
	"github.com/cyberguard/internal/store"
	"github.com/cyberguard/internal/ticket"
)

type officerStore interface {
	GetByEmail(ctx context.Context, email string) (*model.Officer, string, error)
	GetByID(ctx context.Context, id string) (*model.Officer, error)
	Create(ctx context.Context, id, email, name, passwordHash string, role model.Role) error
	UpdateLastLogin(ctx context.Context, id string) error
}

type sessionCreatorDeleter interface {
	Create(ctx context.Context, officerID string) (string, error)
	DeleteAllByOfficerID(ctx context.Context, officerID string) error
	TTL() time.Duration
}

type ticketUpdater interface {
	Get(ctx context.Context, id string) (*ticket.Record, error)
	UpdateStatus(ctx context.Context, id string, status ticket.Status) error
	Assign(ctx context.Context, id, officer string, priority ticket.Priority) error
}

// OfficerHandler handles officer authentication and complaint updates.
type OfficerHandler struct {
	BaseHandler
	officers      officerStore
	sessions      sessionCreatorDeleter
	tickets       ticketUpdater
	secureCookies bool
}

func NewOfficerHandler(logger *slog.Logger, officers officerStore, sessions sessionCreatorDeleter, tickets ticketUpdater, secureCookies bool) *OfficerHandler {
	return &OfficerHandler{
		BaseHandler:   BaseHandler{Logger: logger},
		officers:      officers,
		sessions:      sessions,
		tickets:       tickets,
		secureCookies: secureCookies,
	}
}

// Login authenticates an officer and issues a session cookie.
func (h *OfficerHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	officer, hash, err := h.officers.GetByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.serverErrorResponse(w, r, err)
		return
	}
	if err != nil || !auth.Verify(hash, req.Password) {
		h.errorResponse(w, r, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if officer.Status != model.StatusActive {
		h.errorResponse(w, r, http.StatusForbidden, "account is inactive")
		return
	}

	sessionID, err := h.sessions.Create(r.Context(), officer.ID)
	if err != nil {
		h.serverErrorResponse(w, r, fmt.Errorf("create officer session: %w", err))
		return
	}

	if err := h.officers.UpdateLastLogin(r.Context(), officer.ID); err != nil {
		h.Logger.Warn("officer: failed to record last login", "officer_id", officer.ID, "err", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     appmw.SessionCookieName,
		Value:    sessionID,
		Path:     "/api/officer",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(h.sessions.TTL()),
	})

	if err := h.writeJSON(w, http.StatusOK, envelope{"officer": officer}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// Logout invalidates all sessions for the authenticated officer.
func (h *OfficerHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if officer := appmw.OfficerFromContext(r.Context()); officer != nil {
		if err := h.sessions.DeleteAllByOfficerID(r.Context(), officer.ID); err != nil {
			h.serverErrorResponse(w, r, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:    appmw.SessionCookieName,
		Value:   "",
		Path:    "/api/officer",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	if err := h.writeJSON(w, http.StatusOK, envelope{"status": "logged out"}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// Me returns the authenticated officer.
func (h *OfficerHandler) Me(w http.ResponseWriter, r *http.Request) {
	if err := h.writeJSON(w, http.StatusOK, envelope{"officer": appmw.OfficerFromContext(r.Context())}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// CreateOfficer adds a staff account. Supervisors only.
func (h *OfficerHandler) CreateOfficer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string     `json:"email"`
		Name     string     `json:"name"`
		Password string     `json:"password"`
		Role     model.Role `json:"role"`
	}
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Role == "" {
		req.Role = model.RoleOfficer
	}
	switch {
	case !strings.Contains(req.Email, "@"):
		h.badRequestResponse(w, r, errors.New("a valid email is required"))
		return
	case len(req.Password) < 8:
		h.badRequestResponse(w, r, errors.New("password must be at least 8 characters"))
		return
	case !req.Role.Valid():
		h.badRequestResponse(w, r, fmt.Errorf("unknown role %q", req.Role))
		return
	}

	if _, _, err := h.officers.GetByEmail(r.Context(), req.Email); err == nil {
		h.errorResponse(w, r, http.StatusConflict, "an officer with that email already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.serverErrorResponse(w, r, err)
		return
	}

	hash, err := auth.Hash(req.Password)
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	id := auth.NewID()
	if err := h.officers.Create(r.Context(), id, req.Email, sanitizeInput(req.Name), hash, req.Role); err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	officer, err := h.officers.GetByID(r.Context(), id)
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.Logger.Info("officer created", "officer_id", id, "role", req.Role, "by", appmw.OfficerFromContext(r.Context()).ID)

	if err := h.writeJSON(w, http.StatusCreated, envelope{"officer": officer}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

type officerComplaintView struct {
	*ticket.Record
	DateFiled   string `json:"dateFiled"`
	LastUpdated string `json:"lastUpdated"`
}

// GetComplaint returns the full record, answers included.
func (h *OfficerHandler) GetComplaint(w http.ResponseWriter, r *http.Request) {
	rec, err := h.tickets.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ticket.ErrNotFound) {
		h.notFoundResponse(w, r)
		return
	}
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.writeComplaint(w, r, rec)
}

// Report streams the complaint PDF for the console.
func (h *OfficerHandler) Report(w http.ResponseWriter, r *http.Request) {
	rec, err := h.tickets.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ticket.ErrNotFound) {
		h.notFoundResponse(w, r)
		return
	}
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.writeReport(w, r, rec)
}

// UpdateComplaint changes status, handler or priority. Reassignment and
// priority changes need a supervisor.
func (h *OfficerHandler) UpdateComplaint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status     *ticket.Status   `json:"status"`
		AssignedTo *string          `json:"assignedTo"`
		Priority   *ticket.Priority `json:"priority"`
	}
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	if req.Status == nil && req.AssignedTo == nil && req.Priority == nil {
		h.badRequestResponse(w, r, errors.New("nothing to update"))
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		h.badRequestResponse(w, r, fmt.Errorf("unknown status %q", *req.Status))
		return
	}
	if req.Priority != nil && !req.Priority.Valid() {
		h.badRequestResponse(w, r, fmt.Errorf("unknown priority %q", *req.Priority))
		return
	}
	if (req.AssignedTo != nil || req.Priority != nil) && appmw.RoleFromContext(r.Context()) != model.RoleSupervisor {
		h.errorResponse(w, r, http.StatusForbidden, "only supervisors can reassign or reprioritize complaints")
		return
	}

	id := chi.URLParam(r, "id")
	err := h.applyUpdate(r.Context(), id, req.Status, req.AssignedTo, req.Priority)
	if errors.Is(err, ticket.ErrNotFound) {
		h.notFoundResponse(w, r)
		return
	}
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	rec, err := h.tickets.Get(r.Context(), id)
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.Logger.Info("complaint updated", "ticket_id", rec.ID, "status", rec.Status, "by", appmw.OfficerFromContext(r.Context()).ID)
	h.writeComplaint(w, r, rec)
}

func (h *OfficerHandler) applyUpdate(ctx context.Context, id string, status *ticket.Status, assignedTo *string, priority *ticket.Priority) error {
	if status != nil {
		if err := h.tickets.UpdateStatus(ctx, id, *status); err != nil {
			return err
		}
	}
	if assignedTo != nil || priority != nil {
		var officer string
		var p ticket.Priority
		if assignedTo != nil {
			officer = sanitizeInput(*assignedTo)
		}
		if priority != nil {
			p = *priority
		}
		return h.tickets.Assign(ctx, id, officer, p)
	}
	return nil
}

func (h *OfficerHandler) writeComplaint(w http.ResponseWriter, r *http.Request, rec *ticket.Record) {
	view := officerComplaintView{Record: rec, DateFiled: rec.DateFiled(), LastUpdated: rec.LastUpdated()}
	if err := h.writeJSON(w, http.StatusOK, envelope{"complaint": view}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}
