package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cyberguard/internal/catalog"
	"github.com/cyberguard/internal/language"
	"github.com/cyberguard/internal/mailer"
	"github.com/cyberguard/internal/media"
	"github.com/cyberguard/internal/report"
	"github.com/cyberguard/internal/ticket"
)

type ticketCreatorGetter interface {
	Create(ctx context.Context, c ticket.Complaint) (string, error)
	Get(ctx context.Context, id string) (*ticket.Record, error)
}

type notifier interface {
	Enabled() bool
	SendComplaint(subject, summary string, evidence []mailer.Attachment) error
}

type translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Filer stores complaints and notifies the cyber cell inbox.
type Filer struct {
	tickets ticketCreatorGetter
	notify  notifier
	logger  *slog.Logger
}

// NewFiler accepts a nil notifier when e-mail is not configured.
func NewFiler(tickets ticketCreatorGetter, notify notifier, logger *slog.Logger) *Filer {
	return &Filer{tickets: tickets, notify: notify, logger: logger}
}

// File creates the ticket and queues the notification. A notification
// failure is logged and does not fail the filing.
func (f *Filer) File(ctx context.Context, c ticket.Complaint) (*ticket.Record, error) {
	id, err := f.tickets.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	rec, err := f.tickets.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", id, err)
	}

	f.logger.Info("complaint filed",
		"ticket_id", rec.ID,
		"category", rec.Category,
		"fields", len(rec.Native),
		"evidence", len(rec.Evidence),
	)

	if f.notify != nil && f.notify.Enabled() {
		if err := f.sendNotification(rec); err != nil {
			f.logger.Error("complaint notification failed", "ticket_id", rec.ID, "err", err)
		}
	}
	return rec, nil
}

func (f *Filer) sendNotification(rec *ticket.Record) error {
	pdf, err := report.Render(rec)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	attachments := []mailer.Attachment{{
		Filename:    reportFilename(rec.ID),
		ContentType: media.TypePDF,
		Data:        pdf,
	}}
	for _, ev := range rec.Evidence {
		attachments = append(attachments, mailer.Attachment{
			Filename:    ev.Filename,
			ContentType: ev.ContentType,
			Data:        ev.Data,
		})
	}

	subject := mailer.RenderTemplate(mailer.SubjectTemplate, map[string]string{
		"ticket_id": rec.ID,
		"category":  rec.Category,
	})
	return f.notify.SendComplaint(subject, mailer.RenderSummary(report.Title, report.Rows(rec)), attachments)
}

func reportFilename(id string) string {
	return "Complaint_" + id + ".pdf"
}

// filingView is returned once a complaint has been filed.
type filingView struct {
	TicketID   string          `json:"ticketId"`
	Status     ticket.Status   `json:"status"`
	DateFiled  string          `json:"dateFiled"`
	AssignedTo string          `json:"assignedTo"`
	Priority   ticket.Priority `json:"priority"`
	ReportURL  string          `json:"reportUrl"`
}

func newFilingView(rec *ticket.Record) filingView {
	return filingView{
		TicketID:   rec.ID,
		Status:     rec.Status,
		DateFiled:  rec.DateFiled(),
		AssignedTo: rec.AssignedTo,
		Priority:   rec.Priority,
		ReportURL:  "/api/complaints/" + rec.ID + "/report.pdf?token=" + rec.ReportToken,
	}
}

// trackingView is what the public tracking page shows. It carries no
// personal details.
type trackingView struct {
	TicketID    string          `json:"ticketId"`
	Status      ticket.Status   `json:"status"`
	DateFiled   string          `json:"dateFiled"`
	Category    string          `json:"category"`
	SubCategory string          `json:"subCategory"`
	LastUpdated string          `json:"lastUpdated"`
	AssignedTo  string          `json:"assignedTo"`
	Priority    ticket.Priority `json:"priority"`
}

func newTrackingView(rec *ticket.Record) trackingView {
	return trackingView{
		TicketID:    rec.ID,
		Status:      rec.Status,
		DateFiled:   rec.DateFiled(),
		Category:    rec.Category,
		SubCategory: rec.SubCategory,
		LastUpdated: rec.LastUpdated(),
		AssignedTo:  rec.AssignedTo,
		Priority:    rec.Priority,
	}
}

type ticketReader interface {
	Get(ctx context.Context, id string) (*ticket.Record, error)
	Stats(ctx context.Context) (ticket.Stats, error)
}

// ComplaintHandler serves direct form filing, tracking and report download.
type ComplaintHandler struct {
	BaseHandler
	filer           *Filer
	tickets         ticketReader
	catalog         *catalog.Registry
	translator      translator
	maxUploadSizeMB int
}

func NewComplaintHandler(logger *slog.Logger, filer *Filer, tickets ticketReader, reg *catalog.Registry, t translator, maxUploadSizeMB int) *ComplaintHandler {
	return &ComplaintHandler{
		BaseHandler:     BaseHandler{Logger: logger},
		filer:           filer,
		tickets:         tickets,
		catalog:         reg,
		translator:      t,
		maxUploadSizeMB: maxUploadSizeMB,
	}
}

// Create files a complaint from the direct multipart form. Only the fields
// listed for the category are read, and only non-empty values are kept.
func (h *ComplaintHandler) Create(w http.ResponseWriter, r *http.Request) {
	maxSize := int64(h.maxUploadSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		h.badRequestResponse(w, r, errors.New("form too large or invalid"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	category, ok := h.catalog.Category(r.FormValue("category"))
	if !ok {
		h.badRequestResponse(w, r, errors.New("unknown complaint category"))
		return
	}
	subCategory := r.FormValue("sub_category")
	if !category.HasSubCategory(subCategory) {
		h.badRequestResponse(w, r, fmt.Errorf("sub_category must be one of the %s sub-categories", category.Name))
		return
	}

	lang := r.FormValue("language")
	if lang == "" {
		lang = h.catalog.Canonical()
	}
	if _, ok := h.catalog.Language(lang); !ok {
		h.badRequestResponse(w, r, fmt.Errorf("unsupported language %q", lang))
		return
	}

	native := make(map[string]string, len(category.FormFields))
	for _, field := range category.FormFields {
		if v := sanitizeInput(r.FormValue(field)); v != "" {
			native[field] = v
		}
	}
	if v, ok := native[language.IDTypeField]; ok && !h.catalog.IsIDType(v) {
		h.badRequestResponse(w, r, fmt.Errorf("id_type %q is not an accepted ID type", v))
		return
	}

	evidence, err := h.readEvidence(r.MultipartForm.File["evidence"])
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	canonical := make(map[string]string, len(native))
	for field, v := range native {
		translated, err := h.translator.Translate(r.Context(), v, lang, h.catalog.Canonical())
		if err != nil {
			h.Logger.Warn("keeping untranslated form value", "field", field, "err", err)
			translated = v
		}
		canonical[field] = translated
	}

	rec, err := h.filer.File(r.Context(), ticket.Complaint{
		Native:      native,
		Canonical:   canonical,
		Category:    category.Name,
		SubCategory: subCategory,
		Evidence:    evidence,
	})
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	if err := h.writeJSON(w, http.StatusCreated, envelope{"complaint": newFilingView(rec)}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// readEvidence validates and cleans uploaded evidence files. Images have
// their metadata stripped.
func (h *ComplaintHandler) readEvidence(files []*multipart.FileHeader) ([]ticket.Attachment, error) {
	if len(files) > media.MaxFiles {
		return nil, fmt.Errorf("at most %d evidence files are allowed", media.MaxFiles)
	}

	var attachments []ticket.Attachment
	for _, fh := range files {
		name := media.SanitizeFilename(fh.Filename)
		if fh.Size > media.MaxFileSize {
			return nil, fmt.Errorf("%s: %w", name, media.ErrTooLarge)
		}

		data, err := readFile(fh)
		if err != nil {
			return nil, fmt.Errorf("%s: could not read file", name)
		}

		ev, err := media.Clean(name, data)
		if errors.Is(err, media.ErrUnsupportedType) || errors.Is(err, media.ErrTooLarge) {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: could not process image", name)
		}

		attachments = append(attachments, ticket.Attachment{
			Filename:    ev.Filename,
			ContentType: ev.ContentType,
			Size:        len(ev.Data),
			Data:        ev.Data,
		})
	}
	return attachments, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Track returns the public status of a ticket.
func (h *ComplaintHandler) Track(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.writeJSON(w, http.StatusOK, envelope{"complaint": newTrackingView(rec)}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// Report streams the complaint PDF to whoever holds the ticket's report
// token. A missing or wrong token looks the same as an unknown ticket.
func (h *ComplaintHandler) Report(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !rec.AllowsReport(r.URL.Query().Get("token")) {
		h.notFoundResponse(w, r)
		return
	}
	h.writeReport(w, r, rec)
}

func (h *BaseHandler) writeReport(w http.ResponseWriter, r *http.Request, rec *ticket.Record) {
	pdf, err := report.Render(rec)
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", media.TypePDF)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reportFilename(rec.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// Stats returns the dashboard counters.
func (h *ComplaintHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.tickets.Stats(r.Context())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	if err := h.writeJSON(w, http.StatusOK, envelope{"stats": st}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

func (h *ComplaintHandler) lookup(w http.ResponseWriter, r *http.Request) (*ticket.Record, bool) {
	rec, err := h.tickets.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		h.notFoundResponse(w, r)
		return nil, false
	case err != nil:
		h.serverErrorResponse(w, r, err)
		return nil, false
	}
	return rec, true
}
