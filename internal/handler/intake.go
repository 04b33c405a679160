package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyberguard/internal/catalog"
	"github.com/cyberguard/internal/intake"
	"github.com/cyberguard/internal/language"
	"github.com/cyberguard/internal/ticket"
)

// IntakeCookieName carries the citizen's intake session id.
const IntakeCookieName = "intake_session"

type intakeSessions interface {
	Create() *intake.Session
	Get(id string) (*intake.Session, bool)
}

// IntakeHandler drives the conversational complaint interview.
type IntakeHandler struct {
	BaseHandler
	sessions      intakeSessions
	catalog       *catalog.Registry
	svc           language.Service
	prompts       intake.PromptSource
	filer         *Filer
	secureCookies bool
	now           func() time.Time
}

func NewIntakeHandler(logger *slog.Logger, sessions intakeSessions, reg *catalog.Registry, svc language.Service, prompts intake.PromptSource, filer *Filer, secureCookies bool) *IntakeHandler {
	return &IntakeHandler{
		BaseHandler:   BaseHandler{Logger: logger},
		sessions:      sessions,
		catalog:       reg,
		svc:           svc,
		prompts:       prompts,
		filer:         filer,
		secureCookies: secureCookies,
		now:           time.Now,
	}
}

// speechDirective tells the client what to read aloud and how.
type speechDirective struct {
	Text   string  `json:"text"`
	Locale string  `json:"locale"`
	Pitch  float64 `json:"pitch"`
	Rate   float64 `json:"rate"`
}

type questionView struct {
	Field    string `json:"field"`
	Text     string `json:"text"`
	Required bool   `json:"required"`
}

type intakeView struct {
	State    string           `json:"state"`
	Language string           `json:"language"`
	Category string           `json:"category,omitempty"`
	Voice    intake.Voice     `json:"voice"`
	Index    int              `json:"index"`
	Total    int              `json:"total"`
	Progress float64          `json:"progress"`
	Question *questionView    `json:"question,omitempty"`
	Speech   *speechDirective `json:"speech,omitempty"`
	Command  string           `json:"command,omitempty"`
	Field    string           `json:"field,omitempty"`
	Reply    string           `json:"reply,omitempty"`
	Rejected bool             `json:"rejected,omitempty"`
	History  []intake.Message `json:"history"`
}

// Start begins, or restarts, an interview in the chosen language and
// category.
func (h *IntakeHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string        `json:"language"`
		Category string        `json:"category"`
		Voice    *intake.Voice `json:"voice"`
	}
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	if req.Language == "" {
		req.Language = h.catalog.Canonical()
	}
	if _, ok := h.catalog.Language(req.Language); !ok {
		h.badRequestResponse(w, r, fmt.Errorf("unsupported language %q", req.Language))
		return
	}
	if req.Category == "" {
		h.badRequestResponse(w, r, errors.New("category is required"))
		return
	}
	voice := intake.DefaultVoice()
	if req.Voice != nil {
		voice = *req.Voice
	}

	sess, ok := h.session(r)
	if !ok {
		sess = h.sessions.Create()
		http.SetCookie(w, &http.Cookie{
			Name:     IntakeCookieName,
			Value:    sess.ID,
			Path:     "/api/intake",
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}

	sess.Lock()
	defer sess.Unlock()

	seq := intake.NewSequencer(intake.SequencerConfig{
		Questions: h.catalog.QuestionsFor(req.Category),
		Language:  req.Language,
		Canonical: h.catalog.Canonical(),
		Keywords:  h.catalog.Commands(req.Language),
		IDTypes:   h.catalog.IDTypes(),
	}, h.svc, h.prompts)
	sess.Begin(req.Language, req.Category, voice, seq)

	h.Logger.Debug("intake started", "language", req.Language, "category", req.Category, "questions", seq.Len())

	if err := h.writeJSON(w, http.StatusCreated, envelope{"intake": h.view(r.Context(), sess, nil)}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// State returns the current question, or the idle state for a session that
// has not started. Like any re-render it uses up the question's one
// automatic voicing.
func (h *IntakeHandler) State(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		h.noIntakeResponse(w, r)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	if err := h.writeJSON(w, http.StatusOK, envelope{"intake": h.view(r.Context(), sess, nil)}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// Reply feeds one utterance (typed or transcribed) to the interview.
func (h *IntakeHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	text := sanitizeInput(req.Text)
	if text == "" {
		h.badRequestResponse(w, r, errors.New("text must not be empty"))
		return
	}

	sess, ok := h.session(r)
	if !ok {
		h.noIntakeResponse(w, r)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	if sess.State() != intake.Running {
		h.noIntakeResponse(w, r)
		return
	}

	seq := sess.Sequencer
	prompt, _ := seq.Prompt(r.Context())

	out, err := seq.Handle(r.Context(), text)
	if err != nil {
		if errors.Is(err, intake.ErrNotRunning) {
			h.noIntakeResponse(w, r)
			return
		}
		h.serverErrorResponse(w, r, err)
		return
	}

	now := h.now()
	sess.AddMessage(false, prompt, now)
	sess.AddMessage(true, text, now)
	if out.Reply != "" {
		sess.AddMessage(false, out.Reply, now)
	}

	if err := h.writeJSON(w, http.StatusOK, envelope{"intake": h.view(r.Context(), sess, &out)}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

type reviewField struct {
	Field     string `json:"field"`
	Label     string `json:"label"`
	Value     string `json:"value"`
	Canonical string `json:"canonical"`
}

// Review lists the collected answers for confirmation.
func (h *IntakeHandler) Review(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		h.noIntakeResponse(w, r)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	if sess.State() != intake.AwaitingReview {
		h.errorResponse(w, r, http.StatusConflict, intake.ErrNotReady.Error())
		return
	}

	native, canonical := sess.Sequencer.Answers()
	questions := h.catalog.QuestionsFor(sess.Category)
	fields := make([]reviewField, 0, len(questions))
	for _, q := range questions {
		fields = append(fields, reviewField{
			Field:     q.Field,
			Label:     h.prompts.PromptFor(r.Context(), q, sess.Language),
			Value:     native[q.Field],
			Canonical: canonical[q.Field],
		})
	}

	var subCategories []string
	if c, ok := h.catalog.Category(sess.Category); ok {
		subCategories = c.SubCategories
	}

	err := h.writeJSON(w, http.StatusOK, envelope{"review": envelope{
		"category":      sess.Category,
		"subCategories": subCategories,
		"idTypes":       h.catalog.IDTypes(),
		"fields":        fields,
	}}, nil)
	if err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// Submit applies any corrections from the review step and files the
// complaint. The session returns to its defaults afterwards.
func (h *IntakeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubCategory string            `json:"sub_category"`
		Answers     map[string]string `json:"answers"`
	}
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	sess, ok := h.session(r)
	if !ok {
		h.noIntakeResponse(w, r)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	if sess.State() != intake.AwaitingReview {
		h.errorResponse(w, r, http.StatusConflict, intake.ErrNotReady.Error())
		return
	}

	if c, ok := h.catalog.Category(sess.Category); ok && !c.HasSubCategory(req.SubCategory) {
		h.badRequestResponse(w, r, fmt.Errorf("sub_category must be one of the %s sub-categories", c.Name))
		return
	}

	for field, value := range req.Answers {
		value = sanitizeInput(value)
		if field == language.IDTypeField && value != "" && !h.catalog.IsIDType(value) {
			h.badRequestResponse(w, r, fmt.Errorf("id_type %q is not an accepted ID type", value))
			return
		}
		if err := sess.Sequencer.Amend(r.Context(), field, value); err != nil {
			if errors.Is(err, intake.ErrNoField) {
				h.badRequestResponse(w, r, fmt.Errorf("%s: %w", field, err))
				return
			}
			h.serverErrorResponse(w, r, err)
			return
		}
	}

	native, canonical := sess.Sequencer.Answers()
	rec, err := h.filer.File(r.Context(), ticket.Complaint{
		Native:      native,
		Canonical:   canonical,
		Category:    sess.Category,
		SubCategory: req.SubCategory,
	})
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	sess.Reset()

	if err := h.writeJSON(w, http.StatusCreated, envelope{"complaint": newFilingView(rec)}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

func (h *IntakeHandler) session(r *http.Request) (*intake.Session, bool) {
	cookie, err := r.Cookie(IntakeCookieName)
	if err != nil {
		return nil, false
	}
	return h.sessions.Get(cookie.Value)
}

func (h *IntakeHandler) noIntakeResponse(w http.ResponseWriter, r *http.Request) {
	h.errorResponse(w, r, http.StatusConflict, intake.ErrNotRunning.Error())
}

// view renders the session. The caller holds the session lock. A speech
// directive is attached the first time each question is presented.
func (h *IntakeHandler) view(ctx context.Context, sess *intake.Session, out *intake.Outcome) intakeView {
	v := intakeView{
		State:    sess.State().String(),
		Language: sess.Language,
		Category: sess.Category,
		Voice:    sess.Voice,
		History:  sess.History,
	}
	if out != nil {
		v.Command = out.Command.String()
		v.Field = out.Field
		v.Reply = out.Reply
		v.Rejected = out.Rejected
	}

	seq := sess.Sequencer
	if seq == nil {
		return v
	}
	v.Index, v.Total = seq.Index(), seq.Len()
	if v.Total > 0 {
		v.Progress = float64(v.Index) / float64(v.Total) * 100
	}

	q, ok := seq.Current()
	if !ok {
		return v
	}
	text, _ := seq.Prompt(ctx)
	v.Question = &questionView{Field: q.Field, Text: text, Required: q.Required}

	if sess.Voice.Enabled && seq.ShouldSpeak() {
		locale := ""
		if l, ok := h.catalog.Language(sess.Language); ok {
			locale = l.SpeechLocale()
		}
		v.Speech = &speechDirective{Text: text, Locale: locale, Pitch: sess.Voice.Pitch, Rate: sess.Voice.Rate}
	}
	return v
}
