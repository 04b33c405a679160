package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyberguard/internal/catalog"
	"github.com/cyberguard/internal/media"
	"github.com/cyberguard/internal/speech"
)

// listenWindow bounds a live capture request end to end. It covers the
// gateway's calibration, pre-speech and phrase limits plus upload slack.
const listenWindow = 30 * time.Second

type speechGateway interface {
	TranscribeFile(ctx context.Context, audio []byte, filename, locale string) (string, error)
	ListenLive(ctx context.Context, src io.Reader, locale string) (string, error)
}

type SpeechHandler struct {
	BaseHandler
	speech          speechGateway
	catalog         *catalog.Registry
	maxUploadSizeMB int
}

func NewSpeechHandler(logger *slog.Logger, gw speechGateway, reg *catalog.Registry, maxUploadSizeMB int) *SpeechHandler {
	return &SpeechHandler{
		BaseHandler:     BaseHandler{Logger: logger},
		speech:          gw,
		catalog:         reg,
		maxUploadSizeMB: maxUploadSizeMB,
	}
}

// Transcribe converts an uploaded recording (multipart field "audio").
func (h *SpeechHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	maxSize := int64(h.maxUploadSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		h.badRequestResponse(w, r, errors.New("form too large or invalid"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	lang, ok := h.language(w, r, r.FormValue("language"))
	if !ok {
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		h.badRequestResponse(w, r, errors.New("audio file is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		h.badRequestResponse(w, r, errors.New("could not read audio file"))
		return
	}

	text, err := h.speech.TranscribeFile(r.Context(), audio, media.SanitizeFilename(header.Filename), lang.Locale)
	h.respond(w, r, lang, text, err)
}

// Listen transcribes a live microphone stream sent as the raw request body.
// The read deadline is extended to cover the capture window.
func (h *SpeechHandler) Listen(w http.ResponseWriter, r *http.Request) {
	lang, ok := h.language(w, r, r.URL.Query().Get("language"))
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Now().Add(listenWindow)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.Logger.Debug("could not extend read deadline", "err", err)
	}

	body := http.MaxBytesReader(w, r.Body, int64(h.maxUploadSizeMB)<<20)
	defer body.Close()

	text, err := h.speech.ListenLive(r.Context(), body, lang.Locale)
	h.respond(w, r, lang, text, err)
}

func (h *SpeechHandler) language(w http.ResponseWriter, r *http.Request, name string) (catalog.Language, bool) {
	if name == "" {
		name = h.catalog.Canonical()
	}
	lang, ok := h.catalog.Language(name)
	if !ok {
		h.badRequestResponse(w, r, fmt.Errorf("unsupported language %q", name))
		return catalog.Language{}, false
	}
	return lang, true
}

func (h *SpeechHandler) respond(w http.ResponseWriter, r *http.Request, lang catalog.Language, text string, err error) {
	var svcErr *speech.ServiceError
	switch {
	case errors.Is(err, speech.ErrNoSpeech):
		h.errorResponse(w, r, http.StatusUnprocessableEntity, "no speech detected, please try again")
		return
	case errors.Is(err, speech.ErrUnintelligible):
		h.errorResponse(w, r, http.StatusUnprocessableEntity, "could not understand the audio, please repeat clearly")
		return
	case errors.As(err, &svcErr):
		h.logError(r, err)
		h.errorResponse(w, r, http.StatusBadGateway, "the speech service is unavailable, please type your answer")
		return
	case err != nil:
		h.serverErrorResponse(w, r, err)
		return
	}

	if err := h.writeJSON(w, http.StatusOK, envelope{"text": text, "language": lang.Name}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}
