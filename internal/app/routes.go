package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cyberguard/internal/handler"
	"github.com/cyberguard/internal/middleware"
	"github.com/cyberguard/internal/model"
)

func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(otelhttp.NewMiddleware(app.config.Tracing.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	maxMB := app.config.Server.MaxUploadMB
	secure := app.config.Server.SecureCookies

	filer := handler.NewFiler(app.tickets, app.mailQueue, app.logger)
	catalogHandler := handler.NewCatalogHandler(app.logger, app.catalog)
	complaintHandler := handler.NewComplaintHandler(app.logger, filer, app.tickets, app.catalog, app.language, maxMB)
	intakeHandler := handler.NewIntakeHandler(app.logger, app.intakeSessions, app.catalog, app.language, app.prompter, filer, secure)
	speechHandler := handler.NewSpeechHandler(app.logger, app.speech, app.catalog, maxMB)
	officerHandler := handler.NewOfficerHandler(app.logger, app.officerStore, app.officerSessions, app.tickets, secure)

	r.Get("/api/health", handler.Health(app.db))
	r.Get("/api/catalog", catalogHandler.Get)
	r.Get("/api/stats", complaintHandler.Stats)

	// Anything that reaches the language model, the speech service or the
	// password hash is rate limited per client.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.PerMinute(app.config.Server.RateLimitPerMinute), app.config.Server.RateLimitBurst))

		r.Post("/api/intake", intakeHandler.Start)
		r.Get("/api/intake", intakeHandler.State)
		r.Post("/api/intake/reply", intakeHandler.Reply)
		r.Get("/api/intake/review", intakeHandler.Review)
		r.Post("/api/intake/submit", intakeHandler.Submit)

		r.Post("/api/complaints", complaintHandler.Create)
		r.Get("/api/complaints/{id}", complaintHandler.Track)
		r.Get("/api/complaints/{id}/report.pdf", complaintHandler.Report)

		r.Post("/api/speech/transcribe", speechHandler.Transcribe)
		r.Post("/api/speech/listen", speechHandler.Listen)

		r.Post("/api/officer/login", officerHandler.Login)
	})

	// Officer console
	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(app.officerSessions, app.officerStore))

		r.Post("/api/officer/logout", officerHandler.Logout)
		r.Get("/api/officer/me", officerHandler.Me)
		r.Get("/api/officer/complaints/{id}", officerHandler.GetComplaint)
		r.Put("/api/officer/complaints/{id}", officerHandler.UpdateComplaint)
		r.Get("/api/officer/complaints/{id}/report.pdf", officerHandler.Report)

		r.With(middleware.RequireRole(model.RoleSupervisor)).Post("/api/officer/officers", officerHandler.CreateOfficer)
	})

	return r
}
