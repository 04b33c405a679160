package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberguard/internal/auth"
	"github.com/cyberguard/internal/catalog"
	"github.com/cyberguard/internal/config"
	"github.com/cyberguard/internal/gemini"
	"github.com/cyberguard/internal/intake"
	"github.com/cyberguard/internal/language"
	"github.com/cyberguard/internal/mailer"
	"github.com/cyberguard/internal/speech"
	"github.com/cyberguard/internal/store"
	"github.com/cyberguard/internal/telemetry"
	"github.com/cyberguard/internal/ticket"
)

const (
	mailRate     = 2 * time.Second
	mailBuffer   = 100
	mailMaxRetry = 3
)

type App struct {
	config          *config.Config
	logger          *slog.Logger
	db              *store.DB
	catalog         *catalog.Registry
	intakeSessions  *intake.SessionStore
	officerStore    *store.OfficerStore
	officerSessions *store.SessionStore
	tickets         *ticket.Store
	language        *language.Gateway
	prompter        *language.Prompter
	speech          *speech.Gateway
	mailer          *mailer.Mailer
	mailQueue       *mailer.Queue
	shutdownTracer  telemetry.ShutdownFunc
}

// Close flushes pending spans and closes the database.
func (app *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.shutdownTracer(ctx); err != nil {
		app.logger.Warn("tracer shutdown failed", "err", err)
	}
	app.db.Close()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)

	shutdownTracer, err := telemetry.Setup(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	app, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, err
	}
	app.shutdownTracer = shutdownTracer
	return app, nil
}

type options struct {
	generator   language.Generator
	transcriber speech.Transcriber
	listenOpts  []speech.GatewayOption
}

// Option replaces an external collaborator, mostly for tests.
type Option func(*options)

func WithGenerator(g language.Generator) Option {
	return func(o *options) { o.generator = g }
}

func WithTranscriber(t speech.Transcriber) Option {
	return func(o *options) { o.transcriber = t }
}

func WithListenWindows(calibration, startTimeout, phraseLimit time.Duration) Option {
	return func(o *options) {
		o.listenOpts = append(o.listenOpts, speech.WithListenWindows(calibration, startTimeout, phraseLimit))
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	reg := catalog.Default()
	if cfg.Language.Canonical != reg.Canonical() {
		return nil, fmt.Errorf("language.canonical %q does not match the catalog (%s)", cfg.Language.Canonical, reg.Canonical())
	}

	o := options{
		generator: gemini.NewClient(cfg.Gemini.APIKey,
			gemini.WithBaseURL(cfg.Gemini.BaseURL),
			gemini.WithModel(cfg.Gemini.Model),
		),
		transcriber: speech.NewClient(cfg.Speech.APIKey,
			speech.WithBaseURL(cfg.Speech.BaseURL),
			speech.WithModel(cfg.Speech.Model),
		),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := store.Open(ctx, cfg.PromptCache.Driver, cfg.PromptCache.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	officerStore := store.NewOfficerStore(db)
	officerSessions := store.NewSessionStore(db, store.DefaultSessionTTL)

	if _, err := auth.SeedFirstOfficer(ctx, officerStore, cfg.Officer.SeedEmail, cfg.Officer.SeedPassword); err != nil {
		logger.Warn("officer seed failed", "err", err)
	}

	m, err := newMailer(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	queue := mailer.NewQueue(m, mailRate, mailBuffer, mailMaxRetry)
	if !queue.Enabled() {
		logger.Info("complaint notifications disabled, smtp not configured")
	} else if err := m.Ping(); err != nil {
		logger.Warn("smtp server unreachable, notifications will be retried", "err", err)
	}

	gateway := language.NewGateway(o.generator, reg.IDTypes(), logger)

	return &App{
		config:          cfg,
		logger:          logger,
		db:              db,
		catalog:         reg,
		intakeSessions:  intake.NewSessionStore(cfg.Session.TTL),
		officerStore:    officerStore,
		officerSessions: officerSessions,
		tickets:         ticket.NewStore(),
		language:        gateway,
		prompter:        language.NewPrompter(gateway, store.NewPromptCache(db), reg.Canonical(), logger),
		speech:          speech.NewGateway(o.transcriber, cfg.Speech.SampleRate, logger, o.listenOpts...),
		mailer:          m,
		mailQueue:       queue,
		shutdownTracer:  func(context.Context) error { return nil },
	}, nil
}

func newMailer(cfg *config.Config) (*mailer.Mailer, error) {
	key, err := cfg.PGPPublicKey()
	if err != nil {
		return nil, err
	}

	m := mailer.New(&mailer.Config{
		Host:         cfg.SMTP.Host,
		Port:         cfg.SMTP.Port,
		User:         cfg.SMTP.User,
		Pass:         cfg.SMTP.Pass,
		FromName:     cfg.SMTP.FromName,
		FromAddress:  cfg.SMTP.FromAddress,
		To:           cfg.SMTP.Recipients(),
		PGPPublicKey: key,
	})
	if key != "" {
		if err := m.CanEncrypt(); err != nil {
			return nil, fmt.Errorf("smtp.pgp_public_key_path: %w", err)
		}
	}
	return m, nil
}

func (app *App) Start(ctx context.Context) error {
	// Create an errgroup derived from the parent context
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.routes(),
		// Gateway calls and evidence uploads are slow; live listening
		// extends its own read deadline.
		IdleTimeout:  time.Minute,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelError),
	}

	g.Go(func() error {
		app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	// Start shutdown listener
	g.Go(func() error {
		<-gctx.Done() // Wait for OS signal or a failed worker

		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		app.intakeSessions.Run(gctx, app.config.Session.SweepInterval)
		return nil
	})

	g.Go(func() error {
		app.sweepOfficerSessions(gctx, app.config.Session.SweepInterval)
		return nil
	})

	g.Go(func() error {
		app.mailQueue.Start(gctx)
		return nil
	})

	if path := app.config.SMTP.PGPPublicKeyPath; path != "" {
		kw, err := mailer.NewKeyWatcher(app.mailer, path, app.logger)
		if err != nil {
			app.logger.Warn("PGP key rotation disabled", "err", err)
		} else {
			g.Go(func() error {
				kw.Run(gctx)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	app.logger.Info("stopped server")
	return nil
}

func (app *App) sweepOfficerSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.officerSessions.DeleteExpired(ctx)
			if err != nil && ctx.Err() == nil {
				app.logger.Warn("officer session cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				app.logger.Debug("removed expired officer sessions", "count", n)
			}
		}
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo

	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	slog.SetDefault(logger)
	return logger
}
