// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/incident-warden/internal/collab"
	"github.com/bissquit/incident-warden/internal/config"
	"github.com/bissquit/incident-warden/internal/directory"
	"github.com/bissquit/incident-warden/internal/escalation"
	"github.com/bissquit/incident-warden/internal/incidents"
	"github.com/bissquit/incident-warden/internal/incidents/memstore"
	incidentspostgres "github.com/bissquit/incident-warden/internal/incidents/postgres"
	"github.com/bissquit/incident-warden/internal/notify"
	"github.com/bissquit/incident-warden/internal/notify/email"
	"github.com/bissquit/incident-warden/internal/notify/sms"
	"github.com/bissquit/incident-warden/internal/notify/webhook"
	"github.com/bissquit/incident-warden/internal/orchestrator"
	"github.com/bissquit/incident-warden/internal/pkg/ctxlog"
	"github.com/bissquit/incident-warden/internal/pkg/httputil"
	"github.com/bissquit/incident-warden/internal/pkg/metrics"
	"github.com/bissquit/incident-warden/internal/pkg/postgres"
	"github.com/bissquit/incident-warden/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool // nil when running on the in-memory store
	store         incidents.Store
	server        *http.Server
	metricsServer *http.Server
	workerCancel  context.CancelFunc
	engine        *escalation.Engine
	coordinator   *orchestrator.Coordinator
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	dir, err := directory.Load(cfg.Directory.Path)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if cfg.Database.URL != "" {
		if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}

		connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		app.db = db
		app.store = incidentspostgres.NewStore(db)
	} else {
		logger.Warn("no database configured, using in-memory store: state is lost on restart")
		app.store = memstore.New()
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	app.workerCancel = workerCancel

	if app.db != nil {
		go app.collectDBMetrics(workerCtx)
	}

	router, err := app.setup(workerCtx, dir)
	if err != nil {
		if app.db != nil {
			app.db.Close()
		}
		workerCancel()
		return nil, fmt.Errorf("setup application: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.workerCancel()

	if a.engine != nil {
		a.engine.Stop()
	}
	if a.coordinator != nil {
		a.coordinator.Wait()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.db != nil {
		a.db.Close()
	}

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Store returns the incident store. Used in tests.
func (a *App) Store() incidents.Store {
	return a.store
}

// Engine returns the escalation engine instance, nil when disabled.
func (a *App) Engine() *escalation.Engine {
	return a.engine
}

func (a *App) setup(ctx context.Context, dir directory.Directory) (*chi.Mux, error) {
	dispatcher, err := a.buildDispatcher()
	if err != nil {
		return nil, err
	}
	router := notify.NewRouter(dir, dispatcher)

	var docs orchestrator.DocumentCreator
	if a.config.Collab.Document.BaseURL != "" {
		client, err := collab.NewDocumentClient(collab.DocumentConfig{
			BaseURL:  a.config.Collab.Document.BaseURL,
			APIToken: a.config.Collab.Document.APIToken,
			Timeout:  a.config.Collab.Document.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create document client: %w", err)
		}
		docs = client
	} else {
		slog.Warn("document service not configured, incident documents will not be created")
	}

	var rooms orchestrator.WarRoomCreator
	if a.config.Collab.Chat.BaseURL != "" {
		client, err := collab.NewChatClient(collab.ChatConfig{
			BaseURL:  a.config.Collab.Chat.BaseURL,
			APIToken: a.config.Collab.Chat.APIToken,
			Timeout:  a.config.Collab.Chat.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create chat client: %w", err)
		}
		rooms = client
	} else {
		slog.Warn("chat service not configured, war rooms will not be created")
	}

	a.coordinator = orchestrator.NewCoordinator(orchestrator.Config{
		StepTimeout: a.config.Orchestrator.StepTimeout,
		RunTimeout:  a.config.Orchestrator.RunTimeout,
	}, a.store, dir, router, docs, rooms)

	incidentsService := incidents.NewService(a.store, dir, a.config.Incidents.FallbackService)
	incidentsService.OnCreated(a.coordinator.Dispatch)
	incidentsHandler := incidents.NewHandler(incidentsService)

	if a.config.Escalation.Enabled {
		a.engine = escalation.NewEngine(escalation.Config{
			SweepInterval:      a.config.Escalation.SweepInterval,
			HaltOnAcknowledged: a.config.Escalation.HaltOnAcknowledged,
			ReminderAfter:      a.config.Escalation.ReminderAfter,
			ReminderEvery:      a.config.Escalation.ReminderEvery,
			IncidentTimeout:    a.config.Escalation.IncidentTimeout,
		}, a.store, dir, dispatcher)
		a.engine.Start(ctx)
	} else {
		slog.Warn("escalation engine disabled")
	}

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		incidentsHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) buildDispatcher() (*notify.Dispatcher, error) {
	if !a.config.Notifications.Enabled {
		slog.Warn("notifications disabled, incident broadcasts will not be delivered")
		return notify.NewDispatcher(), nil
	}

	webhookSender := webhook.NewSender(webhook.Config{
		DefaultUsername: a.config.Notifications.Webhook.Username,
		DefaultIconURL:  a.config.Notifications.Webhook.IconURL,
		Timeout:         a.config.Notifications.Webhook.Timeout,
	})

	emailSender, err := email.NewSender(email.Config{
		Enabled:      a.config.Notifications.Email.Enabled,
		SMTPHost:     a.config.Notifications.Email.SMTPHost,
		SMTPPort:     a.config.Notifications.Email.SMTPPort,
		SMTPUser:     a.config.Notifications.Email.SMTPUser,
		SMTPPassword: a.config.Notifications.Email.SMTPPassword,
		FromAddress:  a.config.Notifications.Email.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	if !a.config.Notifications.Email.Enabled {
		slog.Warn("email sender is disabled: email notifications will not be sent")
	}

	smsSender, err := sms.NewSender(sms.Config{
		Enabled:    a.config.Notifications.SMS.Enabled,
		GatewayURL: a.config.Notifications.SMS.GatewayURL,
		APIKey:     a.config.Notifications.SMS.APIKey,
		From:       a.config.Notifications.SMS.From,
		Timeout:    a.config.Notifications.SMS.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create sms sender: %w", err)
	}
	if !a.config.Notifications.SMS.Enabled {
		slog.Warn("sms sender is disabled: urgent pages will not be sent")
	}

	return notify.NewDispatcher(webhookSender, emailSender, smsSender), nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
