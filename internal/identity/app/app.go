package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/wattleglen/authrelay/internal/identity/http"
	"github.com/wattleglen/authrelay/internal/identity/provider"
	"github.com/wattleglen/authrelay/internal/identity/service"
	"github.com/wattleglen/authrelay/internal/identity/session"
	"github.com/wattleglen/authrelay/internal/identity/store"
	"github.com/wattleglen/authrelay/internal/identity/store/drivers/sqlite"
	"github.com/wattleglen/authrelay/pkg/jwtx"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the identity service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	keys     *jwtx.Keyring
	sessions session.Store

	// Services
	tokenService        *service.TokenService
	userService         *service.UserService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "identity-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.keys = jwtx.NewKeyring()
	if err := app.keys.Add(cfg.SigningKID, []byte(cfg.SigningSecret)); err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	if err := app.initSessions(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		return nil, err
	}

	if err := app.initHTTP(); err != nil {
		return nil, err
	}

	if err := app.seedBootstrapUser(context.Background()); err != nil {
		return nil, err
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("identity service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down identity service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("identity service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initSessions picks the session backend. Memory is the default; redis keeps
// interactive logins alive across restarts and replicas.
func (app *Application) initSessions() error {
	switch app.cfg.SessionBackend {
	case "redis":
		opts, err := redis.ParseURL(app.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.sessions = session.NewRedisStore(client)
		app.logger.Info("session store initialised", "backend", "redis")
	default:
		app.sessions = session.NewMemoryStore()
		app.logger.Info("session store initialised", "backend", "memory")
	}
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	signer, err := jwtx.NewSigner(app.cfg.SigningKID, []byte(app.cfg.SigningSecret))
	if err != nil {
		return fmt.Errorf("failed to initialize token signer: %w", err)
	}

	app.tokenService = &service.TokenService{
		Signer:     signer,
		Verifier:   jwtx.NewVerifier(app.keys, app.cfg.Issuer, nil),
		Store:      app.db,
		Issuer:     app.cfg.Issuer,
		Audience:   app.cfg.Audience,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	}

	app.userService = &service.UserService{Store: app.db}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// initProviders builds the upstream OAuth registry from whichever providers
// are configured. Running with none is fine; password login still works.
func (app *Application) initProviders() (*provider.Registry, error) {
	var providers []provider.Provider

	if app.cfg.GoogleClientID != "" {
		p, err := provider.NewGoogle(app.cfg.GoogleClientID, app.cfg.GoogleClientSecret, app.cfg.GoogleRedirectURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure google oauth: %w", err)
		}
		providers = append(providers, p)
	}

	if app.cfg.GitHubClientID != "" {
		p, err := provider.NewGitHub(app.cfg.GitHubClientID, app.cfg.GitHubClientSecret, app.cfg.GitHubRedirectURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure github oauth: %w", err)
		}
		providers = append(providers, p)
	}

	if len(providers) > 0 {
		app.logger.Info("oauth providers configured", "count", len(providers))
	}
	return provider.NewRegistry(providers...), nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() error {
	templates, err := httpapi.NewTemplates(app.cfg.TemplateDir, app.logger)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	providers, err := app.initProviders()
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(
		app.keys,
		BuildVersion,
		app.db,
		app.sessions,
		app.logger,
	)

	// Wire services to router
	router.TokenService = app.tokenService
	router.UserService = app.userService
	router.Providers = providers
	router.Templates = templates
	router.Audience = app.cfg.Audience
	router.DefaultRedirectURL = app.cfg.DefaultRedirectURL
	router.SessionTTL = app.cfg.SessionTTL
	router.SecureCookies = app.cfg.SecureCookies
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
