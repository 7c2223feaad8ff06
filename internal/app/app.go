// Package app wires the entitlement server together: configuration,
// logging, tracing, storage, the engine and the HTTP surface, plus the
// serve/shutdown lifecycle.
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
	"golang.org/x/sync/errgroup"

	"poscore/internal/config"
	"poscore/internal/entitlement"
	"poscore/internal/infrastructure"
	"poscore/internal/notify"
	"poscore/internal/services"
	"poscore/internal/store"
	handlers "poscore/internal/transport/http"
	"poscore/internal/window"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// Application is the composed entitlement server.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Store         entitlement.Store
	Hub           *notify.Hub
	Gateway       *entitlement.Gateway
	Server        *http.Server
	OTelProviders *infrastructure.OTelProviders

	redisClient *redis.Client
}

// NewApplication builds the application from configuration. Every
// dependency is constructed here; nothing reaches for globals later.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.ServiceVersion = Version
	otelCfg.Enabled = cfg.Logging.Development
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := a.initializeStore(); err != nil {
		return nil, err
	}
	a.initializeEngine()
	a.createServer()

	return a, nil
}

func (a *Application) initializeStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.Config.Database.Embedded {
		a.Logger.Info("using embedded in-memory store")
		a.Store = store.NewMemory()
		return nil
	}

	pg, err := store.NewPostgres(ctx, store.PostgresConfig{
		Host:     a.Config.Database.Host,
		Port:     a.Config.Database.Port,
		User:     a.Config.Database.User,
		Password: a.Config.Database.Password,
		Database: a.Config.Database.Database,
		SSLMode:  a.Config.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.Store = pg
	return nil
}

func (a *Application) initializeEngine() {
	var counter window.Counter
	if a.Config.Redis.Enabled {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		counter = window.NewRedis(a.redisClient, a.Config.Entitlement.VolumeWindow)
		a.Logger.Info("registration window backed by redis",
			slog.String("addr", a.Config.Redis.Addr))
	} else {
		counter = window.NewMemory(a.Config.Entitlement.VolumeWindow)
	}

	a.Hub = notify.NewHub(a.Logger)

	engineCfg := entitlement.Config{
		DefaultTrialCredits:   a.Config.Entitlement.DefaultTrialCredits,
		VolumeThreshold:       a.Config.Entitlement.VolumeThreshold,
		VolumeWindow:          a.Config.Entitlement.VolumeWindow,
		DefaultMaxActivations: a.Config.Entitlement.DefaultMaxActivations,
	}
	engine := entitlement.NewEngine(a.Store, counter, a.Hub, a.Logger, engineCfg)
	a.Gateway = entitlement.NewGateway(engine, nil)
}

func (a *Application) createServer() {
	entitlementSvc := services.NewEntitlementService(a.Gateway, a.Logger)
	adminSvc := services.NewAdminService(a.Gateway, a.Logger)
	healthSvc := services.NewHealthService(a.Store, Version, a.Logger)

	router := handlers.NewRouter(handlers.RouterDeps{
		Entitlement: handlers.NewEntitlementHandler(entitlementSvc, a.Hub, a.Logger),
		Admin:       handlers.NewAdminHandler(adminSvc, a.Logger),
		Health:      handlers.NewHealthHandler(healthSvc, a.Logger),
		Config:      a.Config,
		Logger:      a.Logger,
	})

	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("entitlement server listening",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version),
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Stop()
	})

	return g.Wait()
}

// Stop drains in-flight requests and releases resources.
func (a *Application) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	a.Logger.Info("shutting down")
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Error("redis close failed", slog.String("error", err.Error()))
		}
	}
	a.Store.Close()
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		a.Logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}
