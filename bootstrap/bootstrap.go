// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/alistaircroll/pagelove/adapters/clock"
	fsstore "github.com/alistaircroll/pagelove/adapters/fs"
	"github.com/alistaircroll/pagelove/adapters/hasher"
	pagehttp "github.com/alistaircroll/pagelove/adapters/http"
	"github.com/alistaircroll/pagelove/adapters/idgen"
	"github.com/alistaircroll/pagelove/adapters/memory"
	"github.com/alistaircroll/pagelove/adapters/metrics"
	"github.com/alistaircroll/pagelove/adapters/sqlite"
	"github.com/alistaircroll/pagelove/app"
	"github.com/alistaircroll/pagelove/config"
	"github.com/alistaircroll/pagelove/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Store      ports.DocumentStore
	Engine     *app.Engine
	HTTPServer *http.Server
	Metrics    *metrics.Collector
}

// New wires the application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.Logging)

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clk := clock.Real{}
	policy := app.NewPolicyIndex(store, clk, logger, app.PolicyIndexConfig{
		RuleDoc:         cfg.Policy.RuleDoc,
		RecheckInterval: cfg.Policy.RefreshInterval,
	})

	var collector *metrics.Collector
	var engineMetrics app.Metrics = app.NopMetrics{}
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		engineMetrics = collector
	}

	engine := app.NewEngine(store, policy, clk, idgen.UUID{}, logger, engineMetrics, app.EngineConfig{
		Admins:          cfg.Policy.Admins,
		AdminGroup:      cfg.Policy.AdminGroup,
		MaxIncludeDepth: cfg.Compose.MaxIncludeDepth,
	})

	if snap, err := store.Snapshot(context.Background()); err == nil {
		engineMetrics.DocumentCount(len(snap.Paths()))
	}

	actors := make([]ports.Actor, 0, len(cfg.Actors))
	for _, a := range cfg.Actors {
		actors = append(actors, ports.Actor{
			Name:         a.Name,
			PasswordHash: []byte(a.PasswordHash),
			Admin:        a.Admin,
		})
	}

	docs := pagehttp.NewDocumentHandler(engine, logger, engineMetrics)
	auth := pagehttp.NewBasicAuth(memory.NewActorStore(actors), hasher.NewBcrypt(bcrypt.DefaultCost), logger)

	routerCfg := pagehttp.RouterConfig{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = promhttp.Handler()
	}
	router := pagehttp.NewRouter(docs, auth, logger, routerCfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		Logger:     logger,
		Config:     cfg,
		Store:      store,
		Engine:     engine,
		HTTPServer: server,
		Metrics:    collector,
	}, nil
}

// Run starts the server and blocks until interrupt or failure.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Str("driver", a.Config.Store.Driver).
			Str("rule_doc", a.Config.Policy.RuleDoc).
			Msg("starting document server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("store close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func openStore(cfg *config.Config, logger zerolog.Logger) (ports.DocumentStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn().Msg("memory store selected: documents will not survive a restart")
		return memory.NewDocStore(), nil

	case "fs":
		store, err := fsstore.Open(cfg.Store.Root, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Watch {
			if err := store.Watch(); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return sqlite.NewDocStore(db)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
