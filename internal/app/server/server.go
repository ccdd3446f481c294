package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-targeting/internal/api"
	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/config"
	"campaign-targeting/internal/engine"
	"campaign-targeting/internal/generation"
	"campaign-targeting/internal/listener"
	"campaign-targeting/internal/segment"
	"campaign-targeting/internal/storage"
	"campaign-targeting/migrations"
)

// backend bundles the repositories of one storage driver.
type backend struct {
	campaigns  campaign.CampaignRepository
	segments   campaign.SegmentRepository
	population storage.PopulationLoader
	active     engine.ActiveLoader
	pinger     api.Pinger
	store      *storage.Store // nil for the memory driver
}

func (b *backend) Close() {
	if b.store != nil {
		b.store.Close()
	}
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		mem := storage.NewMemory()
		return &backend{campaigns: mem, segments: mem, population: mem, active: mem}, nil
	}
	st, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dsn", st.DSNRedacted()).Msg("postgres pool ready")
	if cfg.Postgres.AutoMigrate {
		if err := st.Migrate(ctx, migrations.FS); err != nil {
			st.Close()
			return nil, err
		}
	}
	return &backend{campaigns: st, segments: st, population: st, active: st, pinger: st, store: st}, nil
}

func loadCatalog(cfg config.Config) (*segment.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return segment.DefaultCatalog(), nil
	}
	cat, err := segment.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.Catalog.Path).Int("fields", len(cat.ListFields())).Msg("field catalog loaded")
	return cat, nil
}

func newEstimator(cfg config.Config, cat *segment.Catalog, pop *storage.PopulationCache) segment.Estimator {
	if cfg.Estimator.Mode == config.EstimatorPlaceholder {
		log.Warn().Msg("audience sizes are placeholders, not real counts")
		return segment.NewPlaceholderEstimator(cfg.Estimator.Min, cfg.Estimator.Max, cfg.EstimatorLatency(), cfg.Estimator.Seed)
	}
	return segment.NewPopulationEstimator(segment.NewEvaluator(cat), pop)
}

func newGenerator(cfg config.Config) *generation.Client {
	return generation.NewClient(generation.Config{
		APIURL:      cfg.Generation.APIURL,
		APIKey:      cfg.Generation.APIKey,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		MinInterval: cfg.GenerationInterval(),
		Fallback:    cfg.Generation.Fallback,
	}, nil)
}

// App is the assembled service, ready to serve.
type App struct {
	Handler    http.Handler
	Service    *campaign.Service
	Engine     *engine.DeliveryEngine
	Population *storage.PopulationCache

	backend *backend
}

// Build wires storage, estimator, generator and HTTP routes from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("field catalog: %w", err)
	}
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	pop := storage.NewPopulationCache(be.population)
	svc := campaign.NewService(be.campaigns, be.segments, cat, newEstimator(cfg, cat, pop), newGenerator(cfg))
	eng := engine.NewEngine(segment.NewEvaluator(cat), be.active)
	h := api.NewHandler(svc, eng)
	return &App{
		Handler:    api.Router(h, be.pinger, cfg.RequestTimeout()),
		Service:    svc,
		Engine:     eng,
		Population: pop,
		backend:    be,
	}, nil
}

func (a *App) Close() {
	a.Service.Close()
	a.backend.Close()
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Build(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}
	defer app.Close()

	if cfg.Estimator.Mode == config.EstimatorPopulation {
		if err := app.Population.Refresh(rootCtx); err != nil {
			log.Fatal().Err(err).Msg("initial population load")
		}
	}
	if err := app.Engine.BuildSnapshot(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("initial snapshot build")
	}
	go app.Engine.RefreshEvery(rootCtx, cfg.RefreshInterval())

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	if st := app.backend.store; st != nil {
		channel := cfg.Listener.Channel
		if channel == "" {
			channel = st.ListenChannel()
		}
		targets := listener.Refreshers{app.Engine}
		if cfg.Estimator.Mode == config.EstimatorPopulation {
			targets = append(targets, app.Population)
		}
		go listener.ListenAndRefresh(rootCtx, st.PgxPool(), targets, channel, cfg.Backoff())
	}

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("storage", cfg.Storage.Driver).Str("estimator", cfg.Estimator.Mode).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
