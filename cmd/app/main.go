// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"video-generation-service/internal/config"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/domain/ports/repository"
	"video-generation-service/internal/infra/adapters/provider"
	"video-generation-service/internal/infra/adapters/refiner"
	"video-generation-service/internal/infra/api"
	apiv1 "video-generation-service/internal/infra/api/apiv1"
	pg "video-generation-service/internal/infra/db/postgres"
	"video-generation-service/internal/infra/db/sqlite"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/infra/metrics"
	red "video-generation-service/internal/infra/redis"
	"video-generation-service/internal/infra/sched"
	"video-generation-service/internal/infra/scheduler"
	"video-generation-service/internal/infra/storage"
	"video-generation-service/internal/infra/worker"
	"video-generation-service/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

type stores struct {
	jobs    repository.JobRepository
	project repository.ProjectRepository
	regens  repository.RegenerationRepository
	tm      repository.TransactionManager
	ping    api.Pinger
	close   func()
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, synthetic provider)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("service stopped")
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting video generation service")

	g, gctx := errgroup.WithContext(ctx)

	// ---- Storage ----
	st, err := openStores(ctx, g, gctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.close()
	checks := map[string]api.Pinger{"database": st.ping}

	// ---- Redis (optional) ----
	var locker repository.Locker
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		locker = red.NewLocker(rc)
		checks["redis"] = rc
	} else {
		logger.Warn().Msg("redis not configured; reconcile lease disabled")
	}

	assets, err := storage.NewFileStore(cfg.Storage.BasePath, cfg.Storage.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	// ---- Providers ----
	var providers []adapter.VideoProvider
	pc := cfg.Providers
	if pc.Synthetic.Enabled || cfg.Runtime.Dev {
		providers = append(providers, provider.NewSynthetic(pc.Synthetic.Delay, cfg.Storage.PublicBaseURL))
	}
	if pc.Veo.APIKey != "" {
		veo, err := provider.NewVeo(ctx, pc.Veo.APIKey, pc.Veo.BaseURL, pc.Veo.Model, pc.Veo.PollInterval)
		if err != nil {
			return fmt.Errorf("veo: %w", err)
		}
		providers = append(providers, veo)
	}
	gateway, err := provider.NewGateway(provider.GatewayOptions{
		Default:       pc.Default,
		Aliases:       pc.Aliases,
		MaxConcurrent: pc.MaxConcurrent,
		Breaker:       provider.BreakerSettings{MaxFailures: pc.Breaker.MaxFailures, OpenTimeout: pc.Breaker.OpenTimeout},
	}, assets, logger, providers...)
	if err != nil {
		return err
	}
	logger.Info().Strs("providers", gateway.Providers()).Str("default", pc.Default).Msg("provider gateway ready")

	var promptRefiner adapter.PromptRefiner = refiner.Template{}
	if cfg.Refiner.OpenAIKey != "" {
		var opts []option.RequestOption
		if cfg.Refiner.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Refiner.BaseURL))
		}
		oa, err := refiner.NewOpenAI(cfg.Refiner.OpenAIKey, cfg.Refiner.Model, cfg.Refiner.MaxPromptToken, logger, opts...)
		if err != nil {
			return fmt.Errorf("refiner: %w", err)
		}
		promptRefiner = oa
	}

	// ---- Worker pool ----
	pool := worker.NewPool(cfg.Worker.PoolSize, logger)
	pool.Start(gctx)
	defer pool.Stop()
	logger.Info().Int("workers", pool.Size()).Msg("worker pool started")

	// ---- Use cases ----
	w := cfg.Worker
	jobUC := usecase.NewJobUseCase(st.jobs, st.project, logger)
	projectUC := usecase.NewProjectUseCase(st.project, st.jobs, st.tm, w.BatchSize, logger)
	dispatchUC := usecase.NewDispatchUseCase(st.jobs, gateway, pool, usecase.DispatchConfig{
		BatchSize:       w.BatchSize,
		ProviderTimeout: w.ProviderTimeout,
	}, logger)
	regenUC := usecase.NewRegenerationUseCase(st.jobs, st.regens, gateway, promptRefiner, pool, w.ProviderTimeout, logger)
	watchdogUC := usecase.NewWatchdogUseCase(st.jobs, w.ClaimTTL, logger)

	// ---- Background loops ----
	dispatcher := sched.NewJobDispatcher(w.DispatchInterval, dispatchUC, logger)
	reconciler := sched.NewProjectReconciler(w.ReconcileInterval, w.ReconcileLease, projectUC, locker, logger)
	watchdog := sched.NewWatchdog(w.WatchdogCron, watchdogUC, scheduler.NewScheduler(logger), logger)

	// ---- HTTP ----
	srv := api.NewServer(cfg.HTTP, checks, func(r chi.Router) {
		apiv1.RegisterAPIV1(r, apiv1.NewServer(jobUC, projectUC, regenUC, watchdog, logger))
	}, logger)

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return watchdog.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	logger.Info().Msg("shutting down; draining worker pool")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStores(ctx context.Context, g *errgroup.Group, gctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*stores, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info().Str("dsn", cfg.URL).Msg("using sqlite store")
		return &stores{
			jobs:    sqlite.NewJobRepo(s),
			project: sqlite.NewProjectRepo(s),
			regens:  sqlite.NewRegenerationRepo(s),
			tm:      sqlite.NewTxManager(s),
			ping:    s,
			close:   func() { _ = s.Close() },
		}, nil
	default:
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		g.Go(func() error {
			pg.ReportPoolStats(gctx, pool, 15*time.Second, logger)
			return nil
		})
		return &stores{
			jobs:    pg.NewJobRepo(pool),
			project: pg.NewProjectRepo(pool),
			regens:  pg.NewRegenerationRepo(pool),
			tm:      pg.NewTxManager(pool),
			ping:    pool,
			close:   pool.Close,
		}, nil
	}
}
