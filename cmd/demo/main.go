package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"video-generation-service/internal/config"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/infra/adapters/provider"
	"video-generation-service/internal/infra/adapters/refiner"
	"video-generation-service/internal/infra/db/sqlite"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/infra/storage"
	"video-generation-service/internal/infra/worker"
	"video-generation-service/internal/usecase"
)

// Runs one project through render, dispatch and a scene regeneration against
// a throwaway SQLite database and the synthetic provider.
func main() {
	dir, err := os.MkdirTemp("", "vgs-demo-*")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	logger := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)

	// 1. Storage
	store, err := sqlite.Open(ctx, filepath.Join(dir, "demo.db"))
	if err != nil {
		log.Fatalf("sqlite: %v", err)
	}
	defer store.Close()
	jobs, projects, regens := sqlite.NewJobRepo(store), sqlite.NewProjectRepo(store), sqlite.NewRegenerationRepo(store)

	assets, err := storage.NewFileStore(filepath.Join(dir, "assets"), "")
	if err != nil {
		log.Fatalf("assets: %v", err)
	}
	gateway, err := provider.NewGateway(provider.GatewayOptions{
		Default:       "synthetic",
		MaxConcurrent: 2,
		Breaker:       provider.BreakerSettings{MaxFailures: 3, OpenTimeout: 10 * time.Second},
	}, assets, logger, provider.NewSynthetic(400*time.Millisecond, ""))
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	pool := worker.NewPool(2, logger)
	pool.Start(ctx)
	defer pool.Stop()

	projectUC := usecase.NewProjectUseCase(projects, jobs, sqlite.NewTxManager(store), 10, logger)
	dispatchUC := usecase.NewDispatchUseCase(jobs, gateway, pool, usecase.DispatchConfig{BatchSize: 10, ProviderTimeout: 10 * time.Second}, logger)
	regenUC := usecase.NewRegenerationUseCase(jobs, regens, gateway, refiner.Template{}, pool, 10*time.Second, logger)

	// 2. Project + render request
	p, err := projectUC.Create(ctx, usecase.CreateProjectInput{
		UserID: "demo-user",
		Title:  "Demo teaser",
		Data: model.MustPayload(map[string]any{"scenes": []map[string]string{
			{"prompt": "A lighthouse at dusk"},
			{"prompt": "Waves crashing on rocks"},
			{"prompt": "Title card: Coastline"},
		}}),
	})
	if err != nil {
		log.Fatalf("create project: %v", err)
	}
	if err := projectUC.RequestRender(ctx, p.ID, ""); err != nil {
		log.Fatalf("request render: %v", err)
	}

	// 3. Drive the loops by hand until the project settles.
	status := waitProject(ctx, projectUC, dispatchUC, p.ID, logger)
	fmt.Printf("project %s settled as %s\n", p.ID, status)

	view, err := projectUC.Get(ctx, p.ID)
	if err != nil || len(view.Jobs) == 0 {
		log.Fatalf("get project: %v", err)
	}
	job := view.Jobs[0]
	fmt.Printf("job %s: %s %d%% %s\n", job.ID, job.Status, job.Progress, job.OutputURL)

	// 4. Regenerate the last scene.
	rec, err := regenUC.RegenerateScene(ctx, usecase.RegenerateSceneInput{JobID: job.ID, SceneIndex: 2, Reason: "make the title larger"})
	if err != nil {
		log.Fatalf("regenerate: %v", err)
	}
	out, _ := rec.Outcome()
	fmt.Printf("scene %d regenerated: %s %s\n", rec.SceneIndex, out.Status, out.OutputURL)
}

func waitProject(ctx context.Context, projects usecase.ProjectUseCase, dispatch usecase.DispatchUseCase, id string, logger *zerolog.Logger) model.ProjectStatus {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := projects.Tick(ctx); err != nil {
			logger.Warn().Err(err).Msg("project tick failed")
		}
		if _, err := dispatch.Tick(ctx); err != nil {
			logger.Warn().Err(err).Msg("dispatch tick failed")
		}
		view, err := projects.Get(ctx, id)
		if err == nil {
			switch s := view.Project.Status; s {
			case model.ProjectStatusReady, model.ProjectStatusFailed:
				return s
			}
		}
		select {
		case <-ctx.Done():
			log.Fatalf("project did not settle: %v", ctx.Err())
		case <-ticker.C:
		}
	}
}
