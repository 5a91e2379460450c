package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/rs/zerolog"

	"video-generation-service/internal/config"
	"video-generation-service/internal/domain/model"
	pg "video-generation-service/internal/infra/db/postgres"
	"video-generation-service/internal/infra/db/sqlite"
	"video-generation-service/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	render := flag.Bool("render", true, "request a render for the seeded project")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger := zerolog.Nop()

	var projectUC usecase.ProjectUseCase
	switch cfg.Database.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer s.Close()
		projectUC = usecase.NewProjectUseCase(sqlite.NewProjectRepo(s), sqlite.NewJobRepo(s), sqlite.NewTxManager(s), cfg.Worker.BatchSize, &logger)
	default:
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		projectUC = usecase.NewProjectUseCase(pg.NewProjectRepo(pool), pg.NewJobRepo(pool), pg.NewTxManager(pool), cfg.Worker.BatchSize, &logger)
	}

	// A sample three-scene product teaser in two formats.
	data := model.MustPayload(map[string]any{
		"scenes": []map[string]string{
			{"prompt": "Sunrise over a quiet harbour, slow dolly in"},
			{"prompt": "Close-up of the product on a wooden desk, soft light"},
			{"prompt": "Logo reveal on a dark gradient background"},
		},
		"aspect_ratio": "16:9",
	})
	p, err := projectUC.Create(ctx, usecase.CreateProjectInput{
		UserID:        "seed-user",
		Title:         "Product teaser",
		Description:   "Seeded demo project",
		Data:          data,
		OutputFormats: []string{"mp4", "webm"},
	})
	if err != nil {
		log.Fatalf("create project: %v", err)
	}
	fmt.Printf("seeded project %s (%q, formats=%v)\n", p.ID, p.Title, p.Formats())

	if *render {
		if err := projectUC.RequestRender(ctx, p.ID, ""); err != nil {
			log.Fatalf("request render: %v", err)
		}
		fmt.Println("render requested; jobs are enqueued on the next reconcile tick")
	}
}
