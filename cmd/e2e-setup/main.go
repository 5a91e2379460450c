package main

import (
	"context"
	"flag"
	"log"

	"video-generation-service/internal/config"
	"video-generation-service/internal/infra/db/postgres"
	"video-generation-service/internal/infra/redis"
)

// Resets Postgres and Redis to an empty, migrated state for manual
// end-to-end runs against a local stack.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("e2e setup only supports postgres, got %q", cfg.Database.Driver)
	}

	// --- Connect to Postgres ---
	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/3] Applying migrations...")
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	log.Println("[2/3] Wiping projects, jobs and regeneration history...")
	if _, err := pool.Exec(ctx, `TRUNCATE scene_regenerations, jobs, projects RESTART IDENTITY CASCADE`); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[3/3] Clearing leases in Redis...")
	if cfg.Redis.URL == "" {
		log.Println("      redis not configured, skipping")
	} else {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer rc.Close()
		if err := rc.FlushDB(ctx); err != nil {
			log.Fatalf("failed to flush redis: %v", err)
		}
	}

	log.Println("--- E2E Environment Setup Complete ---")
}
