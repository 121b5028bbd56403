package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"bordereau/internal/config"
	"bordereau/internal/infra/logging"
	"bordereau/internal/repo/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional config file")
	timeout := flag.Duration("timeout", time.Minute, "migration timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreBackend != config.StoreBackendPostgres {
		log.Fatalf("migrations only apply to STORE_BACKEND=%s", config.StoreBackendPostgres)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	store, err := postgres.NewStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	logger.Info("schema is up to date")
}
