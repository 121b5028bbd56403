package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bordereau/internal/config"
	httpapi "bordereau/internal/http"
	"bordereau/internal/http/auth"
	"bordereau/internal/infra/logging"
	"bordereau/internal/infra/metrics"
	"bordereau/internal/infra/policyopa"
	"bordereau/internal/infra/queue"
	"bordereau/internal/infra/ratelimit"
	"bordereau/internal/repo/memory"
	"bordereau/internal/repo/postgres"
	"bordereau/internal/usecase"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional config file")
	migrate := flag.Bool("migrate", false, "apply the schema before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger, *migrate)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer closeStore()

	q, redisClient, closeQueue, err := openQueue(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}
	defer closeQueue()

	policy, err := policyopa.NewEngine(ctx, cfg.PolicyPath)
	if err != nil {
		log.Fatalf("failed to load signature policy: %v", err)
	}
	if cfg.AuthMode != "header" {
		log.Fatalf("unsupported AUTH_MODE %q", cfg.AuthMode)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(0, nil)
	if redisClient != nil {
		if limiter, err = ratelimit.NewRedis(redisClient, cfg.QueueKey+":ratelimit"); err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	m := metrics.New()
	runner := usecase.NewTxRunner(store, q, logger, m)
	docs := usecase.NewDocumentService(runner, policy, logger, m)
	srv := httpapi.NewServerWithDeps(cfg, httpapi.ServerDeps{
		Documents:     docs,
		Transporters:  usecase.NewTransporterService(runner),
		Graph:         usecase.NewGraphService(runner, cfg.MaxTraversalHops),
		Revisions:     usecase.NewRevisionService(runner, logger, m),
		Events:        usecase.NewEventLog(runner),
		Authenticator: auth.NewHeaderAuthenticator(),
		Authorizer:    auth.NewAuthorizer(),
		RateLimiter:   limiter,
		Registry:      m.Registry,
		Logger:        logger,
	})
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger, migrate bool) (usecase.Store, func(), error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn("using the in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}
	store, err := postgres.NewStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}
	if err := store.Ping(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return store, closeFn, nil
}

// openQueue also returns the Redis client when one is configured, so the
// rate limiter can share it.
func openQueue(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (usecase.Queue, *redis.Client, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, index jobs stay in memory")
		return queue.NewMemoryQueue(1024), nil, func() {}, nil
	}
	q, err := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := q.Ping(ctx); err != nil {
		_ = q.Close()
		return nil, nil, nil, err
	}
	return q, q.Client(), func() { _ = q.Close() }, nil
}
