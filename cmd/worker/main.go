package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"epub-converter-service/internal/analysis"
	"epub-converter-service/internal/cache"
	"epub-converter-service/internal/config"
	"epub-converter-service/internal/convert"
	"epub-converter-service/internal/observability"
	"epub-converter-service/internal/pipeline"
	"epub-converter-service/internal/progress"
	"epub-converter-service/internal/provider"
	"epub-converter-service/internal/repository/postgresql"
	"epub-converter-service/internal/service"
	"epub-converter-service/internal/worker"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		bootLog := observability.NewLogger("info", "json", "epub-converter-worker")
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, "epub-converter-worker")

	pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}

	cacheClient := cache.NewRedisClient(rdb, cfg.Redis.Prefix)

	primary, err := provider.NewHTTPClient(providerConfig(cfg.Providers.Primary), log)
	if err != nil {
		log.Fatal().Err(err).Msg("primary provider")
	}
	fallback, err := provider.NewHTTPClient(providerConfig(cfg.Providers.Fallback), log)
	if err != nil {
		log.Fatal().Err(err).Msg("fallback provider")
	}

	policy := analysis.Policy{
		MaxAttempts:     cfg.Providers.Retry.MaxAttempts,
		UnknownAttempts: cfg.Providers.Retry.UnknownAttempts,
		BaseDelay:       cfg.Providers.Retry.BaseDelay,
		Multipliers:     cfg.Providers.Retry.Multipliers,
		MaxDelay:        cfg.Providers.Retry.MaxDelay,
	}
	router := analysis.NewRouter(primary, fallback, policy, log)

	extractor := convert.NewExtractorClient(cfg.Extractor.BaseURL, cfg.Extractor.Timeout, log)
	packager := convert.NewPackagerClient(cfg.Packager.BaseURL, cfg.Packager.Timeout, log)

	jobRepo := postgresql.NewJobRepository(pool)
	publisher := progress.NewPublisher(cacheClient, cfg.Pipeline.ProgressTTL, log)
	executor := pipeline.NewExecutor(cfg.Pipeline.SoftStageTimeout, cfg.Pipeline.HardStageTimeout, log)
	orchestrator := pipeline.NewOrchestrator(
		jobRepo,
		pipeline.ProductionStages(extractor, router, packager),
		executor,
		publisher,
		log,
	)

	queue := service.NewRedisConversionQueue(
		rdb,
		cfg.Queue.ClaimMapKey,
		service.Lane{QueueKey: cfg.Queue.QueueKey + ":low", ProcessingKey: cfg.Queue.ProcessingKey + ":low"},
		service.Lane{QueueKey: cfg.Queue.QueueKey + ":normal", ProcessingKey: cfg.Queue.ProcessingKey + ":normal"},
		service.Lane{QueueKey: cfg.Queue.QueueKey + ":high", ProcessingKey: cfg.Queue.ProcessingKey + ":high"},
	)

	// reaper: periodically move claimed-but-unacked jobs back to their lane
	// (worker crashed or restarted mid-run)
	go func() {
		ticker := time.NewTicker(cfg.Worker.ReaperInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueStale(ctx, cfg.Worker.ReaperBatch)
				if err != nil {
					log.Error().Err(err).Msg("requeue stale")
					continue
				}
				if n > 0 {
					log.Info().Int64("requeued", n).Msg("requeued stale conversions")
				}
			}
		}
	}()

	processor := worker.NewProcessor(orchestrator, log)
	workers := worker.NewPool(queue, processor, cfg.Worker.Workers, log)

	workers.Run(ctx)

	log.Info().Msg("worker stopped")
}

func providerConfig(pc config.ProviderConfig) provider.HTTPClientConfig {
	return provider.HTTPClientConfig{
		Name:    pc.Name,
		BaseURL: pc.BaseURL,
		APIKey:  pc.APIKey,
		Model:   pc.Model,
		Timeout: pc.Timeout,
	}
}
