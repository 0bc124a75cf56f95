package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	_ "epub-converter-service/docs"
	"epub-converter-service/internal/cache"
	"epub-converter-service/internal/config"
	"epub-converter-service/internal/observability"
	"epub-converter-service/internal/pipeline"
	"epub-converter-service/internal/progress"
	"epub-converter-service/internal/repository/postgresql"
	"epub-converter-service/internal/service"
	httptransport "epub-converter-service/internal/transport/http"
	"epub-converter-service/internal/usage"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		bootLog := observability.NewLogger("info", "json", "epub-converter-api")
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, "epub-converter-api")

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

	jobRepo := postgresql.NewJobRepository(pool)
	usageRepo := postgresql.NewUsageRepository(pool)

	limits := usage.NewConfigResolver(tiersFromConfig(cfg), cfg.Usage.Owners, cfg.Usage.DefaultTier)
	tracker := usage.NewTracker(usageRepo, cacheClient, cfg.Usage.CacheTTL, limits, log)

	queue := service.NewRedisConversionQueue(
		rdb,
		cfg.Queue.ClaimMapKey,
		service.Lane{QueueKey: cfg.Queue.QueueKey + ":low", ProcessingKey: cfg.Queue.ProcessingKey + ":low"},
		service.Lane{QueueKey: cfg.Queue.QueueKey + ":normal", ProcessingKey: cfg.Queue.ProcessingKey + ":normal"},
		service.Lane{QueueKey: cfg.Queue.QueueKey + ":high", ProcessingKey: cfg.Queue.ProcessingKey + ":high"},
	)

	svc := service.NewConversionService(jobRepo, queue, tracker, limits, log)
	progressReader := progress.NewReader(cacheClient)

	stageNames := []string{pipeline.StageExtract, pipeline.StageAnalyze, pipeline.StagePackage}
	handler := httptransport.NewHandler(svc, progressReader, tracker, stageNames)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httptransport.Routes(handler, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("api stopped")
}

func tiersFromConfig(cfg *config.Config) map[string]usage.Tier {
	tiers := make(map[string]usage.Tier, len(cfg.Usage.Tiers))
	for name, tc := range cfg.Usage.Tiers {
		tiers[name] = usage.Tier{Name: name, Limit: tc.Limit, Priority: tc.Priority}
	}
	return tiers
}
