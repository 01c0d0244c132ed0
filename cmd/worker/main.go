package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"orderflow.app/engine/common/id"
	"orderflow.app/engine/common/logger"
	"orderflow.app/engine/core/config"
	"orderflow.app/engine/core/db"
	"orderflow.app/engine/internal/dispatch"
	"orderflow.app/engine/internal/flow"
	"orderflow.app/engine/internal/outbound"
	"orderflow.app/engine/internal/queue"
	"orderflow.app/engine/internal/render"
	"orderflow.app/engine/internal/rules"
	"orderflow.app/engine/internal/store"
	"orderflow.app/engine/internal/sweep"
	"orderflow.app/engine/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "engine worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server so snowflake IDs never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Flow.MaxRetries,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database)
	resolver := rules.NewLoader(newRuleSource(ctx, cfg.Rules), cfg.Rules.CacheTTL)
	machine := flow.NewMachine(cfg.Flow)

	emitter := outbound.NewEmitter(newRenderer(ctx, cfg.Render), outbound.LogSender{}, outbound.LogSink{}, outbound.Config{
		MaxAttempts: cfg.Flow.MaxRetries,
	})

	dispatcher := dispatch.New(stores.Sessions(), stores.EventLogs(), resolver, machine, emitter, dispatch.Config{
		DomainKey:  cfg.Rules.DomainKey,
		MaxRetries: cfg.Flow.MaxRetries,
	})

	w := worker.New(consumer, dispatcher, worker.Config{
		MaxAttempts: cfg.Flow.MaxRetries,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	sweeper := sweep.New(stores.Sessions(), resolver, machine, emitter, sweep.Config{
		Interval:  cfg.Flow.SweepInterval,
		BatchSize: 100,
		DomainKey: cfg.Rules.DomainKey,
	})

	errCh := make(chan error, 3)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()
	go func() {
		sweeper.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the periodic loops first (quick), then the worker (may be
	// mid-message).
	sweeper.Stop()
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

func newRuleSource(ctx context.Context, cfg config.RulesConfig) rules.Source {
	if !cfg.Enabled() {
		slog.InfoContext(ctx, "rule store not configured, using built-in ruleset")
		return nil
	}
	source, err := rules.NewTypesenseSource(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create rule source", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "rule store configured", "collection", cfg.Collection, "domain_key", cfg.DomainKey)
	return source
}

func newRenderer(ctx context.Context, cfg config.RenderConfig) render.Renderer {
	if !cfg.Enabled() {
		slog.InfoContext(ctx, "renderer not configured, sending composed text")
		return render.Static{}
	}
	llm, err := render.NewLLM(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create renderer", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "renderer configured", "model", cfg.Model)
	return llm
}

const banner = `
███████╗███╗   ██╗ ██████╗ ██╗███╗   ██╗███████╗    ██╗    ██╗██████╗ ██╗  ██╗██████╗
██╔════╝████╗  ██║██╔════╝ ██║████╗  ██║██╔════╝    ██║    ██║██╔══██╗██║ ██╔╝██╔══██╗
█████╗  ██╔██╗ ██║██║  ███╗██║██╔██╗ ██║█████╗      ██║ █╗ ██║██████╔╝█████╔╝ ██████╔╝
██╔══╝  ██║╚██╗██║██║   ██║██║██║╚██╗██║██╔══╝      ██║███╗██║██╔══██╗██╔═██╗ ██╔══██╗
███████╗██║ ╚████║╚██████╔╝██║██║ ╚████║███████╗    ╚███╔███╔╝██║  ██║██║  ██╗██║  ██║
╚══════╝╚═╝  ╚═══╝ ╚═════╝ ╚═╝╚═╝  ╚═══╝╚══════╝     ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝
`
