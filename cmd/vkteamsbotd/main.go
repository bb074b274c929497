// Command vkteamsbotd wires the rate limiter, task scheduler, event
// dispatcher, and storage into a long-running process and runs until a
// termination signal arrives. The chat API transport itself is outside
// this core's scope (spec §1) — vkteamsbotd only ships against the
// recording botapi/fake implementation in -mock mode; a real deployment
// links in a concrete botapi.API built against the target transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vkteamsbot/internal/config"
	"vkteamsbot/internal/coreerr"
	"vkteamsbot/internal/logx"
	"vkteamsbot/pkg/botapi"
	"vkteamsbot/pkg/botapi/fake"
	"vkteamsbot/pkg/dispatch"
	"vkteamsbot/pkg/metrics"
	"vkteamsbot/pkg/ratelimit"
	"vkteamsbot/pkg/scheduler"
	"vkteamsbot/pkg/storage/sqlstore"
)

func main() {
	var dataDir string
	var mock bool
	var debug bool
	flag.StringVar(&dataDir, "data-dir", "", "Directory for config, task store, and database (required)")
	flag.BoolVar(&mock, "mock", true, "Run against the in-memory botapi/fake implementation")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -data-dir must be specified")
		os.Exit(coreerr.ExitUsage)
	}
	if !mock {
		fmt.Fprintln(os.Stderr, "Error: no concrete botapi.API transport is linked into this binary; rerun with -mock or build a deployment that wires one in")
		os.Exit(coreerr.ExitUsage)
	}

	logx.SetDebug(debug)
	logger := logx.NewLogger("vkteamsbotd")

	if err := run(dataDir, logger); err != nil {
		log.Printf("fatal: %v", err)
		if kind, ok := coreerr.KindOf(err); ok {
			os.Exit(kind.ExitCode())
		}
		os.Exit(coreerr.ExitSoftware)
	}
}

func run(dataDir string, logger *logx.Logger) error {
	cfg, err := config.LoadConfig(dataDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := metrics.NewRegistry()

	dbPath := filepath.Join(dataDir, "vkteamsbot.db")
	store, err := sqlstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	api := fake.New()

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:              cfg.RateLimit.DefaultCapacity,
		RefillPerTick:         cfg.RateLimit.DefaultRefillPerTick,
		TickPeriod:            cfg.RateLimit.DefaultTickPeriod,
		MaxBuckets:            cfg.RateLimit.MaxBuckets,
		IdleTimeout:           cfg.RateLimit.IdleTimeout,
		HighPriorityThreshold: cfg.RateLimit.HighPriorityThresh,
		PriorityPoolCapacity:  cfg.RateLimit.PriorityPoolSize,
		Metrics:               reg,
	})
	defer limiter.Shutdown()

	taskStore, err := scheduler.NewStore(dataDir, nil, reg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	rateLimitedAPI := rateLimitedBotAPI{api: api, limiter: limiter}

	engine := scheduler.NewEngine(taskStore, rateLimitedAPI, scheduler.EngineConfig{
		MaxConcurrentTasks:  cfg.Scheduler.MaxConcurrentTasks,
		DefaultTaskTimeout:  cfg.Scheduler.DefaultTaskTimeout,
		ShutdownGracePeriod: cfg.Scheduler.ShutdownGracePeriod,
	}, reg, nil)
	engine.Start()
	defer engine.Shutdown()

	dispatcher := dispatch.New(api, store, nil, dispatch.Config{
		PollTimeout:   cfg.Dispatcher.PollTimeout,
		BatchSize:     cfg.Dispatcher.BatchSize,
		MaxParallel:   cfg.Dispatcher.MaxParallel,
		StrictCursor:  cfg.Dispatcher.StrictCursor,
		ShutdownGrace: cfg.Dispatcher.ShutdownGrace,
	}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.SeedCursor(ctx); err != nil {
		logger.Warn("failed to seed event cursor, starting from zero: %v", err)
	}
	dispatcher.Start(ctx)
	defer dispatcher.Shutdown()

	logger.Info("vkteamsbotd started (data_dir=%s)", dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal %v, shutting down", sig)

	return nil
}

// rateLimitedBotAPI wraps a botapi.API so every Send* call first passes the
// per-chat rate limiter; GetEvents and the cursor accessors pass straight
// through. In this binary the scheduler engine is its only user: the
// dispatcher is given the unwrapped API and runs with no handler, so it
// sends nothing.
type rateLimitedBotAPI struct {
	api     botapi.API
	limiter *ratelimit.Limiter
}

func (r rateLimitedBotAPI) SendText(ctx context.Context, chatID botapi.ChatID, text string) error {
	if !r.limiter.Check(ratelimit.ChatID(chatID)) {
		return coreerr.New(coreerr.Timeout, "rate limited")
	}
	return r.api.SendText(ctx, chatID, text)
}

func (r rateLimitedBotAPI) SendFile(ctx context.Context, chatID botapi.ChatID, filePath string) error {
	if !r.limiter.Check(ratelimit.ChatID(chatID)) {
		return coreerr.New(coreerr.Timeout, "rate limited")
	}
	return r.api.SendFile(ctx, chatID, filePath)
}

func (r rateLimitedBotAPI) SendVoice(ctx context.Context, chatID botapi.ChatID, filePath string) error {
	if !r.limiter.Check(ratelimit.ChatID(chatID)) {
		return coreerr.New(coreerr.Timeout, "rate limited")
	}
	return r.api.SendVoice(ctx, chatID, filePath)
}

func (r rateLimitedBotAPI) SendAction(ctx context.Context, chatID botapi.ChatID, action botapi.Action) error {
	if !r.limiter.Check(ratelimit.ChatID(chatID)) {
		return coreerr.New(coreerr.Timeout, "rate limited")
	}
	return r.api.SendAction(ctx, chatID, action)
}

func (r rateLimitedBotAPI) GetEvents(ctx context.Context, lastEventID botapi.EventID, pollTimeout time.Duration) (botapi.GetEventsResult, error) {
	return r.api.GetEvents(ctx, lastEventID, pollTimeout)
}

func (r rateLimitedBotAPI) GetLastEventID(ctx context.Context) (botapi.EventID, error) {
	return r.api.GetLastEventID(ctx)
}

func (r rateLimitedBotAPI) SetLastEventID(ctx context.Context, id botapi.EventID) error {
	return r.api.SetLastEventID(ctx, id)
}

var _ botapi.API = rateLimitedBotAPI{}
