package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llmstxt/internal/assemble"
	"llmstxt/internal/config"
	server "llmstxt/internal/http"
	"llmstxt/internal/migrate"
	"llmstxt/internal/queue"
	"llmstxt/internal/scheduler"
	"llmstxt/internal/store"
	"llmstxt/internal/worker"
)

const (
	exitDBUnreachable = 1
	exitBadConfig     = 2
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitBadConfig)
	}

	// Run migrations on a short-lived connection, retrying while the
	// database comes up.
	if err := withRetries(5, 2*time.Second, func() error {
		return migrate.Run(cfg.Database.DSN)
	}); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(exitDBUnreachable)
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		logger.Error("open db failed", "error", err)
		os.Exit(exitDBUnreachable)
	}
	if err := withRetries(5, 2*time.Second, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return st.DB.PingContext(ctx)
	}); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(exitDBUnreachable)
	}

	q := queue.New(st.DB, cfg.Worker.MaxAttempts)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *role {
	case "api":
		runAPI(rootCtx, cfg, st, q, logger)
	case "worker":
		runWorker(rootCtx, cfg, st, q, logger)
	case "all":
		go runWorker(rootCtx, cfg, st, q, logger)
		runAPI(rootCtx, cfg, st, q, logger)
	default:
		fmt.Fprintf(os.Stderr, "invalid role: %s (expected api|worker|all)\n", *role)
		os.Exit(exitBadConfig)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, st *store.Store, q *queue.Queue, logger *slog.Logger) {
	s := server.NewServer(cfg, st, q, logger)
	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()
	if err := s.Listen(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(exitDBUnreachable)
	}
}

func runWorker(ctx context.Context, cfg *config.Config, st *store.Store, q *queue.Queue, logger *slog.Logger) {
	w := &worker.Worker{
		Store:     st,
		Queue:     q,
		Cfg:       cfg,
		Assembler: newAssembler(cfg, logger),
		Logger:    logger,
	}

	// The cron loop runs in worker processes only.
	if cfg.Scheduler.Enabled {
		sched := &scheduler.Scheduler{
			Store:    st,
			Queue:    q,
			Logger:   logger,
			Tick:     time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
			MaxPages: cfg.Crawler.MaxPagesDefault,
			MaxDepth: cfg.Crawler.MaxDepthDefault,
		}
		go sched.Run(ctx)
	}

	w.Run(ctx)
}

// newAssembler picks the LLM-planned assembler when an API key is
// configured, the deterministic template otherwise.
func newAssembler(cfg *config.Config, logger *slog.Logger) assemble.Assembler {
	if cfg.LLM.APIKey == "" {
		return assemble.TemplateAssembler{}
	}
	return &assemble.LLMAssembler{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Logger:  logger,
	}
}

func withRetries(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(delay)
	}
	return err
}
