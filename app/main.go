package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/newswright/app/api"
	"github.com/lysyi3m/newswright/app/cfg"
	"github.com/lysyi3m/newswright/app/database"
	"github.com/lysyi3m/newswright/app/delivery"
	"github.com/lysyi3m/newswright/app/feed"
	"github.com/lysyi3m/newswright/app/image"
	"github.com/lysyi3m/newswright/app/pipeline"
	"github.com/lysyi3m/newswright/app/rewrite"
	"github.com/lysyi3m/newswright/app/scheduler"
	"github.com/lysyi3m/newswright/app/scrape"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	setupLogging(appCfg.Debug)
	slog.Info("Starting NewsWright", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	feeds, err := feed.LoadFeeds(appCfg.FeedsFile)
	if err != nil {
		slog.Error("Failed to load feeds", "file", appCfg.FeedsFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Feeds loaded", "total", len(feeds), "enabled", len(feed.EnabledFeeds(feeds)))

	httpClient := &http.Client{
		Timeout: time.Duration(appCfg.HTTPTimeout) * time.Second,
	}

	store := database.NewArticleRepository(db)
	fetcher := feed.NewFetcher(httpClient, appCfg.UserAgent)
	pages := scrape.NewPageFetcher(httpClient, appCfg.UserAgent)
	textExtractor := scrape.NewTextExtractor()
	selector := image.NewSelector(image.DefaultMinWidth, image.DefaultMinHeight)
	llmClient := rewrite.NewOpenAIClient(appCfg.LLMBaseURL, appCfg.LLMAPIKey, httpClient)
	rewriter := rewrite.NewInvoker(llmClient, rewrite.Options{
		Model:         appCfg.LLMModel,
		Temperature:   appCfg.Temperature,
		MaxTokens:     appCfg.MaxTokens,
		MaxPostLength: appCfg.MaxPostLength,
		PromptExtra:   appCfg.RewritePrompt,
	})
	dispatcher := delivery.NewDispatcher(httpClient, appCfg.WebhookURL, appCfg.FallbackDir, appCfg.UserAgent)

	orchestrator := pipeline.NewOrchestrator(feeds, fetcher, store, pages,
		textExtractor, selector, rewriter, dispatcher, pipeline.Options{
			WorkerCount:         appCfg.WorkerCount,
			BatchSize:           appCfg.BatchSize,
			FetchDelay:          time.Duration(appCfg.FetchDelay) * time.Second,
			MaxDeliveryAttempts: appCfg.MaxDeliveryAttempts,
		})

	if appCfg.Once {
		runOnce(orchestrator)
		return
	}

	runContinuous(appCfg, orchestrator, store, len(feeds))
}

func runOnce(orchestrator *pipeline.Orchestrator) {
	stats, err := orchestrator.RunCycle(context.Background())
	if err != nil {
		slog.Error("Cycle aborted", "error", err)
		os.Exit(1)
	}

	slog.Info("Single run finished",
		"discovered", stats.Discovered,
		"resolved", stats.Resolved,
		"rewritten", stats.Rewritten,
		"delivered", stats.Delivered,
		"failed", stats.Failed)
}

func runContinuous(appCfg *cfg.Cfg, orchestrator *pipeline.Orchestrator,
	store database.ArticleRepository, feedCount int) {
	interval := time.Duration(appCfg.CycleInterval) * time.Second

	slog.Info("Starting scheduler", "interval", interval)
	sched := scheduler.NewScheduler(orchestrator, interval)
	sched.Start()
	defer sched.Stop()

	handler := api.NewHandler(store, feedCount)
	server := api.NewServer(handler)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer; the in-flight cycle completes first.
	slog.Info("Shutdown complete")
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
