// Kestrel - Marketplace telemetry insights that degrade gracefully.

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

	"github.com/opensource-marketplace/kestrel/internal/aggregate"
	"github.com/opensource-marketplace/kestrel/internal/alert"
	"github.com/opensource-marketplace/kestrel/internal/api"
	"github.com/opensource-marketplace/kestrel/internal/bus"
	"github.com/opensource-marketplace/kestrel/internal/cache"
	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/feature"
	"github.com/opensource-marketplace/kestrel/internal/inference"
	"github.com/opensource-marketplace/kestrel/internal/pipeline"
	"github.com/opensource-marketplace/kestrel/internal/repository"
	"github.com/opensource-marketplace/kestrel/internal/rules"
	"github.com/opensource-marketplace/kestrel/internal/severity"
	"github.com/opensource-marketplace/kestrel/internal/stream"
	"github.com/opensource-marketplace/kestrel/internal/validator"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Remote inference endpoints come from the environment; a tier without
	// an endpoint simply never enters the chain and the pipeline degrades
	// to the rule-based fallback.
	if v := os.Getenv("KESTREL_PRIMARY_ENDPOINT"); v != "" {
		cfg.Inference.Primary.Enabled = true
		cfg.Inference.Primary.Endpoint = v
		cfg.Inference.Primary.APIKey = os.Getenv("KESTREL_PRIMARY_API_KEY")
	}
	if v := os.Getenv("KESTREL_SECONDARY_ENDPOINT"); v != "" {
		cfg.Inference.Secondary.Enabled = true
		cfg.Inference.Secondary.Endpoint = v
		cfg.Inference.Secondary.APIKey = os.Getenv("KESTREL_SECONDARY_API_KEY")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"bus", cfg.Bus.Type,
		"stream", cfg.Stream.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := repository.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize Alert Bus
	busImpl, err := bus.New(cfg.Bus)
	if err != nil {
		slog.Error("failed to initialize alert bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("alert bus initialized", "type", cfg.Bus.Type)

	// Initialize Event Stream
	streamImpl, err := stream.New(cfg.Stream)
	if err != nil {
		slog.Error("failed to initialize event stream", "error", err)
		os.Exit(1)
	}
	defer streamImpl.Close()
	slog.Info("event stream initialized", "type", cfg.Stream.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := loadRulesFromStore(ctx, store, engine); err != nil {
		slog.Error("failed to load fallback rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Inference Engine. Tiers are tried in order; the rule-based
	// fallback always closes the chain so a validated event never goes
	// without an insight.
	var tiers []inference.ConfiguredTier
	if cfg.Inference.Primary.Enabled && cfg.Inference.Primary.Endpoint != "" {
		tiers = append(tiers, inference.ConfiguredTier{
			Tier:    inference.NewPrimaryTier(cfg.Inference.Primary),
			Retry:   cfg.Inference.Primary.Retry,
			Timeout: cfg.Inference.Primary.Timeout,
		})
		slog.Info("primary inference tier enabled", "model", cfg.Inference.Primary.ModelID)
	}
	if cfg.Inference.Secondary.Enabled && cfg.Inference.Secondary.Endpoint != "" {
		tiers = append(tiers, inference.ConfiguredTier{
			Tier:    inference.NewSecondaryTier(cfg.Inference.Secondary),
			Retry:   cfg.Inference.Secondary.Retry,
			Timeout: cfg.Inference.Secondary.Timeout,
		})
		slog.Info("secondary inference tier enabled", "model", cfg.Inference.Secondary.ModelID)
	}
	tiers = append(tiers, inference.ConfiguredTier{
		Tier: inference.NewFallbackTier(engine, cfg.Inference.FallbackModelID),
	})
	inferEngine := inference.NewEngine(logger, tiers...)
	slog.Info("inference engine initialized", "tiers", len(tiers))

	// Initialize Alert Router
	router := alert.NewRouter(busImpl, store, cfg.Alert, logger)

	// Initialize Pipeline
	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Validator:  validator.New(),
		Aggregator: aggregate.New(),
		Engineer:   feature.New(),
		Inference:  inferEngine,
		Classifier: severity.New(cfg.Severity),
		Router:     router,
		Store:      store,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Config:     cfg.Pipeline,
		Log:        logger,
	})
	runner := pipeline.NewRunner(streamImpl, orch, cfg.Pipeline, logger)
	runner.Start()

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, cacheImpl, busImpl, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop pulling before tearing down the server so in-flight batches drain
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesFromStore loads fallback rules from the store into the engine.
// A fresh store is seeded with the built-in threshold rules so the fallback
// tier works out of the box; everything after that is managed via the API.
func loadRulesFromStore(ctx context.Context, store domain.Store, engine *rules.Engine) error {
	stored, err := store.ListFallbackRules(ctx)
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		defaults := rules.DefaultRules()
		slog.Info("seeding built-in fallback rules", "count", len(defaults))
		for _, rule := range defaults {
			if err := store.SaveFallbackRule(ctx, rule); err != nil {
				return fmt.Errorf("seeding rule %s: %w", rule.ID, err)
			}
		}
		stored = defaults
	}

	slog.Info("loading fallback rules from store", "count", len(stored))
	return engine.LoadRules(stored)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║     Marketplace Insight Pipeline          ║")
	fmt.Println("  ║      Sees the churn before it lands.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /insights/{id}          - Get insight by ID")
	fmt.Println("    GET  /entities/{type}/{id}   - Entity aggregate and insights")
	fmt.Println("    GET  /fallback-rules         - List fallback rules")
	fmt.Println("    POST /fallback-rules         - Create a fallback rule")
	fmt.Println("    POST /fallback-rules/reload  - Hot-reload rules from store")
	fmt.Println("    GET  /deadletters            - Inspect dead-letter records")
	fmt.Println("    GET  /metrics                - Prometheus metrics")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
