package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prosescan/prosescan/internal/config"
	"github.com/prosescan/prosescan/internal/logging"
	"github.com/prosescan/prosescan/internal/metrics"
	"github.com/prosescan/prosescan/internal/runtime"
	"github.com/prosescan/prosescan/internal/runtime/cache"
	"github.com/prosescan/prosescan/internal/runtime/durable"
	"github.com/prosescan/prosescan/internal/runtime/engine"
	"github.com/prosescan/prosescan/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "PROSESCAN", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	cacheTTL := time.Duration(cfg.Server.Cache.TTLSeconds) * time.Second
	store := cache.NewMemory(cfg.Server.Cache.Capacity, cacheTTL, cfg.Server.Cache.Shards)

	durableStore := buildDurableStore(logger.With(slog.String("agent", "durable_factory")), cfg.Server.Durable)

	scanEngine, err := buildEngine(logger, cfg.Server.Engine.RulesetFile)
	if err != nil {
		log.Fatalf("failed to build rule engine: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	var loadRuleset func(ctx context.Context) (engine.Ruleset, error)
	if cfg.Server.Engine.RulesetFile != "" {
		rulesetFile := cfg.Server.Engine.RulesetFile
		loadRuleset = func(context.Context) (engine.Ruleset, error) {
			return config.LoadRuleset(rulesetFile)
		}
	}

	orch := runtime.New(logger, runtime.Options{
		Store:          store,
		Engine:         scanEngine,
		Durable:        durableStore,
		CacheTTL:       cacheTTL,
		CacheCapacity:  cfg.Server.Cache.Capacity,
		CacheShards:    cfg.Server.Cache.Shards,
		CacheNamespace: cfg.Server.Cache.Namespace,
		FillTimeout:    time.Duration(cfg.Server.Engine.FillTimeoutMs) * time.Millisecond,
		RulesetSource:  cfg.Server.Engine.RulesetFile,
		LoadRuleset:    loadRuleset,
		Metrics:        metricsRecorder,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := orch.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	if cfg.Server.Engine.RulesetFile != "" {
		watcher, err := config.WatchRuleset(ctx, cfg.Server.Engine.RulesetFile, func(rs engine.Ruleset) {
			if err := orch.ApplyRuleset(rs); err != nil {
				logger.Error("ruleset apply failed", slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("ruleset watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("ruleset watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewOrchestratorHandler(orch)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", handler)

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildDurableStore returns nil when no backend is configured or when the
// configured backend cannot be reached; the orchestrator treats a nil store as
// memory-only operation.
func buildDurableStore(logger *slog.Logger, cfg config.DurableConfig) durable.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "none":
		if logger != nil {
			logger.Info("durable store disabled")
		}
		return nil
	case "valkey":
		store, err := durable.NewValkey(durable.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: durable.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("valkey durable store initialization failed", slog.Any("error", err))
				logger.Info("continuing without durable store")
			}
			return nil
		}
		if logger != nil {
			logger.Info("using valkey durable store", slog.String("address", cfg.Valkey.Address))
		}
		return store
	default:
		if logger != nil {
			logger.Warn("unsupported durable backend, continuing without durable store", slog.String("backend", cfg.Backend))
		}
		return nil
	}
}

// buildEngine loads the configured ruleset file, or starts with an empty
// engine when no file is configured so scans return no highlights until a
// ruleset arrives via reload.
func buildEngine(logger *slog.Logger, rulesetFile string) (engine.Engine, error) {
	if rulesetFile == "" {
		if logger != nil {
			logger.Warn("no ruleset file configured, starting with empty ruleset")
		}
		return engine.NewRulesetEngine(engine.Ruleset{})
	}
	ruleset, err := config.LoadRuleset(rulesetFile)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewRulesetEngine(ruleset)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("ruleset loaded",
			slog.String("file", rulesetFile),
			slog.String("version", eng.CurrentVersion()),
			slog.Int("rules", len(ruleset.Rules)))
	}
	return eng, nil
}
