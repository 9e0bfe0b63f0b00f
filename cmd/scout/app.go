package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/manthysbr/techscout/internal/adapters/duckdb"
	"github.com/manthysbr/techscout/internal/adapters/otelexport"
	"github.com/manthysbr/techscout/internal/adapters/papers"
	"github.com/manthysbr/techscout/internal/adapters/providers"
	appconfig "github.com/manthysbr/techscout/internal/config"
	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/services"
)

// app holds the wired services shared by every command.
type app struct {
	logger   *slog.Logger
	config   *domain.AppConfig
	repo     *duckdb.Repository
	catalog  *duckdb.InfluencerCatalog
	settings *appconfig.SettingsStore
	bus      *services.EventBus
	tracer   *services.TraceCollector
	runs     *services.RunService
	exporter *otelexport.Exporter // nil unless telemetry is enabled
}

// loadConfig reads the config file and applies the --db override.
func loadConfig(flags *rootFlags) (*domain.AppConfig, error) {
	cfg, err := appconfig.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.Storage.DBPath = flags.dbPath
	}
	if flags.influencersPath != "" {
		cfg.Storage.InfluencersPath = flags.influencersPath
	}
	if err := appconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger; json selects the server format.
func newLogger(w io.Writer, cfg *domain.AppConfig, json bool) (*slog.Logger, error) {
	level, err := appconfig.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newApp(ctx context.Context, logger *slog.Logger, cfg *domain.AppConfig) (_ *app, err error) {
	repo, err := duckdb.NewRepository(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	defer func() {
		if err != nil {
			repo.Close()
		}
	}()

	secretKey, err := appconfig.NewSecretKey("")
	if err != nil {
		return nil, fmt.Errorf("failed to init secret key: %w", err)
	}

	// Settings store: persisted agent and provider settings win over the file
	settingsStore, err := appconfig.NewSettingsStore(logger, repo, secretKey, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init settings store: %w", err)
	}
	cfg = settingsStore.GetConfig()

	oracle, err := providers.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build oracle from config: %w", err)
	}

	catalog, err := duckdb.OpenInfluencerCatalog(cfg.Storage.InfluencersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open influencer catalog: %w", err)
	}
	defer func() {
		if err != nil {
			catalog.Close()
		}
	}()

	a := &app{logger: logger, config: cfg, repo: repo, catalog: catalog, settings: settingsStore}

	var exporter services.TraceExporter
	if cfg.Telemetry.Enabled {
		a.exporter, err = otelexport.New(ctx, otelexport.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init trace exporter: %w", err)
		}
		exporter = a.exporter
		logger.Info("otlp trace export enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	a.bus = services.NewEventBus(logger)
	a.tracer = services.NewTraceCollector(logger, a.bus, repo, exporter)

	toolRegistry := domain.NewToolRegistry()
	papersClient := papers.NewClient(logger, cfg.Papers)
	if err := services.RegisterScoutTools(toolRegistry, papersClient, catalog); err != nil {
		return nil, err
	}
	if err := toolRegistry.Register(services.NewReadPageTool()); err != nil {
		return nil, err
	}

	agent := services.NewReasoningAgent(logger, oracle, toolRegistry, a.tracer, cfg.Agent)
	workflow, err := services.NewHandoffWorkflow(logger, oracle, toolRegistry, a.tracer, cfg.Agent, nil)
	if err != nil {
		return nil, err
	}

	// Conversation Store - LRU cache backed by DuckDB
	convStore, err := services.NewConversationStore(repo, 64)
	if err != nil {
		return nil, err
	}

	a.runs = services.NewRunService(logger, agent, workflow, convStore, repo, a.bus, cfg.Agent.MaxConcurrentRuns)

	// Hot-reload: when settings change, rebuild the oracle and swap it in
	settingsStore.OnChange(func(next *domain.AppConfig) {
		o, err := providers.Build(next)
		if err != nil {
			logger.Error("failed to rebuild oracle on settings change", "error", err)
			return
		}
		a.runs.SetOracle(o)
		a.runs.SetAgentDefaults(next.Agent)
		logger.Info("oracle hot-reloaded from settings change", "mode", next.Providers.LLM.Mode, "model", next.Providers.LLM.DefaultModel)
	})

	logger.Debug("app wired", "db", cfg.Storage.DBPath, "tools", toolRegistry.Names())
	return a, nil
}

// Close waits for background runs, flushes traces and releases storage.
func (a *app) Close() error {
	a.runs.Wait()
	a.tracer.Flush()

	var errs []error
	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.exporter.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, a.catalog.Close(), a.repo.Close())
	return errors.Join(errs...)
}
