package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nugget/grantdesk/internal/agent"
	"github.com/nugget/grantdesk/internal/agents"
	"github.com/nugget/grantdesk/internal/config"
	"github.com/nugget/grantdesk/internal/connwatch"
	"github.com/nugget/grantdesk/internal/crm"
	"github.com/nugget/grantdesk/internal/docstore"
	"github.com/nugget/grantdesk/internal/events"
	"github.com/nugget/grantdesk/internal/extract"
	"github.com/nugget/grantdesk/internal/facts"
	"github.com/nugget/grantdesk/internal/fetch"
	"github.com/nugget/grantdesk/internal/llm"
	"github.com/nugget/grantdesk/internal/memory"
	"github.com/nugget/grantdesk/internal/router"
	"github.com/nugget/grantdesk/internal/tools"
	"github.com/nugget/grantdesk/internal/usage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app holds the components shared by serve and ask.
type app struct {
	bus    *events.Bus
	store  *memory.Store
	usage  *usage.Store
	router *router.Router
	loop   *agent.Loop

	// checks are the dependency health checks run by serve.
	checks  map[string]connwatch.CheckFunc
	closers []func() error
}

// watch starts a health watcher for every checked dependency.
func (a *app) watch(ctx context.Context, logger *slog.Logger) *connwatch.Manager {
	m := connwatch.NewManager(a.bus, logger)
	for name, check := range a.checks {
		m.Watch(ctx, name, check, connwatch.BackoffConfig{})
	}
	return m
}

// Close releases databases and connections in reverse open order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newApp opens the stores and builds the agent loop from cfg. Optional
// integrations that are not configured leave their tools unregistered.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	if cfg.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is required")
	}

	a := &app{bus: events.New(), checks: make(map[string]connwatch.CheckFunc)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// --- Data directory ---
	// The durable conversation tier, notes, and usage records live here.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Conversation store ---
	dbPath := filepath.Join(cfg.DataDir, "grantdesk.db")
	durable, err := memory.NewSQLStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open conversation database %s: %w", dbPath, err)
	}
	a.closers = append(a.closers, durable.Close)
	a.checks["durable"] = durable.DB().PingContext
	logger.Info("conversation database opened", "path", dbPath)

	var cache memory.Cache
	switch cfg.Cache.Backend {
	case "redis":
		rc := memory.NewRedisCache(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		a.closers = append(a.closers, rc.Close)
		if err := rc.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Cache.Addr, err)
		}
		cache = rc
		a.checks["cache"] = rc.Ping
		logger.Info("redis cache connected", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL())
	default:
		cache = memory.NewMemoryCache()
		logger.Warn("using in-process conversation cache; sessions do not survive restarts")
	}
	a.store = memory.NewStore(cache, durable, cfg.Cache.TTL(), a.bus, logger)

	// --- Agent notes ---
	// Shares the conversation database connection.
	factStore, err := facts.NewStore(durable.DB())
	if err != nil {
		return nil, fmt.Errorf("open fact store: %w", err)
	}

	// --- Usage records ---
	usagePath := filepath.Join(cfg.DataDir, "usage.db")
	a.usage, err = usage.NewStore(usagePath)
	if err != nil {
		return nil, fmt.Errorf("open usage database %s: %w", usagePath, err)
	}
	a.closers = append(a.closers, a.usage.Close)

	// --- Tool collaborators ---
	deps := tools.Deps{
		Fetcher:   fetch.New(),
		Facts:     facts.NewTools(factStore),
		Files:     a.store,
		Extractor: extract.RegexExtractor{},
		OutputDir: cfg.DocStore.OutputDir,
	}
	if cfg.CRM.Configured() {
		deps.CRM = crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.Token, logger)
		logger.Info("crm configured", "url", cfg.CRM.BaseURL)
	} else {
		logger.Warn("crm not configured; company tools disabled")
	}
	if cfg.DocStore.Configured() {
		docs, err := docstore.New(cfg.DocStore.URL, cfg.DocStore.Username, cfg.DocStore.Password, logger)
		if err != nil {
			return nil, fmt.Errorf("document store: %w", err)
		}
		deps.Docs = docs
		a.checks["docstore"] = func(ctx context.Context) error {
			_, err := docs.Stat(ctx, "/")
			return err
		}
		logger.Info("document store configured", "url", cfg.DocStore.URL, "output_dir", cfg.DocStore.OutputDir)
	} else {
		logger.Warn("document store not configured; document tools disabled")
	}

	registry, err := tools.NewRegistry(tools.Config{
		Timeout: cfg.Tools.Timeout(),
		Subsets: agents.ToolSubsets(),
		Bus:     a.bus,
		Logger:  logger,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	// --- Query router ---
	a.router = router.NewRouter(logger, router.Config{
		FastModel:            cfg.Models.Fast,
		QualityModel:         cfg.Models.Quality,
		ReasoningBudget:      cfg.Router.ReasoningBudget,
		SimpleMaxIterations:  cfg.Router.SimpleMaxIterations,
		ComplexMaxIterations: cfg.Router.ComplexMaxIterations,
		MaxAuditLog:          cfg.Router.MaxAuditLog,
		AgentIndicators:      agents.Indicators(),
	})

	// --- Agent loop ---
	a.loop = agent.NewLoop(agent.Config{
		Provider:         llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, logger),
		Router:           a.router,
		Tools:            registry,
		Store:            a.store,
		Usage:            a.usage,
		Titler:           llm.NewSummaryTitler(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Models.Title, logger),
		Bus:              a.bus,
		Logger:           logger,
		MaxTokens:        cfg.Anthropic.MaxTokens,
		ForwardReasoning: cfg.Anthropic.ForwardReasoning,
		Pricing:          cfg.Pricing,
	})

	logger.Info("agent loop ready",
		"fast_model", cfg.Models.Fast,
		"quality_model", cfg.Models.Quality,
		"agents", len(agents.All()),
	)
	return a, nil
}
