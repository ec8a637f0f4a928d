// Package app assembles the discovery service from configuration. Both
// binaries share it: cmd/main.go serves HTTP and gRPC, cmd/mcp serves MCP
// over stdio.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"newface/discovery-service/internal/config"
	"newface/discovery-service/internal/db"
	"newface/discovery-service/internal/discovery"
	"newface/discovery-service/internal/events"
	"newface/discovery-service/internal/filter"
	"newface/discovery-service/internal/llm"
	"newface/discovery-service/internal/media"
	"newface/discovery-service/internal/pipeline"
	"newface/discovery-service/internal/scoring"
	"newface/discovery-service/internal/scraper"
	"newface/discovery-service/internal/store"
)

// App holds the wired services and the resources they own.
type App struct {
	Store     *store.Store
	Engine    *scoring.Engine
	Discovery *discovery.Service
	Pipeline  *pipeline.Service
	Media     *media.FSStore

	closers []func()
}

// New connects the datastore (and Redis when configured), migrates the
// schema and wires every service.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	conn, dialect, err := a.openDatastore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Store = store.New(conn, dialect)
	if err := a.Store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var pub events.Publisher = events.Nop{}
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		pub = events.NewRedisPublisher(rdb)
		log.Info("redis connected, publishing events")
	} else {
		log.Warn("REDIS_URL not set, progress events are dropped")
	}

	t := cfg.Tuning
	fetcher, err := media.NewFetcher(t.ImageTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("media fetcher: %w", err)
	}
	a.Media, err = media.NewFSStore(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("media store: %w", err)
	}

	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY not set, every profile gets the default analysis")
	}
	gen := llm.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, llm.WithLogger(log))
	a.Engine = scoring.NewEngine(gen, fetcher, log, scoring.WithBatching(t.BatchSize, t.BatchDelay))

	if cfg.ApifyToken == "" {
		log.Warn("APIFY_API_TOKEN not set, discovery jobs will fail")
	}
	sc := scraper.New(cfg.ApifyToken, scraper.WithWait(t.ScrapeWait), scraper.WithLogger(log))

	settings := Settings(t)
	orch := discovery.NewOrchestrator(a.Store, sc, a.Engine,
		media.NewProxy(fetcher, a.Media, log),
		filter.New(t.AgencyKeywords, t.CityKeywords),
		pub, log, settings)
	a.Discovery = discovery.NewService(a.Store, orch, log, settings)
	a.Pipeline = pipeline.NewService(a.Store, pub, log)

	ok = true
	return a, nil
}

// Settings maps the YAML tunables onto orchestrator settings.
func Settings(t config.Tuning) discovery.Settings {
	return discovery.Settings{
		AnalysisFraction: t.AnalysisFraction,
		AnalysisMin:      t.AnalysisMin,
		AnalysisMax:      t.AnalysisMax,
		AnalysisWorkers:  t.AnalysisWorkers,
		DefaultLimit:     t.DefaultLimit,
		PerCallCap:       t.PerCallCap,
		CandidateDelay:   t.CandidateDelay,
	}
}

func (a *App) openDatastore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, store.Dialect, error) {
	if cfg.Datastore == config.DatastoreSQLite {
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("sqlite: %w", err)
		}
		a.closers = append(a.closers, func() { conn.Close() })
		log.Info("sqlite opened", "path", cfg.SQLitePath)
		return conn, store.SQLite, nil
	}

	conn, pool, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close, func() { conn.Close() })
	log.Info("postgres connected")
	return conn, store.Postgres, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
