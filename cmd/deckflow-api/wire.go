package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/PabloGalante/deckflow-agent/internal/adapters/dbschema"
	"github.com/PabloGalante/deckflow-agent/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/deckflow-agent/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/deckflow-agent/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/deckflow-agent/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/deckflow-agent/internal/app/agentflow"
	"github.com/PabloGalante/deckflow-agent/internal/app/jobs"
	"github.com/PabloGalante/deckflow-agent/internal/app/pipeline"
	"github.com/PabloGalante/deckflow-agent/internal/app/tools"
	"github.com/PabloGalante/deckflow-agent/internal/config"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

// application holds the wired services of one process.
type application struct {
	cfg     *config.Config
	stream  domain.EventStream
	jobs    *jobs.Service
	closers []func() error
}

func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func buildApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	log := observability.WithFields("mode", string(cfg.Mode), "stream_backend", cfg.StreamBackend)
	a := &application{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	catalog, err := agentflow.LoadCatalogFile(cfg.AgentsFile)
	if err != nil {
		return nil, fmt.Errorf("load agent catalog: %w", err)
	}
	log.Info("agent catalog loaded", "agents", catalog.Names(), "file", cfg.AgentsFile)

	model, err := newModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var fs *firestorestore.Store
	if cfg.StreamBackend == "firestore" || cfg.JobBackend == "firestore" {
		log.Info("using firestore", "project", cfg.GCPProjectID)
		fs, err = firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("init firestore: %w", err)
		}
		a.closers = append(a.closers, fs.Close)
	}

	switch cfg.StreamBackend {
	case "firestore":
		a.stream = fs
	case "sqlite":
		s, err := sqlitestore.NewEventStream(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite event stream: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.stream = s
	default:
		a.stream = memstore.NewEventStream()
	}
	log.Info("event stream ready", "backend", cfg.StreamBackend)

	var jobStore domain.JobStore = memstore.NewJobStore()
	if cfg.JobBackend == "firestore" {
		jobStore = fs
	}

	registry := tools.NewRegistry()
	var fetcher domain.SchemaFetcher = dbschema.Static(nil)
	if cfg.AnalyticsDB != "" {
		db, err := dbschema.OpenAnalyticsDB(cfg.AnalyticsDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		fetcher = dbschema.NewSQLiteFetcher(db)
		registry.Register(tools.NewSQLQueryTool(db, 0))
	}
	schemaText, err := fetchSchemaText(ctx, fetcher)
	if err != nil {
		return nil, err
	}

	policy, err := agentflow.ParseDrainPolicy(cfg.DrainPolicy)
	if err != nil {
		return nil, err
	}
	runner := agentflow.NewRunner(model, registry, cfg.ModelName)
	invoker := agentflow.NewInvoker(runner, memstore.NewSessionStore(), policy)

	visualizer, err := catalog.Get(agentflow.AgentVisualizer)
	if err == nil {
		registry.Register(agentflow.NewAgentTool(agentflow.VisualizerToolName, visualizer, invoker))
	}
	log.Info("tools registered", "tools", registry.Names())

	pcfg := pipeline.DefaultConfig()
	pcfg.SchemaText = schemaText
	orch, err := pipeline.NewOrchestrator(invoker, catalog, a.stream, jobStore, pcfg)
	if err != nil {
		return nil, err
	}

	a.jobs = jobs.NewService(orch, a.stream, jobStore)
	return a, nil
}

func newModel(ctx context.Context, cfg *config.Config) (domain.ModelClient, error) {
	if cfg.UseMockLLM {
		observability.Logger().Info("using mock model")
		return llm.NewMockModel(), nil
	}

	observability.Logger().Info("using gemini model",
		"model", cfg.ModelName,
		"vertex", cfg.GCPProjectID != "")
	client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		Project:   cfg.GCPProjectID,
		Location:  cfg.GCPLocation,
		APIKey:    cfg.GeminiAPIKey,
		ModelName: cfg.ModelName,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return client, nil
}

func fetchSchemaText(ctx context.Context, fetcher domain.SchemaFetcher) (string, error) {
	schema, err := fetcher.FetchSchema(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch analytics schema: %w", err)
	}
	observability.Logger().Info("analytics schema loaded", "tables", len(schema))
	return dbschema.Render(schema), nil
}
